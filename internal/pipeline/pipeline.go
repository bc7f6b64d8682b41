// Package pipeline runs the crop recommendation flow end to end: it loads
// the zone's sensor readings, aggregates them into a feature vector, ranks
// crop suitability through the model context, assesses data quality and
// risks, and records the outcome on the recommendation row.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kassym/agrozone/internal/chat"
	"github.com/kassym/agrozone/internal/features"
	"github.com/kassym/agrozone/internal/quality"
	"github.com/kassym/agrozone/internal/storage"
	"github.com/kassym/agrozone/internal/suitability"
)

// DefaultWindowHours is the reading window used when the caller does not
// specify one.
const DefaultWindowHours = 24

// maxWindow caps a requested reading window.
const maxWindow = 366 * 24 * time.Hour

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetZone(id string) (storage.Zone, error)
	ReadingsInWindow(zoneID string, start, end time.Time) ([]storage.SensorReading, error)
	GetRecommendation(id string) (storage.Recommendation, error)
	CreateRecommendation(r storage.Recommendation) error
	MarkGenerated(id, response, cropsJSON, dataUsedJSON string, confidence float64) error
	MarkFailed(id, reason string) error
	MarkRegenerated(id string) error
}

// Pipeline generates recommendations for zones.
type Pipeline struct {
	store Store
	model *suitability.ModelContext
	topK  int
	now   func() time.Time
}

// New creates a Pipeline. A nil clock falls back to time.Now; k <= 0 falls
// back to the default crop count.
func New(store Store, model *suitability.ModelContext, k int, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	if k <= 0 {
		k = suitability.DefaultTopK
	}
	return &Pipeline{store: store, model: model, topK: k, now: now}
}

// DefaultWindow returns the trailing default reading window ending at now.
func (p *Pipeline) DefaultWindow() features.Window {
	end := p.now().UTC()
	return features.Window{Start: end.Add(-DefaultWindowHours * time.Hour), End: end}
}

// Trigger validates the request and creates a pending recommendation row for
// the zone. Generation itself happens later, in Generate. A second pending
// request for the same zone surfaces as storage.ErrConflict.
func (p *Pipeline) Trigger(zoneID string, window features.Window) (storage.Recommendation, error) {
	if window.Start.IsZero() && window.End.IsZero() {
		window = p.DefaultWindow()
	}
	if !window.Start.Before(window.End) {
		return storage.Recommendation{}, &ValidationError{Reason: "window start must precede window end"}
	}
	if window.End.Sub(window.Start) > maxWindow {
		return storage.Recommendation{}, &ValidationError{Reason: "window exceeds one year"}
	}

	if _, err := p.store.GetZone(zoneID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Recommendation{}, err
		}
		return storage.Recommendation{}, &PersistenceError{Op: "loading zone", Err: err}
	}

	rec := storage.Recommendation{
		ID:          uuid.NewString(),
		ZoneID:      zoneID,
		WindowStart: window.Start.UTC(),
		WindowEnd:   window.End.UTC(),
		Status:      storage.StatusPending,
	}
	if err := p.store.CreateRecommendation(rec); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.Recommendation{}, err
		}
		return storage.Recommendation{}, &PersistenceError{Op: "creating recommendation", Err: err}
	}
	return rec, nil
}

// Generate runs the full pipeline for a pending recommendation row. On
// success the row transitions to generated with the rendered response; on
// any failure it transitions to failed with the reason. Invoking Generate on
// a row that already left pending returns ErrAlreadyProcessed and touches
// nothing.
func (p *Pipeline) Generate(ctx context.Context, recommendationID string) error {
	rec, err := p.store.GetRecommendation(recommendationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return &PersistenceError{Op: "loading recommendation", Err: err}
	}
	if rec.Status != storage.StatusPending {
		return ErrAlreadyProcessed
	}

	zone, err := p.store.GetZone(rec.ZoneID)
	if err != nil {
		return p.fail(rec.ID, "zone lookup failed", err)
	}

	readings, err := p.store.ReadingsInWindow(rec.ZoneID, rec.WindowStart, rec.WindowEnd)
	if err != nil {
		return p.fail(rec.ID, "reading sensor data failed", err)
	}
	if len(readings) == 0 {
		_ = p.markFailed(rec.ID, "no sensor data in the requested window")
		return &NoDataError{ZoneID: rec.ZoneID}
	}

	vec := features.Aggregate(readings)

	ranking, err := p.model.Rank(ctx, vec, p.topK)
	if err != nil {
		switch {
		case errors.Is(err, suitability.ErrUnavailable):
			_ = p.markFailed(rec.ID, "suitability model unavailable")
		default:
			_ = p.markFailed(rec.ID, "suitability ranking failed: "+err.Error())
		}
		var mismatch *suitability.MismatchError
		if errors.As(err, &mismatch) {
			return err
		}
		return &UpstreamError{Collaborator: "classifier", Err: err}
	}

	season := chat.Season(p.now().Month())
	assessment := quality.DegradeForDefaults(quality.Assess(vec), ranking.DefaultedFields)
	risks := quality.IdentifyRisks(vec, season, cropNames(ranking))

	used := dataUsed{
		WindowStart:     rec.WindowStart,
		WindowEnd:       rec.WindowEnd,
		Readings:        len(readings),
		Season:          season,
		Vector:          vec,
		DefaultedFields: ranking.DefaultedFields,
		Quality:         assessment,
		Risks:           risks,
	}
	usedJSON, err := json.Marshal(used)
	if err != nil {
		return p.fail(rec.ID, "encoding data snapshot failed", err)
	}
	cropsJSON, err := json.Marshal(ranking.Crops)
	if err != nil {
		return p.fail(rec.ID, "encoding crop list failed", err)
	}

	response := renderReport(zone, ranking, assessment, risks, season, len(readings))

	if err := p.store.MarkGenerated(rec.ID, response, string(cropsJSON), string(usedJSON), ranking.Confidence); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return ErrAlreadyProcessed
		}
		return &PersistenceError{Op: "marking generated", Err: err}
	}

	slog.Info("recommendation generated",
		"recommendation", rec.ID, "zone", rec.ZoneID,
		"crops", len(ranking.Crops), "confidence", ranking.Confidence,
		"quality", assessment.Score, "risk_level", risks.Level)
	return nil
}

// Regenerate retires a generated recommendation and opens a fresh pending
// row for the same zone and window. The old row stays in history as
// regenerated. The caller schedules generation for the returned row.
func (p *Pipeline) Regenerate(recommendationID string) (storage.Recommendation, error) {
	old, err := p.store.GetRecommendation(recommendationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Recommendation{}, err
		}
		return storage.Recommendation{}, &PersistenceError{Op: "loading recommendation", Err: err}
	}

	if err := p.store.MarkRegenerated(old.ID); err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			return storage.Recommendation{}, err
		}
		return storage.Recommendation{}, &PersistenceError{Op: "marking regenerated", Err: err}
	}

	fresh := storage.Recommendation{
		ID:          uuid.NewString(),
		ZoneID:      old.ZoneID,
		WindowStart: old.WindowStart,
		WindowEnd:   old.WindowEnd,
		Status:      storage.StatusPending,
	}
	if err := p.store.CreateRecommendation(fresh); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return storage.Recommendation{}, err
		}
		return storage.Recommendation{}, &PersistenceError{Op: "creating recommendation", Err: err}
	}
	return fresh, nil
}

// fail records the failure reason on the row and wraps the cause.
func (p *Pipeline) fail(id, reason string, cause error) error {
	_ = p.markFailed(id, reason+": "+cause.Error())
	return &PersistenceError{Op: reason, Err: cause}
}

func (p *Pipeline) markFailed(id, reason string) error {
	if err := p.store.MarkFailed(id, reason); err != nil {
		slog.Error("marking recommendation failed", "recommendation", id, "error", err)
		return err
	}
	return nil
}

func cropNames(r suitability.Ranking) []string {
	names := make([]string, 0, len(r.Crops))
	for _, c := range r.Crops {
		names = append(names, c.CropName)
	}
	return names
}

// dataUsed is the immutable snapshot of everything that fed the
// recommendation, stored as JSON on the row.
type dataUsed struct {
	WindowStart     time.Time          `json:"window_start"`
	WindowEnd       time.Time          `json:"window_end"`
	Readings        int                `json:"readings"`
	Season          string             `json:"season"`
	Vector          features.Vector    `json:"features"`
	DefaultedFields []string           `json:"defaulted_fields,omitempty"`
	Quality         quality.Assessment `json:"quality"`
	Risks           quality.RiskReport `json:"risks"`
}

// renderReport produces the human-readable recommendation text.
func renderReport(zone storage.Zone, ranking suitability.Ranking, a quality.Assessment, risks quality.RiskReport, season string, readings int) string {
	var b strings.Builder

	name := zone.Name
	if name == "" {
		name = zone.ID
	}
	fmt.Fprintf(&b, "Crop recommendation for %s (%s season, %d readings analyzed)\n\n", name, season, readings)

	b.WriteString("Recommended crops:\n")
	for _, crop := range ranking.Crops {
		fmt.Fprintf(&b, "%d. %s — %.1f%% suitability\n", crop.Rank, crop.CropName, crop.ScorePercent)
	}

	fmt.Fprintf(&b, "\nData quality: %d/100 (grade %s)\n", a.Score, a.Grade)
	for _, issue := range a.Issues {
		fmt.Fprintf(&b, "- %s\n", issue)
	}

	fmt.Fprintf(&b, "\nRisk level: %s\n", risks.Level)
	for _, r := range risks.Risks {
		fmt.Fprintf(&b, "- %s. Mitigation: %s\n", r.Description, r.Mitigation)
	}

	return b.String()
}
