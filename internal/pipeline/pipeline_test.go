package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kassym/agrozone/internal/features"
	"github.com/kassym/agrozone/internal/storage"
	"github.com/kassym/agrozone/internal/suitability"
)

func window(start, end time.Time) features.Window {
	return features.Window{Start: start, End: end}
}

type mockStore struct {
	getZoneFn              func(id string) (storage.Zone, error)
	readingsInWindowFn     func(zoneID string, start, end time.Time) ([]storage.SensorReading, error)
	getRecommendationFn    func(id string) (storage.Recommendation, error)
	createRecommendationFn func(r storage.Recommendation) error
	markGeneratedFn        func(id, response, cropsJSON, dataUsedJSON string, confidence float64) error
	markFailedFn           func(id, reason string) error
	markRegeneratedFn      func(id string) error
}

func (m *mockStore) GetZone(id string) (storage.Zone, error) {
	if m.getZoneFn != nil {
		return m.getZoneFn(id)
	}
	return storage.Zone{ID: id, Name: "Test Zone"}, nil
}

func (m *mockStore) ReadingsInWindow(zoneID string, start, end time.Time) ([]storage.SensorReading, error) {
	if m.readingsInWindowFn != nil {
		return m.readingsInWindowFn(zoneID, start, end)
	}
	return nil, nil
}

func (m *mockStore) GetRecommendation(id string) (storage.Recommendation, error) {
	if m.getRecommendationFn != nil {
		return m.getRecommendationFn(id)
	}
	return storage.Recommendation{}, storage.ErrNotFound
}

func (m *mockStore) CreateRecommendation(r storage.Recommendation) error {
	if m.createRecommendationFn != nil {
		return m.createRecommendationFn(r)
	}
	return nil
}

func (m *mockStore) MarkGenerated(id, response, cropsJSON, dataUsedJSON string, confidence float64) error {
	if m.markGeneratedFn != nil {
		return m.markGeneratedFn(id, response, cropsJSON, dataUsedJSON, confidence)
	}
	return nil
}

func (m *mockStore) MarkFailed(id, reason string) error {
	if m.markFailedFn != nil {
		return m.markFailedFn(id, reason)
	}
	return nil
}

func (m *mockStore) MarkRegenerated(id string) error {
	if m.markRegeneratedFn != nil {
		return m.markRegeneratedFn(id)
	}
	return nil
}

type mockClassifier struct {
	classesFn func(ctx context.Context) ([]string, error)
	predictFn func(ctx context.Context, vector []float64) (suitability.RawPrediction, error)
}

func (m *mockClassifier) Classes(ctx context.Context) ([]string, error) {
	return m.classesFn(ctx)
}

func (m *mockClassifier) PredictProba(ctx context.Context, vector []float64) (suitability.RawPrediction, error) {
	return m.predictFn(ctx, vector)
}

func workingModel() *suitability.ModelContext {
	classifier := &mockClassifier{
		classesFn: func(context.Context) ([]string, error) {
			return []string{"Rice", "Wheat", "Maize"}, nil
		},
		predictFn: func(_ context.Context, _ []float64) (suitability.RawPrediction, error) {
			return suitability.RawPrediction{Matrix: [][]float64{{0.6, 0.3, 0.1}}}, nil
		},
	}
	return suitability.NewModelContext(classifier, nil)
}

func f(v float64) *float64 { return &v }

func fullReading(ts time.Time) storage.SensorReading {
	return storage.SensorReading{
		ID: "r-" + ts.Format("150405"), ZoneID: "z1", Timestamp: ts,
		Nitrogen: f(50), Phosphorus: f(40), Potassium: f(45),
		Temperature: f(24), Humidity: f(65), PH: f(6.5),
		Rainfall: f(120), SoilMoisture: f(30),
	}
}

func pendingRow(now time.Time) storage.Recommendation {
	return storage.Recommendation{
		ID: "rec1", ZoneID: "z1", Status: storage.StatusPending,
		WindowStart: now.Add(-24 * time.Hour), WindowEnd: now,
	}
}

func TestTriggerDefaultsWindow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var created storage.Recommendation
	store := &mockStore{
		createRecommendationFn: func(r storage.Recommendation) error {
			created = r
			return nil
		},
	}
	p := New(store, workingModel(), 3, func() time.Time { return now })

	rec, err := p.Trigger("z1", features.Window{})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if rec.ID == "" || rec.Status != storage.StatusPending {
		t.Errorf("trigger row wrong: %+v", rec)
	}
	if !created.WindowEnd.Equal(now) || !created.WindowStart.Equal(now.Add(-24*time.Hour)) {
		t.Errorf("default window wrong: %v .. %v", created.WindowStart, created.WindowEnd)
	}
}

func TestTriggerRejectsBadWindows(t *testing.T) {
	p := New(&mockStore{}, workingModel(), 3, nil)
	now := time.Now().UTC()

	var vErr *ValidationError
	if _, err := p.Trigger("z1", window(now, now.Add(-time.Hour))); !errors.As(err, &vErr) {
		t.Errorf("inverted window err = %v, want ValidationError", err)
	}
	if _, err := p.Trigger("z1", window(now.Add(-400*24*time.Hour), now)); !errors.As(err, &vErr) {
		t.Errorf("oversized window err = %v, want ValidationError", err)
	}
}

func TestTriggerUnknownZone(t *testing.T) {
	store := &mockStore{
		getZoneFn: func(string) (storage.Zone, error) {
			return storage.Zone{}, storage.ErrNotFound
		},
	}
	p := New(store, workingModel(), 3, nil)

	if _, err := p.Trigger("missing", window(time.Now().Add(-time.Hour), time.Now())); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTriggerPassesThroughPendingConflict(t *testing.T) {
	store := &mockStore{
		createRecommendationFn: func(storage.Recommendation) error {
			return storage.ErrConflict
		},
	}
	p := New(store, workingModel(), 3, nil)

	if _, err := p.Trigger("z1", window(time.Now().Add(-time.Hour), time.Now())); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestGenerateHappyPath(t *testing.T) {
	now := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC) // July: Summer
	var (
		gotResponse, gotCrops, gotUsed string
		gotConfidence                  float64
	)
	store := &mockStore{
		getRecommendationFn: func(string) (storage.Recommendation, error) {
			return pendingRow(now), nil
		},
		readingsInWindowFn: func(string, time.Time, time.Time) ([]storage.SensorReading, error) {
			return []storage.SensorReading{fullReading(now.Add(-2 * time.Hour)), fullReading(now.Add(-time.Hour))}, nil
		},
		markGeneratedFn: func(_, response, cropsJSON, dataUsedJSON string, confidence float64) error {
			gotResponse, gotCrops, gotUsed, gotConfidence = response, cropsJSON, dataUsedJSON, confidence
			return nil
		},
		markFailedFn: func(id, reason string) error {
			t.Errorf("MarkFailed(%s, %q) on the happy path", id, reason)
			return nil
		},
	}
	p := New(store, workingModel(), 2, func() time.Time { return now })

	if err := p.Generate(context.Background(), "rec1"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotConfidence != 0.6 {
		t.Errorf("confidence = %v, want 0.6", gotConfidence)
	}
	if !strings.Contains(gotResponse, "Rice") || !strings.Contains(gotResponse, "60.0% suitability") {
		t.Errorf("report missing the top crop: %q", gotResponse)
	}
	if strings.Contains(gotResponse, "Maize") {
		t.Errorf("report should be capped at k=2 crops: %q", gotResponse)
	}

	var crops []suitability.CropSuitability
	if err := json.Unmarshal([]byte(gotCrops), &crops); err != nil {
		t.Fatalf("crops JSON invalid: %v", err)
	}
	if len(crops) != 2 || crops[0].CropName != "Rice" || crops[0].Rank != 1 {
		t.Errorf("crops JSON wrong: %+v", crops)
	}

	var used map[string]any
	if err := json.Unmarshal([]byte(gotUsed), &used); err != nil {
		t.Fatalf("data_used JSON invalid: %v", err)
	}
	if used["season"] != "Summer" {
		t.Errorf("season = %v, want Summer", used["season"])
	}
	if used["readings"] != float64(2) {
		t.Errorf("readings = %v, want 2", used["readings"])
	}
	for _, key := range []string{"window_start", "window_end", "features", "quality", "risks"} {
		if _, ok := used[key]; !ok {
			t.Errorf("data_used missing %q", key)
		}
	}
}

func TestGenerateNonPendingRow(t *testing.T) {
	store := &mockStore{
		getRecommendationFn: func(string) (storage.Recommendation, error) {
			rec := pendingRow(time.Now())
			rec.Status = storage.StatusGenerated
			return rec, nil
		},
		markGeneratedFn: func(string, string, string, string, float64) error {
			t.Error("a non-pending row must not be touched")
			return nil
		},
	}
	p := New(store, workingModel(), 3, nil)

	if err := p.Generate(context.Background(), "rec1"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestGenerateNoData(t *testing.T) {
	now := time.Now().UTC()
	var failedReason string
	store := &mockStore{
		getRecommendationFn: func(string) (storage.Recommendation, error) {
			return pendingRow(now), nil
		},
		markFailedFn: func(_, reason string) error {
			failedReason = reason
			return nil
		},
	}
	p := New(store, workingModel(), 3, nil)

	err := p.Generate(context.Background(), "rec1")
	var noData *NoDataError
	if !errors.As(err, &noData) {
		t.Fatalf("err = %v, want NoDataError", err)
	}
	if noData.ZoneID != "z1" {
		t.Errorf("zone = %s, want z1", noData.ZoneID)
	}
	if !strings.Contains(failedReason, "no sensor data") {
		t.Errorf("failure reason = %q", failedReason)
	}
}

func TestGenerateModelUnavailable(t *testing.T) {
	now := time.Now().UTC()
	var failedReason string
	store := &mockStore{
		getRecommendationFn: func(string) (storage.Recommendation, error) {
			return pendingRow(now), nil
		},
		readingsInWindowFn: func(string, time.Time, time.Time) ([]storage.SensorReading, error) {
			return []storage.SensorReading{fullReading(now)}, nil
		},
		markFailedFn: func(_, reason string) error {
			failedReason = reason
			return nil
		},
	}
	p := New(store, suitability.NewModelContext(nil, nil), 3, nil)

	err := p.Generate(context.Background(), "rec1")
	if !errors.Is(err, suitability.ErrUnavailable) {
		t.Errorf("err = %v, want to wrap ErrUnavailable", err)
	}
	if failedReason != "suitability model unavailable" {
		t.Errorf("failure reason = %q", failedReason)
	}
}

func TestGenerateClassifierMismatch(t *testing.T) {
	now := time.Now().UTC()
	classifier := &mockClassifier{
		classesFn: func(context.Context) ([]string, error) {
			return []string{"Rice", "Wheat", "Maize"}, nil
		},
		predictFn: func(context.Context, []float64) (suitability.RawPrediction, error) {
			return suitability.RawPrediction{Matrix: [][]float64{{0.5, 0.5}}}, nil
		},
	}
	store := &mockStore{
		getRecommendationFn: func(string) (storage.Recommendation, error) {
			return pendingRow(now), nil
		},
		readingsInWindowFn: func(string, time.Time, time.Time) ([]storage.SensorReading, error) {
			return []storage.SensorReading{fullReading(now)}, nil
		},
	}
	p := New(store, suitability.NewModelContext(classifier, nil), 3, nil)

	err := p.Generate(context.Background(), "rec1")
	var mismatch *suitability.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want MismatchError", err)
	}
}

func TestGenerateLosingRaceIsAlreadyProcessed(t *testing.T) {
	now := time.Now().UTC()
	store := &mockStore{
		getRecommendationFn: func(string) (storage.Recommendation, error) {
			return pendingRow(now), nil
		},
		readingsInWindowFn: func(string, time.Time, time.Time) ([]storage.SensorReading, error) {
			return []storage.SensorReading{fullReading(now)}, nil
		},
		markGeneratedFn: func(string, string, string, string, float64) error {
			return storage.ErrConflict
		},
	}
	p := New(store, workingModel(), 3, nil)

	if err := p.Generate(context.Background(), "rec1"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestRegenerateOpensFreshPendingRow(t *testing.T) {
	now := time.Now().UTC()
	old := pendingRow(now)
	old.Status = storage.StatusGenerated

	var retired string
	var created storage.Recommendation
	store := &mockStore{
		getRecommendationFn: func(id string) (storage.Recommendation, error) {
			return old, nil
		},
		markRegeneratedFn: func(id string) error {
			retired = id
			return nil
		},
		createRecommendationFn: func(r storage.Recommendation) error {
			created = r
			return nil
		},
	}
	p := New(store, workingModel(), 3, nil)

	fresh, err := p.Regenerate("rec1")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if retired != "rec1" {
		t.Errorf("retired = %q, want rec1", retired)
	}
	if fresh.ID == old.ID || fresh.Status != storage.StatusPending {
		t.Errorf("fresh row wrong: %+v", fresh)
	}
	if !created.WindowStart.Equal(old.WindowStart) || !created.WindowEnd.Equal(old.WindowEnd) {
		t.Errorf("fresh row should reuse the old window: %+v", created)
	}
}

func TestRegenerateRequiresGeneratedState(t *testing.T) {
	store := &mockStore{
		getRecommendationFn: func(string) (storage.Recommendation, error) {
			return pendingRow(time.Now()), nil
		},
		markRegeneratedFn: func(string) error {
			return storage.ErrConflict
		},
	}
	p := New(store, workingModel(), 3, nil)

	if _, err := p.Regenerate("rec1"); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}
