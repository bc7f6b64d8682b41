// Package jobs runs the background worker over the SQLite job queue:
// recommendation generation, weather refreshes, and chat thread sweeps.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kassym/agrozone/internal/pipeline"
	"github.com/kassym/agrozone/internal/storage"
)

// Job types processed by the worker.
const (
	TypeGenerateRecommendation = "generate_recommendation"
	TypeFetchWeather           = "fetch_weather"
	TypeSweepThreads           = "sweep_threads"
)

// JobStore abstracts the job queue and zone lookups.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetZone(id string) (storage.Zone, error)
}

// Generator runs the recommendation pipeline for one row.
type Generator interface {
	Generate(ctx context.Context, recommendationID string) error
}

// WeatherRefresher refreshes the external context cache for one zone.
type WeatherRefresher interface {
	Refresh(ctx context.Context, zoneID string, lat, lon *float64) error
}

// ThreadSweeper evicts idle chat threads.
type ThreadSweeper interface {
	Sweep(ttl time.Duration) int
}

// Worker processes queued jobs.
type Worker struct {
	store     JobStore
	generator Generator
	weather   WeatherRefresher
	sweeper   ThreadSweeper
	threadTTL time.Duration
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, generator Generator, weather WeatherRefresher, sweeper ThreadSweeper, threadTTL, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		generator: generator,
		weather:   weather,
		sweeper:   sweeper,
		threadTTL: threadTTL,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{TypeGenerateRecommendation, TypeFetchWeather, TypeSweepThreads})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case TypeGenerateRecommendation:
		return w.generate(ctx, job)
	case TypeFetchWeather:
		return w.fetchWeather(ctx, job)
	case TypeSweepThreads:
		return w.sweepThreads(job)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

type generatePayload struct {
	RecommendationID string `json:"recommendation_id"`
}

func (w *Worker) generate(ctx context.Context, job *storage.Job) error {
	var payload generatePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	err := w.generator.Generate(ctx, payload.RecommendationID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrAlreadyProcessed):
		// A retry raced an earlier attempt that already finished the row.
		w.logger.Info("recommendation already processed", "recommendation", payload.RecommendationID)
		return nil
	default:
		return fmt.Errorf("generating recommendation %s: %w", payload.RecommendationID, err)
	}
}

type weatherPayload struct {
	ZoneID string `json:"zone_id"`
}

func (w *Worker) fetchWeather(ctx context.Context, job *storage.Job) error {
	var payload weatherPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	zone, err := w.store.GetZone(payload.ZoneID)
	if err != nil {
		return fmt.Errorf("loading zone %s: %w", payload.ZoneID, err)
	}

	if err := w.weather.Refresh(ctx, zone.ID, zone.Latitude, zone.Longitude); err != nil {
		return fmt.Errorf("refreshing weather for zone %s: %w", zone.ID, err)
	}
	return nil
}

func (w *Worker) sweepThreads(job *storage.Job) error {
	removed := w.sweeper.Sweep(w.threadTTL)
	if removed > 0 {
		w.logger.Info("swept idle chat threads", "removed", removed)
	}
	return nil
}

// NewGenerateJob builds a queue entry that runs the pipeline for the row.
func NewGenerateJob(recommendationID string) storage.Job {
	payload, _ := json.Marshal(generatePayload{RecommendationID: recommendationID})
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        TypeGenerateRecommendation,
		PayloadJSON: string(payload),
	}
}

// NewWeatherJob builds a queue entry that refreshes a zone's external context.
func NewWeatherJob(zoneID string) storage.Job {
	payload, _ := json.Marshal(weatherPayload{ZoneID: zoneID})
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        TypeFetchWeather,
		PayloadJSON: string(payload),
	}
}

// NewSweepJob builds a queue entry that evicts idle chat threads.
func NewSweepJob() storage.Job {
	return storage.Job{
		ID:          uuid.NewString(),
		Type:        TypeSweepThreads,
		PayloadJSON: "{}",
	}
}
