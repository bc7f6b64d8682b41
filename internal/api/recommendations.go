package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kassym/agrozone/internal/features"
	"github.com/kassym/agrozone/internal/jobs"
	"github.com/kassym/agrozone/internal/pipeline"
	"github.com/kassym/agrozone/internal/storage"
	"github.com/kassym/agrozone/internal/suitability"
)

type triggerRequest struct {
	WindowStart *time.Time `json:"window_start"`
	WindowEnd   *time.Time `json:"window_end"`
}

type recommendationResponse struct {
	ID            string                        `json:"id"`
	ZoneID        string                        `json:"zone_id"`
	WindowStart   time.Time                     `json:"window_start"`
	WindowEnd     time.Time                     `json:"window_end"`
	Status        string                        `json:"status"`
	Response      string                        `json:"response,omitempty"`
	Crops         []suitability.CropSuitability `json:"crops,omitempty"`
	DataUsed      json.RawMessage               `json:"data_used,omitempty"`
	Confidence    float64                       `json:"confidence,omitempty"`
	FailureReason string                        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time                     `json:"created_at"`
	ApprovedAt    *time.Time                    `json:"approved_at,omitempty"`
}

func handleTriggerRecommendation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		zoneID := chi.URLParam(r, "id")

		var req triggerRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		var window features.Window
		if req.WindowStart != nil {
			window.Start = *req.WindowStart
		}
		if req.WindowEnd != nil {
			window.End = *req.WindowEnd
		}

		rec, err := deps.Pipeline.Trigger(zoneID, window)
		if err != nil {
			writePipelineError(w, err)
			return
		}

		if err := deps.Store.EnqueueJob(jobs.NewGenerateJob(rec.ID)); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recommendation created but generation job failed: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, toRecommendationResponse(rec))
	}
}

func handleListRecommendations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zoneID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetZone(zoneID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "zone not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load zone: %v", err)
			return
		}

		recs, err := deps.Store.RecentRecommendations(zoneID, 20)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load recommendations: %v", err)
			return
		}

		out := make([]recommendationResponse, len(recs))
		for i, rec := range recs {
			out[i] = toRecommendationResponse(rec)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetRecommendation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetRecommendation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "recommendation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load recommendation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toRecommendationResponse(rec))
	}
}

func handleApprove(deps AppDeps) http.HandlerFunc {
	return transitionHandler(deps, deps.Store.Approve)
}

func handleDecline(deps AppDeps) http.HandlerFunc {
	return transitionHandler(deps, deps.Store.Decline)
}

// transitionHandler runs a generated-row status transition and reports the
// updated row.
func transitionHandler(deps AppDeps, transition func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := transition(id); err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				httpError(w, http.StatusNotFound, "not_found_error", "recommendation not found")
			case errors.Is(err, storage.ErrConflict):
				httpError(w, http.StatusConflict, "conflict_error", "recommendation is not in a reviewable state")
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "failed to update recommendation: %v", err)
			}
			return
		}

		rec, err := deps.Store.GetRecommendation(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load recommendation: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toRecommendationResponse(rec))
	}
}

func handleRegenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fresh, err := deps.Pipeline.Regenerate(chi.URLParam(r, "id"))
		if err != nil {
			writePipelineError(w, err)
			return
		}

		if err := deps.Store.EnqueueJob(jobs.NewGenerateJob(fresh.ID)); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "recommendation created but generation job failed: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, toRecommendationResponse(fresh))
	}
}

// writePipelineError maps pipeline errors onto HTTP statuses.
func writePipelineError(w http.ResponseWriter, err error) {
	var validation *pipeline.ValidationError
	switch {
	case errors.As(err, &validation):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validation.Reason)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "not found")
	case errors.Is(err, storage.ErrConflict):
		httpError(w, http.StatusConflict, "conflict_error", "a pending recommendation already exists, or the row is not in the expected state")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func toRecommendationResponse(rec storage.Recommendation) recommendationResponse {
	out := recommendationResponse{
		ID:            rec.ID,
		ZoneID:        rec.ZoneID,
		WindowStart:   rec.WindowStart,
		WindowEnd:     rec.WindowEnd,
		Status:        rec.Status,
		Response:      rec.Response,
		Confidence:    rec.Confidence,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		ApprovedAt:    rec.ApprovedAt,
	}
	if rec.CropsJSON != "" {
		// Stored by the pipeline, so it unmarshals unless the row predates a
		// schema change; surface nothing in that case.
		_ = json.Unmarshal([]byte(rec.CropsJSON), &out.Crops)
	}
	if rec.DataUsedJSON != "" {
		out.DataUsed = json.RawMessage(rec.DataUsedJSON)
	}
	return out
}
