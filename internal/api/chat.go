package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kassym/agrozone/internal/chat"
	"github.com/kassym/agrozone/internal/features"
	"github.com/kassym/agrozone/internal/quality"
	"github.com/kassym/agrozone/internal/storage"
	"github.com/kassym/agrozone/internal/suitability"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func handleZoneChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zoneID := chi.URLParam(r, "id")
		zone, err := deps.Store.GetZone(zoneID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "zone not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load zone: %v", err)
			return
		}

		message, ok := decodeChatMessage(w, r)
		if !ok {
			return
		}

		in := buildZoneChatInput(deps, zone, message)
		reply, err := deps.Chat.Handle(r.Context(), chat.ZoneKey(zone.ID), in)
		if err != nil {
			writeChatError(w, r.Context(), err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
	}
}

func handleRecommendationChat(deps AppDeps) http.HandlerFunc {
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

		zone, err := deps.Store.GetZone(rec.ZoneID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load zone: %v", err)
			return
		}

		message, ok := decodeChatMessage(w, r)
		if !ok {
			return
		}

		in := buildRecommendationChatInput(deps, zone, rec, message)
		key := chat.RecommendationKey(rec.ID, requestUserID(r))
		reply, err := deps.Chat.Handle(r.Context(), key, in)
		if err != nil {
			writeChatError(w, r.Context(), err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
	}
}

func decodeChatMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return "", false
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		return "", false
	}
	return req.Message, true
}

func writeChatError(w http.ResponseWriter, ctx context.Context, err error) {
	if ctx.Err() != nil {
		// Client went away; the status code is a formality.
		httpError(w, http.StatusRequestTimeout, "api_error", "request cancelled")
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
}

// buildZoneChatInput assembles chat context from the zone's live data: the
// latest reviewable recommendation plus the last day of readings.
func buildZoneChatInput(deps AppDeps, zone storage.Zone, message string) chat.BuildInput {
	in := chat.BuildInput{
		ZoneID:      zone.ID,
		ZoneName:    zone.Name,
		UserMessage: message,
		External:    externalContext(deps, zone.ID),
	}

	end := time.Now().UTC()
	readings, err := deps.Store.ReadingsInWindow(zone.ID, end.Add(-24*time.Hour), end)
	if err == nil && len(readings) > 0 {
		vec := features.Aggregate(readings)
		in.Features = &vec
		in.Quality = quality.Assess(vec)
	}

	if recs, err := deps.Store.RecentRecommendations(zone.ID, 20); err == nil {
		for _, rec := range recs {
			if rec.Status == storage.StatusGenerated || rec.Status == storage.StatusApproved {
				view := recommendationView(rec)
				in.Recommendation = &view
				break
			}
		}
	}

	if in.Features != nil {
		var crops []string
		if in.Recommendation != nil {
			for _, c := range in.Recommendation.Crops {
				crops = append(crops, c.CropName)
			}
		}
		in.Risks = quality.IdentifyRisks(*in.Features, chat.Season(time.Now().Month()), crops)
	}
	return in
}

// dataUsedView mirrors the pipeline's stored data snapshot.
type dataUsedView struct {
	Vector  features.Vector    `json:"features"`
	Quality quality.Assessment `json:"quality"`
	Risks   quality.RiskReport `json:"risks"`
}

// buildRecommendationChatInput assembles chat context from the exact data
// snapshot the recommendation was generated from, so answers stay consistent
// with the recommendation under discussion.
func buildRecommendationChatInput(deps AppDeps, zone storage.Zone, rec storage.Recommendation, message string) chat.BuildInput {
	in := chat.BuildInput{
		ZoneID:      zone.ID,
		ZoneName:    zone.Name,
		UserMessage: message,
		External:    externalContext(deps, zone.ID),
	}

	view := recommendationView(rec)
	in.Recommendation = &view

	if rec.DataUsedJSON != "" {
		var used dataUsedView
		if err := json.Unmarshal([]byte(rec.DataUsedJSON), &used); err == nil {
			in.Features = &used.Vector
			in.Quality = used.Quality
			in.Risks = used.Risks
		}
	}
	return in
}

func externalContext(deps AppDeps, zoneID string) map[string]any {
	if deps.Weather == nil {
		return nil
	}
	return deps.Weather.Get(zoneID)
}

func recommendationView(rec storage.Recommendation) chat.RecommendationView {
	view := chat.RecommendationView{
		ID:         rec.ID,
		Status:     rec.Status,
		Confidence: rec.Confidence,
		CreatedAt:  rec.CreatedAt,
	}
	if rec.CropsJSON != "" {
		var crops []suitability.CropSuitability
		if err := json.Unmarshal([]byte(rec.CropsJSON), &crops); err == nil {
			view.Crops = crops
		}
	}
	return view
}
