package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kassym/agrozone/internal/features"
	"github.com/kassym/agrozone/internal/jobs"
	"github.com/kassym/agrozone/internal/storage"
)

type createZoneRequest struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type zoneResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	CreatedAt string   `json:"created_at"`
}

func handleCreateZone(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createZoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		zone := storage.Zone{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateZone(zone); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create zone: %v", err)
			return
		}

		// Warm the external context cache in the background.
		if zone.Latitude != nil && zone.Longitude != nil {
			if err := deps.Store.EnqueueJob(jobs.NewWeatherJob(zone.ID)); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "zone created but weather job failed: %v", err)
				return
			}
		}

		writeJSON(w, http.StatusCreated, toZoneResponse(zone))
	}
}

func handleGetZone(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zone, err := deps.Store.GetZone(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "zone not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load zone: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toZoneResponse(zone))
	}
}

type readingPayload struct {
	Timestamp    time.Time `json:"timestamp"`
	SoilMoisture *float64  `json:"soil_moisture"`
	PH           *float64  `json:"ph"`
	Temperature  *float64  `json:"temperature"`
	Phosphorus   *float64  `json:"phosphorus"`
	Potassium    *float64  `json:"potassium"`
	Humidity     *float64  `json:"humidity"`
	Nitrogen     *float64  `json:"nitrogen"`
	Rainfall     *float64  `json:"rainfall"`
	Source       string    `json:"source"`
}

type ingestReadingsRequest struct {
	Readings []readingPayload `json:"readings"`
}

func handleIngestReadings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		zoneID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetZone(zoneID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "zone not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load zone: %v", err)
			return
		}

		var req ingestReadingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Readings) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "readings is required and must not be empty")
			return
		}

		now := time.Now().UTC()
		for _, p := range req.Readings {
			ts := p.Timestamp
			if ts.IsZero() {
				ts = now
			}
			reading := storage.SensorReading{
				ID:           uuid.NewString(),
				ZoneID:       zoneID,
				Timestamp:    ts.UTC(),
				SoilMoisture: p.SoilMoisture,
				PH:           p.PH,
				Temperature:  p.Temperature,
				Phosphorus:   p.Phosphorus,
				Potassium:    p.Potassium,
				Humidity:     p.Humidity,
				Nitrogen:     p.Nitrogen,
				Rainfall:     p.Rainfall,
				Source:       p.Source,
			}
			if err := deps.Store.InsertReading(reading); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to store reading: %v", err)
				return
			}
		}

		writeJSON(w, http.StatusCreated, map[string]int{"ingested": len(req.Readings)})
	}
}

func handleZoneConditions(deps AppDeps) http.HandlerFunc {
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

		hours := 24
		if raw := r.URL.Query().Get("hours"); raw != "" {
			h, err := strconv.Atoi(raw)
			if err != nil || h <= 0 || h > 366*24 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "hours must be a positive integer up to one year")
				return
			}
			hours = h
		}

		end := time.Now().UTC()
		readings, err := deps.Store.ReadingsInWindow(zoneID, end.Add(-time.Duration(hours)*time.Hour), end)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load readings: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"zone_id":  zoneID,
			"hours":    hours,
			"readings": len(readings),
			"features": features.Aggregate(readings),
		})
	}
}

func toZoneResponse(z storage.Zone) zoneResponse {
	return zoneResponse{
		ID:        z.ID,
		Name:      z.Name,
		Latitude:  z.Latitude,
		Longitude: z.Longitude,
		CreatedAt: z.CreatedAt.Format(time.RFC3339),
	}
}
