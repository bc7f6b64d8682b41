// Package api exposes the zone, recommendation, and chat operations over
// HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kassym/agrozone/internal/chat"
	"github.com/kassym/agrozone/internal/pipeline"
	"github.com/kassym/agrozone/internal/storage"
	"github.com/kassym/agrozone/internal/weather"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds the wired collaborators for the HTTP API.
type AppDeps struct {
	Store     *storage.Store
	Pipeline  *pipeline.Pipeline
	Chat      *chat.Service
	Weather   *weather.Cache // optional; nil disables external chat context
	JWTSecret string
}

// NewAppHandler builds the HTTP routing tree. Everything except /health
// requires a valid bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(deps.JWTSecret))

		r.Route("/zones", func(r chi.Router) {
			r.Post("/", handleCreateZone(deps))
			r.Get("/{id}", handleGetZone(deps))
			r.Post("/{id}/readings", handleIngestReadings(deps))
			r.Get("/{id}/conditions", handleZoneConditions(deps))
			r.Post("/{id}/recommendations", handleTriggerRecommendation(deps))
			r.Get("/{id}/recommendations", handleListRecommendations(deps))
			r.Post("/{id}/chat", handleZoneChat(deps))
		})

		r.Route("/recommendations", func(r chi.Router) {
			r.Get("/{id}", handleGetRecommendation(deps))
			r.Post("/{id}/approve", handleApprove(deps))
			r.Post("/{id}/decline", handleDecline(deps))
			r.Post("/{id}/regenerate", handleRegenerate(deps))
			r.Post("/{id}/chat", handleRecommendationChat(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
