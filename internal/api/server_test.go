package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kassym/agrozone/internal/chat"
	"github.com/kassym/agrozone/internal/pipeline"
	"github.com/kassym/agrozone/internal/storage"
	"github.com/kassym/agrozone/internal/suitability"
)

const testSecret = "test-secret"

type mockClassifier struct{}

func (m *mockClassifier) Classes(ctx context.Context) ([]string, error) {
	return []string{"Rice", "Wheat", "Maize"}, nil
}

func (m *mockClassifier) PredictProba(ctx context.Context, vector []float64) (suitability.RawPrediction, error) {
	return suitability.RawPrediction{Matrix: [][]float64{{0.6, 0.3, 0.1}}}, nil
}

type testEnv struct {
	deps    AppDeps
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	model := suitability.NewModelContext(&mockClassifier{}, nil)
	threads := chat.NewThreadStore(0, nil)
	svc := chat.NewService(threads, chat.NewBuilder(nil), chat.NewRouter(), chat.KeywordTopicClassifier{}, nil, store, time.Second)

	deps := AppDeps{
		Store:     store,
		Pipeline:  pipeline.New(store, model, 3, nil),
		Chat:      svc,
		JWTSecret: testSecret,
	}
	return &testEnv{deps: deps, handler: NewAppHandler(deps)}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	token, err := SignToken(testSecret, "u1", time.Hour)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) createZone(t *testing.T) zoneResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/zones", map[string]any{"name": "North Field"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create zone: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[zoneResponse](t, rec)
}

func (e *testEnv) ingest(t *testing.T, zoneID string) {
	t.Helper()
	body := map[string]any{
		"readings": []map[string]any{
			{"ph": 6.5, "nitrogen": 50.0, "phosphorus": 40.0, "potassium": 45.0,
				"temperature": 24.0, "humidity": 65.0, "rainfall": 120.0, "soil_moisture": 30.0},
		},
	}
	rec := e.do(t, http.MethodPost, "/zones/"+zoneID+"/readings", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest: status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestHealthIsOpen(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/zones/z1", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	badToken, _ := SignToken("wrong-secret", "u1", time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/zones/z1", nil)
	req.Header.Set("Authorization", "Bearer "+badToken)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", rec.Code)
	}
}

func TestCreateAndGetZone(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)
	if zone.ID == "" || zone.Name != "North Field" {
		t.Errorf("zone wrong: %+v", zone)
	}

	rec := env.do(t, http.MethodGet, "/zones/"+zone.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get zone: status %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/zones/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing zone: status %d, want 404", rec.Code)
	}
}

func TestCreateZoneRequiresName(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/zones", map[string]any{"latitude": 43.2})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngestAndConditions(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)
	env.ingest(t, zone.ID)

	rec := env.do(t, http.MethodGet, "/zones/"+zone.ID+"/conditions?hours=48", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("conditions: status %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["readings"] != float64(1) {
		t.Errorf("readings = %v, want 1", body["readings"])
	}
	if body["hours"] != float64(48) {
		t.Errorf("hours = %v, want 48", body["hours"])
	}
	if _, ok := body["features"]; !ok {
		t.Error("conditions response missing features")
	}
}

func TestConditionsRejectsBadHours(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)

	for _, q := range []string{"hours=0", "hours=-5", "hours=nope", "hours=999999"} {
		rec := env.do(t, http.MethodGet, "/zones/"+zone.ID+"/conditions?"+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", q, rec.Code)
		}
	}
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)

	rec := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/readings", map[string]any{"readings": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTriggerRecommendationConflictsOnSecondPending(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)

	rec := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/recommendations", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger: status %d, body %s", rec.Code, rec.Body.String())
	}
	first := decodeBody[recommendationResponse](t, rec)
	if first.Status != storage.StatusPending {
		t.Errorf("status = %s, want pending", first.Status)
	}

	rec = env.do(t, http.MethodPost, "/zones/"+zone.ID+"/recommendations", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second trigger: status %d, want 409", rec.Code)
	}
}

func TestTriggerRejectsInvertedWindow(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)

	now := time.Now().UTC()
	body := map[string]any{"window_start": now, "window_end": now.Add(-time.Hour)}
	rec := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/recommendations", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRecommendationReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)
	env.ingest(t, zone.ID)

	resp := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/recommendations", nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("trigger: status %d", resp.Code)
	}
	pending := decodeBody[recommendationResponse](t, resp)

	// Run the pipeline inline; in production the worker does this.
	if err := env.deps.Pipeline.Generate(context.Background(), pending.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	resp = env.do(t, http.MethodGet, "/recommendations/"+pending.ID, nil)
	generated := decodeBody[recommendationResponse](t, resp)
	if generated.Status != storage.StatusGenerated {
		t.Fatalf("status = %s, want generated (reason %q)", generated.Status, generated.FailureReason)
	}
	if len(generated.Crops) == 0 || generated.Crops[0].CropName != "Rice" {
		t.Errorf("crops = %+v", generated.Crops)
	}
	if len(generated.DataUsed) == 0 {
		t.Error("data_used missing on generated row")
	}

	resp = env.do(t, http.MethodPost, "/recommendations/"+pending.ID+"/approve", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("approve: status %d, body %s", resp.Code, resp.Body.String())
	}
	approved := decodeBody[recommendationResponse](t, resp)
	if approved.Status != storage.StatusApproved || approved.ApprovedAt == nil {
		t.Errorf("approved row wrong: %+v", approved)
	}

	// Approved rows are final.
	resp = env.do(t, http.MethodPost, "/recommendations/"+pending.ID+"/decline", nil)
	if resp.Code != http.StatusConflict {
		t.Errorf("decline after approve: status %d, want 409", resp.Code)
	}
}

func TestRegenerateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)
	env.ingest(t, zone.ID)

	resp := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/recommendations", nil)
	pending := decodeBody[recommendationResponse](t, resp)
	if err := env.deps.Pipeline.Generate(context.Background(), pending.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	resp = env.do(t, http.MethodPost, "/recommendations/"+pending.ID+"/regenerate", nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("regenerate: status %d, body %s", resp.Code, resp.Body.String())
	}
	fresh := decodeBody[recommendationResponse](t, resp)
	if fresh.ID == pending.ID || fresh.Status != storage.StatusPending {
		t.Errorf("fresh row wrong: %+v", fresh)
	}

	resp = env.do(t, http.MethodGet, "/recommendations/"+pending.ID, nil)
	old := decodeBody[recommendationResponse](t, resp)
	if old.Status != storage.StatusRegenerated {
		t.Errorf("old status = %s, want regenerated", old.Status)
	}
}

func TestRegeneratePendingRowConflicts(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)

	resp := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/recommendations", nil)
	pending := decodeBody[recommendationResponse](t, resp)

	resp = env.do(t, http.MethodPost, "/recommendations/"+pending.ID+"/regenerate", nil)
	if resp.Code != http.StatusConflict {
		t.Errorf("regenerate pending: status %d, want 409", resp.Code)
	}
}

func TestGetRecommendationNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/recommendations/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestZoneChat(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)
	env.ingest(t, zone.ID)

	rec := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/chat", map[string]any{"message": "how is my soil ph?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[chatResponse](t, rec)
	if body.Reply == "" {
		t.Error("chat reply must never be empty")
	}
}

func TestZoneChatRequiresMessage(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)

	rec := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/chat", map[string]any{"message": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRecommendationChatUsesStoredSnapshot(t *testing.T) {
	env := newTestEnv(t)
	zone := env.createZone(t)
	env.ingest(t, zone.ID)

	resp := env.do(t, http.MethodPost, "/zones/"+zone.ID+"/recommendations", nil)
	pending := decodeBody[recommendationResponse](t, resp)
	if err := env.deps.Pipeline.Generate(context.Background(), pending.ID); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/recommendations/"+pending.ID+"/chat", map[string]any{"message": "what crops should I plant?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[chatResponse](t, rec)
	if body.Reply == "" {
		t.Error("reply missing")
	}
}
