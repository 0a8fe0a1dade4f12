package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/generation"
	"github.com/Corphon/SceneForge/internal/services"
	"github.com/Corphon/SceneForge/internal/storage"
	"github.com/Corphon/SceneForge/internal/utils"
)

type testServer struct {
	router  *gin.Engine
	handler *Handler
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := generation.NewValidator()
	require.NoError(t, err)
	locks := services.NewLockManager()
	t.Cleanup(locks.Stop)

	hub := NewHub()
	store := storage.NewMemoryStore()
	svc := services.NewSessionService(store, generation.NewOfflineGenerator(validator, 3), locks, services.Options{
		Events:            hub,
		GenerationTimeout: 5 * time.Second,
	})
	metrics := utils.NewAPIMetricsWith(utils.NewMetricsCollector())
	handler := NewHandler(svc, services.NewProjectService(store, nil), hub, metrics)

	limiter := NewRateLimiter()
	t.Cleanup(limiter.Stop)
	router := NewRouter(handler, RouterOptions{DebugMode: true, RateLimitPerMinute: rateLimit, RateLimiter: limiter})
	return &testServer{router: router, handler: handler}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp APIResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]any {
	t.Helper()
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func (s *testServer) lockedChain(t *testing.T, id string) {
	t.Helper()
	base := "/api/sessions/" + id
	for _, step := range []struct{ method, path, body string }{
		{http.MethodPost, base + "/blocks/background", `{"premise":"a drowned city"}`},
		{http.MethodPost, base + "/blocks/background/lock", ""},
		{http.MethodPost, base + "/chain/generate", ""},
		{http.MethodPost, base + "/chain/lock", ""},
	} {
		w, resp := s.do(t, step.method, step.path, step.body)
		require.Equal(t, http.StatusOK, w.Code, "%s %s: %s", step.method, step.path, w.Body.String())
		require.True(t, resp.Success)
	}
}

func TestGetUnknownSessionReturnsEmptySession(t *testing.T) {
	s := newTestServer(t, 0)

	w, resp := s.do(t, http.MethodGet, "/api/sessions/fresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, float64(0), dataMap(t, resp)["version"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, w.Header().Get(requestIDHeader), resp.RequestID)
}

func TestInvalidSessionIDIsBadRequest(t *testing.T) {
	s := newTestServer(t, 0)

	w, resp := s.do(t, http.MethodGet, "/api/sessions/-bad", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, "sessionId", resp.Error.Field)
}

func TestSessionETag(t *testing.T) {
	s := newTestServer(t, 0)
	w, _ := s.do(t, http.MethodPost, "/api/sessions/s1/blocks/background", `{"premise":"x"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/sessions/s1", "")
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	w, _ = s.do(t, http.MethodGet, "/api/sessions/s1", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/sessions/s1/blocks/background", `{"premise":"y"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/sessions/s1", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))
}

func TestRequestBodyValidation(t *testing.T) {
	s := newTestServer(t, 0)

	w, resp := s.do(t, http.MethodPost, "/api/sessions/s1/blocks/background", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrorBadRequest, resp.Error.Code)

	w, _ = s.do(t, http.MethodPost, "/api/sessions/s1/blocks/background", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = s.do(t, http.MethodPost, "/api/sessions/s1/blocks/Bad-Type", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "blockType", resp.Error.Field)

	w, _ = s.do(t, http.MethodGet, "/api/sessions/s1/context?upTo=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := `{"premise":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	w, resp = s.do(t, http.MethodPost, "/api/sessions/s1/blocks/background", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, ErrorPayloadTooLarge, resp.Error.Code)
}

func TestMacroChainWithoutLockedBackgroundIsConflict(t *testing.T) {
	s := newTestServer(t, 0)
	w, _ := s.do(t, http.MethodPost, "/api/sessions/s1/blocks/background", `{"premise":"x"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := s.do(t, http.MethodPost, "/api/sessions/s1/chain/generate", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "LOCK_CONFLICT", resp.Error.Code)
	assert.False(t, resp.Success)
}

func TestScenePipelineOverHTTP(t *testing.T) {
	s := newTestServer(t, 0)
	s.lockedChain(t, "s1")

	w, resp := s.do(t, http.MethodPost, "/api/sessions/s1/scenes/scene-2/generate", "")
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "LOCK_CONFLICT", resp.Error.Code)

	w, _ = s.do(t, http.MethodPost, "/api/sessions/s1/scenes/scene-9/generate", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = s.do(t, http.MethodPost, "/api/sessions/s1/scenes/scene-1/generate", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	detail := dataMap(t, resp)["detail"].(map[string]any)
	assert.Equal(t, "Generated", detail["status"])

	w, _ = s.do(t, http.MethodPost, "/api/sessions/s1/scenes/scene-1/lock", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, resp = s.do(t, http.MethodGet, "/api/sessions/s1/context?upTo=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"Scene 1 resolved"}, dataMap(t, resp)["keyEvents"])

	w, resp = s.do(t, http.MethodGet, "/api/sessions/s1/staleness", "")
	require.Equal(t, http.StatusOK, w.Code)
	scenes := dataMap(t, resp)["scenes"].([]any)
	require.Len(t, scenes, 1)
	assert.Equal(t, false, scenes[0].(map[string]any)["stale"])
}

func TestChainEditOverHTTP(t *testing.T) {
	s := newTestServer(t, 0)
	s.lockedChain(t, "s1")

	// 已锁定的链不能编辑
	w, _ := s.do(t, http.MethodPatch, "/api/sessions/s1/chain", `{"edits":[{"op":"update","sceneId":"scene-1","title":"Gate"}]}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/sessions/s1/chain/unlock", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = s.do(t, http.MethodPatch, "/api/sessions/s1/chain", `{"edits":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := s.do(t, http.MethodPatch, "/api/sessions/s1/chain", `{"edits":[{"op":"update","sceneId":"scene-1","title":"Gate"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	chain := dataMap(t, resp)["chain"].(map[string]any)
	assert.Equal(t, "Edited", chain["status"])
}

func TestGenerationRateLimitedPerSession(t *testing.T) {
	s := newTestServer(t, 1)

	w, _ := s.do(t, http.MethodPost, "/api/sessions/s1/background/generate", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w, resp := s.do(t, http.MethodPost, "/api/sessions/s1/background/generate", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, ErrorRateLimited, resp.Error.Code)

	// 其他会话不受影响
	w, _ = s.do(t, http.MethodPost, "/api/sessions/s2/background/generate", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsRecordRoutes(t *testing.T) {
	s := newTestServer(t, 0)
	s.do(t, http.MethodGet, "/api/sessions/s1/health", "")

	collector := s.handler.Metrics.Collector()
	assert.Equal(t, int64(1), collector.GetCounterValue("api_requests_GET /api/sessions/:id/health"))
	assert.Equal(t, int64(1), collector.GetCounterValue("api_responses_2xx"))
}

func TestLockMissingSceneIsNotFound(t *testing.T) {
	w, resp := newTestServer(t, 0).do(t, http.MethodPost, "/api/sessions/s1/scenes/scene-1/lock", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestWebSocketReceivesSessionEvents(t *testing.T) {
	s := newTestServer(t, 0)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readJSON := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	welcome := readJSON()
	assert.Equal(t, "connected", welcome["type"])
	assert.Equal(t, float64(0), welcome["version"])

	resp, err := http.Post(srv.URL+"/api/sessions/s1/blocks/world_seeds", "application/json", strings.NewReader(`{"factions":["tides"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	event := readJSON()
	assert.Equal(t, string(services.EventBlockAppended), event["type"])
	assert.Equal(t, "s1", event["sessionId"])
	assert.Equal(t, float64(1), event["version"])

	assert.Equal(t, 1, s.handler.Hub.GetStatus().TotalConnections)
}

func TestProjectRoutes(t *testing.T) {
	s := newTestServer(t, 0)

	w, resp := s.do(t, http.MethodPost, "/api/projects", `{"title":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	w, resp = s.do(t, http.MethodPost, "/api/projects", `{"title":"Drowned City"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id, _ := dataMap(t, resp)["id"].(string)
	require.True(t, strings.HasPrefix(id, "project_"), id)

	w, resp = s.do(t, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, w.Code)
	list, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, list, 1)

	w, resp = s.do(t, http.MethodGet, "/api/projects/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Drowned City", dataMap(t, resp)["title"])

	w, _ = s.do(t, http.MethodDelete, "/api/projects/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	w, resp = s.do(t, http.MethodGet, "/api/projects/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorNotFound, resp.Error.Code)
}

func TestCharacterSheetRoutes(t *testing.T) {
	s := newTestServer(t, 0)
	base := "/api/sessions/s1/character-sheets"

	w, _ := s.do(t, http.MethodPut, base+"/pc-1", `["not","an","object"]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := s.do(t, http.MethodPut, base+"/pc-1", `{"name":"Ilsa","class":"Wizard"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Ilsa", dataMap(t, resp)["name"])

	w, resp = s.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	list, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)

	w, _ = s.do(t, http.MethodDelete, base+"/pc-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodDelete, base+"/pc-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
