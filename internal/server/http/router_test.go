package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/config"
	"stagehand/internal/dispatch"
	"stagehand/internal/livekit"
	"stagehand/internal/logging"
)

// controlPlane fakes the LiveKit control API for end-to-end handler tests.
// Created dispatches come back with a running job straight away.
type controlPlane struct {
	mu         sync.Mutex
	dispatches []livekit.AgentDispatch
	nextID     int
}

func (cp *controlPlane) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cp.mu.Lock()
		defer cp.mu.Unlock()

		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/twirp/livekit.AgentDispatchService/ListDispatch":
			_ = json.NewEncoder(w).Encode(map[string]any{"agentDispatches": cp.dispatches})
		case "/twirp/livekit.AgentDispatchService/CreateDispatch":
			cp.nextID++
			created := livekit.AgentDispatch{
				ID:        "disp-" + body["agentName"],
				AgentName: body["agentName"],
				Room:      body["room"],
				State: &livekit.DispatchState{
					Jobs: []livekit.Job{{Status: livekit.JobStatusRunning, StartedAt: time.Now().UnixMilli()}},
				},
			}
			cp.dispatches = append(cp.dispatches, created)
			_ = json.NewEncoder(w).Encode(map[string]any{"agentDispatch": created})
		case "/twirp/livekit.AgentDispatchService/DeleteDispatch":
			for i, d := range cp.dispatches {
				if d.ID == body["dispatchId"] {
					cp.dispatches = append(cp.dispatches[:i], cp.dispatches[i+1:]...)
					_, _ = w.Write([]byte(`{}`))
					return
				}
			}
			http.Error(w, "dispatch not found", http.StatusNotFound)
		case "/twirp/livekit.RoomService/ListParticipants":
			_ = json.NewEncoder(w).Encode(map[string]any{"participants": []livekit.RoomParticipant{}})
		case "/twirp/livekit.RoomService/RemoveParticipant":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.Error(w, "unknown rpc", http.StatusNotFound)
		}
	})
}

func newTestRouter(t *testing.T, upstreamURL string) http.Handler {
	t.Helper()
	cfg := config.Config{
		APIKey:          "test-key",
		APISecret:       "test-secret",
		ServerURL:       upstreamURL,
		AgentName:       "assistant",
		UpstreamTimeout: 2 * time.Second,
	}
	client := livekit.NewClient(cfg.UpstreamTimeout, logging.Nop())
	reconciler := dispatch.NewReconciler(cfg, client, logging.Nop())
	return NewRouter(cfg, reconciler, logging.Nop())
}

func doJSON(t *testing.T, router http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	var decoded map[string]any
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder, decoded
}

func TestDispatchLifecycleEndToEnd(t *testing.T) {
	upstream := &controlPlane{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()
	router := newTestRouter(t, server.URL)

	// Empty room: POST creates exactly one dispatch.
	recorder, body := doJSON(t, router, http.MethodPost, "/dispatch", `{"room":"room-abc"}`)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, false, body["reused"])
	created := body["dispatch"].(map[string]any)
	assert.Equal(t, "assistant", created["agentName"])
	assert.NotEmpty(t, created["id"])

	// Immediate GET sees the running dispatch.
	recorder, body = doJSON(t, router, http.MethodGet, "/dispatch?room=room-abc", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, float64(1), body["total"])

	// DELETE removes it.
	recorder, body = doJSON(t, router, http.MethodDelete, "/dispatch?room=room-abc", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), body["removed"])

	// And the room is empty again.
	recorder, body = doJSON(t, router, http.MethodGet, "/dispatch?room=room-abc", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, float64(0), body["total"])
}

func TestDispatchRequiresRoom(t *testing.T) {
	upstream := &controlPlane{}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()
	router := newTestRouter(t, server.URL)

	recorder, body := doJSON(t, router, http.MethodGet, "/dispatch", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "error", body["status"])

	recorder, _ = doJSON(t, router, http.MethodPost, "/dispatch", `{"metadata":"x"}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, _ = doJSON(t, router, http.MethodDelete, "/dispatch", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestDispatchUnconfiguredIs500(t *testing.T) {
	cfg := config.Config{}
	reconciler := dispatch.NewReconciler(cfg, livekit.NewClient(time.Second, logging.Nop()), logging.Nop())
	router := NewRouter(cfg, reconciler, logging.Nop())

	recorder, body := doJSON(t, router, http.MethodGet, "/dispatch?room=room-abc", "")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Contains(t, body["error"], "LIVEKIT_API_KEY")
}

func TestDispatchUpstreamFailureIs502(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer server.Close()
	router := newTestRouter(t, server.URL)

	recorder, body := doJSON(t, router, http.MethodGet, "/dispatch?room=room-abc", "")
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
	assert.Contains(t, body["error"], "upstream exploded")
}

func TestTokenEndpoint(t *testing.T) {
	router := newTestRouter(t, "wss://example.livekit.cloud")

	recorder, body := doJSON(t, router, http.MethodGet, "/token?room=room-abc&name=alice", "")
	require.Equal(t, http.StatusOK, recorder.Code)

	identity := body["identity"].(string)
	assert.True(t, strings.HasPrefix(identity, "alice-"))
	assert.Len(t, identity, len("alice-")+4)
	assert.Equal(t, "wss://example.livekit.cloud", body["serverUrl"])

	token := body["token"].(string)
	assert.Len(t, strings.Split(token, "."), 3)
}

func TestTokenRequiresRoom(t *testing.T) {
	router := newTestRouter(t, "wss://example.livekit.cloud")
	recorder, _ := doJSON(t, router, http.MethodGet, "/token?name=alice", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestTokenUnconfiguredIs500(t *testing.T) {
	cfg := config.Config{}
	reconciler := dispatch.NewReconciler(cfg, livekit.NewClient(time.Second, logging.Nop()), logging.Nop())
	router := NewRouter(cfg, reconciler, logging.Nop())

	recorder, _ := doJSON(t, router, http.MethodGet, "/token?room=room-abc", "")
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, "wss://example.livekit.cloud")
	recorder, body := doJSON(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetadataString(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"absent", ``, ""},
		{"json string", `"hello"`, "hello"},
		{"json string with embedded object", `"{\"token\":\"abc\"}"`, `{"token":"abc"}`},
		{"object passes through", `{"token":"abc"}`, `{"token":"abc"}`},
		{"null stays trivial", `null`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, metadataString(json.RawMessage(tc.raw)))
		})
	}
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	router := newTestRouter(t, "wss://example.livekit.cloud")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, "fixed-id", recorder.Header().Get("X-Request-ID"))
}
