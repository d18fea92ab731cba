package livekit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stagehanderrors "stagehand/internal/errors"
	"stagehand/internal/logging"
)

func testCallContext(baseURL string) CallContext {
	return CallContext{BaseURL: baseURL, AuthHeader: "Bearer test-token"}
}

func TestListDispatchesTreats404AsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Nop())
	dispatches, err := client.ListDispatches(context.Background(), testCallContext(server.URL), "room-abc")
	require.NoError(t, err)
	assert.Empty(t, dispatches)
}

func TestListDispatchesSurfacesUpstreamBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded for project", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Nop())
	_, err := client.ListDispatches(context.Background(), testCallContext(server.URL), "room-abc")
	require.Error(t, err)
	assert.True(t, stagehanderrors.IsUpstream(err))
	assert.Equal(t, http.StatusForbidden, stagehanderrors.UpstreamStatus(err))
	assert.Contains(t, err.Error(), "quota exceeded for project")
}

func TestListDispatchesSendsAuthAndPath(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"agentDispatches":[{"id":"d1","agentName":"assistant"}]}`))
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Nop())
	dispatches, err := client.ListDispatches(context.Background(), testCallContext(server.URL), "room-abc")
	require.NoError(t, err)
	require.Len(t, dispatches, 1)
	assert.Equal(t, "d1", dispatches[0].ID)
	assert.Equal(t, "/twirp/livekit.AgentDispatchService/ListDispatch", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "room-abc", gotBody["room"])
}

func TestListAgentDispatchesFiltersCaseInsensitively(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"agentDispatches":[
			{"id":"d1","agentName":"Assistant"},
			{"id":"d2","agentName":"transcriber"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Nop())
	dispatches, err := client.ListAgentDispatches(context.Background(), testCallContext(server.URL), "room-abc", "assistant")
	require.NoError(t, err)
	require.Len(t, dispatches, 1)
	assert.Equal(t, "d1", dispatches[0].ID)
}

func TestCreateDispatchOmitsTrivialMetadata(t *testing.T) {
	for _, metadata := range []string{"", "   ", "{}", "null"} {
		var gotBody map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			_, _ = w.Write([]byte(`{"agentDispatch":{"id":"d1","agentName":"assistant"}}`))
		}))

		client := NewClient(time.Second, logging.Nop())
		created, err := client.CreateDispatch(context.Background(), testCallContext(server.URL), "room-abc", "assistant", metadata)
		server.Close()
		require.NoError(t, err, "metadata %q", metadata)
		assert.Equal(t, "d1", created.ID)
		_, present := gotBody["metadata"]
		assert.False(t, present, "metadata %q should not be attached", metadata)
	}
}

func TestCreateDispatchAttachesRealMetadata(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"agentDispatch":{"id":"d1","agentName":"assistant"}}`))
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Nop())
	_, err := client.CreateDispatch(context.Background(), testCallContext(server.URL), "room-abc", "assistant", `{"token":"abc"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, gotBody["metadata"])
}

func TestDeleteDispatchTolerates404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "dispatch not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Nop())
	err := client.DeleteDispatch(context.Background(), testCallContext(server.URL), "room-abc", "d1")
	require.NoError(t, err)
}

func TestListParticipantsTreats404AsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Nop())
	participants, err := client.ListParticipants(context.Background(), testCallContext(server.URL), "room-abc")
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestNewCallContextResolvesHTTPBaseURL(t *testing.T) {
	cc, err := NewCallContext("key", "secret", "wss://example.livekit.cloud/", "room-abc")
	require.NoError(t, err)
	assert.Equal(t, "https://example.livekit.cloud", cc.BaseURL)
	assert.Contains(t, cc.AuthHeader, "Bearer ")
}
