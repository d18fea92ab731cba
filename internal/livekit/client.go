package livekit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stagehanderrors "stagehand/internal/errors"
	"stagehand/internal/httpclient"
	"stagehand/internal/logging"
)

const (
	agentDispatchServicePrefix = "/twirp/livekit.AgentDispatchService/"
	roomServicePrefix          = "/twirp/livekit.RoomService/"

	// Control-plane responses are small; anything bigger is a misbehaving upstream.
	maxResponseBytes = 1 << 20
)

// CallContext is the ephemeral per-call value pairing the resolved HTTP base
// URL with a freshly minted admin credential. It is rebuilt on every inbound
// request and never cached: a fresh signature is cheap relative to its
// five-minute validity window and sidesteps staleness bugs.
type CallContext struct {
	BaseURL    string
	AuthHeader string
}

// NewCallContext resolves the control-plane base URL and signs a room-admin
// token for one reconciliation pass.
func NewCallContext(apiKey, apiSecret, serverURL, room string) (CallContext, error) {
	token, err := AdminToken(apiKey, apiSecret, room, DefaultAdminTokenTTL)
	if err != nil {
		return CallContext{}, fmt.Errorf("sign admin token: %w", err)
	}
	return CallContext{
		BaseURL:    strings.TrimRight(HTTPURL(serverURL), "/"),
		AuthHeader: "Bearer " + token,
	}, nil
}

// Client talks to the LiveKit control API. All calls are plain reads or
// single mutations; the client holds no state beyond its HTTP transport.
type Client struct {
	http   *http.Client
	logger logging.Logger
}

// NewClient builds a control-plane client with a per-call timeout and a
// circuit breaker in front of the transport.
func NewClient(timeout time.Duration, logger logging.Logger) *Client {
	logger = logging.OrNop(logger)
	return &Client{
		http:   httpclient.NewWithCircuitBreaker(timeout, logger, "livekit-control"),
		logger: logger,
	}
}

// ListDispatches returns every dispatch record for the room. A 404 means the
// room has none and yields an empty slice, not an error.
func (c *Client) ListDispatches(ctx context.Context, cc CallContext, room string) ([]AgentDispatch, error) {
	var out struct {
		AgentDispatches []AgentDispatch `json:"agentDispatches"`
	}
	request := map[string]string{"room": room}
	if err := c.post(ctx, cc, "ListDispatch", agentDispatchServicePrefix+"ListDispatch", request, &out, true); err != nil {
		return nil, err
	}
	if out.AgentDispatches == nil {
		return []AgentDispatch{}, nil
	}
	return out.AgentDispatches, nil
}

// ListAgentDispatches filters ListDispatches by case-insensitive agent name.
func (c *Client) ListAgentDispatches(ctx context.Context, cc CallContext, room, agentName string) ([]AgentDispatch, error) {
	all, err := c.ListDispatches(ctx, cc, room)
	if err != nil {
		return nil, err
	}
	matching := make([]AgentDispatch, 0, len(all))
	for _, dispatch := range all {
		if dispatch.MatchesAgent(agentName) {
			matching = append(matching, dispatch)
		}
	}
	return matching, nil
}

// CreateDispatch requests a new agent session in the room. Trivial metadata
// (blank, "{}" or "null") is not attached.
func (c *Client) CreateDispatch(ctx context.Context, cc CallContext, room, agentName, metadata string) (AgentDispatch, error) {
	request := map[string]string{
		"room":      room,
		"agentName": agentName,
	}
	if !TrivialMetadata(metadata) {
		request["metadata"] = metadata
	}

	var out struct {
		AgentDispatch AgentDispatch `json:"agentDispatch"`
	}
	if err := c.post(ctx, cc, "CreateDispatch", agentDispatchServicePrefix+"CreateDispatch", request, &out, false); err != nil {
		return AgentDispatch{}, err
	}
	c.logger.Info("created dispatch %s for agent %s in room %s", out.AgentDispatch.ID, agentName, room)
	return out.AgentDispatch, nil
}

// DeleteDispatch removes a dispatch record. A 404 means it is already gone
// and is treated as success.
func (c *Client) DeleteDispatch(ctx context.Context, cc CallContext, room, dispatchID string) error {
	request := map[string]string{
		"room":       room,
		"dispatchId": dispatchID,
	}
	var out struct{}
	return c.post(ctx, cc, "DeleteDispatch", agentDispatchServicePrefix+"DeleteDispatch", request, &out, true)
}

// ListParticipants returns the live connections in the room; 404 yields empty.
func (c *Client) ListParticipants(ctx context.Context, cc CallContext, room string) ([]RoomParticipant, error) {
	var out struct {
		Participants []RoomParticipant `json:"participants"`
	}
	request := map[string]string{"room": room}
	if err := c.post(ctx, cc, "ListParticipants", roomServicePrefix+"ListParticipants", request, &out, true); err != nil {
		return nil, err
	}
	if out.Participants == nil {
		return []RoomParticipant{}, nil
	}
	return out.Participants, nil
}

// RemoveParticipant forcibly disconnects an identity from the room. A 404
// means the participant already left.
func (c *Client) RemoveParticipant(ctx context.Context, cc CallContext, room, identity string) error {
	request := map[string]string{
		"room":     room,
		"identity": identity,
	}
	var out struct{}
	return c.post(ctx, cc, "RemoveParticipant", roomServicePrefix+"RemoveParticipant", request, &out, true)
}

// post issues one Twirp-style JSON call. When notFoundOK is set, a 404 leaves
// out untouched and returns nil: the target's absence is an expected steady
// state for list and delete calls.
func (c *Client) post(ctx context.Context, cc CallContext, call, path string, payload, out any, notFoundOK bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", call, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", call, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", cc.AuthHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		var unavailable *stagehanderrors.UnavailableError
		if errors.As(err, &unavailable) {
			return unavailable
		}
		return stagehanderrors.NewUpstreamTransportError(call, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFoundOK {
		c.logger.Debug("%s returned 404, treating as empty", call)
		return nil
	}

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, maxResponseBytes)
	if err != nil {
		return stagehanderrors.NewUpstreamTransportError(call, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return stagehanderrors.NewUpstreamStatusError(call, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return stagehanderrors.NewUpstreamTransportError(call, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
