// Package dispatch holds the reconciliation state machine that converges a
// room toward "exactly one active agent dispatch, or none". All durable state
// lives upstream; every pass re-reads it and decides whether to reuse an
// existing agent session, tear down stale or foreign ones, or create a new one.
package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"stagehand/internal/config"
	"stagehand/internal/livekit"
	"stagehand/internal/logging"
)

// Reconciler executes one read-decide-act cycle per inbound request. It holds
// no mutable state of its own; concurrent passes for the same room converge
// on subsequent calls rather than excluding each other locally.
type Reconciler struct {
	cfg    config.Config
	client *livekit.Client
	logger logging.Logger
}

// NewReconciler wires the reconciler to its configuration and control client.
func NewReconciler(cfg config.Config, client *livekit.Client, logger logging.Logger) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		client: client,
		logger: logging.OrNop(logger),
	}
}

// StatusResult reports the current agent state in a room.
type StatusResult struct {
	Active       bool                   `json:"active"`
	AgentPresent bool                   `json:"agentPresent"`
	Dispatch     *livekit.AgentDispatch `json:"dispatch"`
	Total        int                    `json:"total"`
	Error        string                 `json:"error,omitempty"`
	ErrorCode    string                 `json:"errorCode,omitempty"`
	ErrorDetail  string                 `json:"errorDetail,omitempty"`
}

// EnsureResult is a StatusResult plus whether an existing session was reused.
type EnsureResult struct {
	StatusResult
	Reused bool `json:"reused"`
}

// ReleaseResult reports how many dispatch records a release removed.
type ReleaseResult struct {
	Removed int `json:"removed"`
}

func (r *Reconciler) callContext(room string) (livekit.CallContext, error) {
	return livekit.NewCallContext(r.cfg.APIKey, r.cfg.APISecret, r.cfg.ServerURL, room)
}

// Status is the read-only pass: report whether the configured agent has an
// active dispatch and a live participant in the room, and classify the most
// recent job failure when nothing newer is still running.
func (r *Reconciler) Status(ctx context.Context, room string) (*StatusResult, error) {
	cc, err := r.callContext(room)
	if err != nil {
		return nil, err
	}

	matching, err := r.client.ListAgentDispatches(ctx, cc, room, r.cfg.AgentName)
	if err != nil {
		return nil, err
	}
	active := firstActive(matching)

	participants, err := r.client.ListParticipants(ctx, cc, room)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		Active:       active != nil,
		AgentPresent: agentPresent(participants, r.cfg.AgentName),
		Dispatch:     active,
		Total:        len(matching),
	}

	if detail, failed := latestUnresolvedFailure(matching); failed {
		code, message := ClassifyJobError(detail)
		result.Error = message
		result.ErrorCode = code
		result.ErrorDetail = detail
	}

	return result, nil
}

// EnsureActive is the idempotent mutation. The step order matters: evict
// foreign agents first, then reuse an active dispatch or a live participant
// before creating anything, so repeated calls never stack agent sessions.
func (r *Reconciler) EnsureActive(ctx context.Context, room, metadata string) (*EnsureResult, error) {
	cc, err := r.callContext(room)
	if err != nil {
		return nil, err
	}

	all, err := r.client.ListDispatches(ctx, cc, room)
	if err != nil {
		return nil, err
	}

	// Only one agent type per room: dispatches for any other agent are
	// conflicts and go first.
	var foreign, own []livekit.AgentDispatch
	for _, dispatch := range all {
		if dispatch.MatchesAgent(r.cfg.AgentName) {
			own = append(own, dispatch)
		} else if dispatch.ID != "" {
			foreign = append(foreign, dispatch)
		}
	}
	if len(foreign) > 0 {
		r.logger.Info("evicting %d foreign dispatch(es) from room %s", len(foreign), room)
		if err := r.deleteDispatches(ctx, cc, room, foreign); err != nil {
			return nil, err
		}
	}

	// At-most-one-active-dispatch guarantee: an already active dispatch is
	// always reused, never duplicated.
	if active := firstActive(own); active != nil {
		r.logger.Info("reusing active dispatch %s in room %s", active.ID, room)
		return &EnsureResult{
			StatusResult: StatusResult{Active: true, Dispatch: active, Total: len(own)},
			Reused:       true,
		}, nil
	}

	// The dispatch records may lag the room state while upstream converges;
	// a live agent participant means the agent is effectively there already.
	participants, err := r.client.ListParticipants(ctx, cc, room)
	if err != nil {
		return nil, err
	}
	if agentPresent(participants, r.cfg.AgentName) {
		r.logger.Info("agent participant already connected in room %s, skipping create", room)
		return &EnsureResult{
			StatusResult: StatusResult{AgentPresent: true, Total: len(own)},
			Reused:       true,
		}, nil
	}

	// Everything left for this agent is stale; clear it before creating the
	// single replacement.
	stale := withIDs(own)
	if len(stale) > 0 {
		r.logger.Info("removing %d stale dispatch(es) for agent %s in room %s", len(stale), r.cfg.AgentName, room)
		if err := r.deleteDispatches(ctx, cc, room, stale); err != nil {
			return nil, err
		}
	}

	created, err := r.client.CreateDispatch(ctx, cc, room, r.cfg.AgentName, metadata)
	if err != nil {
		return nil, err
	}
	return &EnsureResult{
		StatusResult: StatusResult{Active: true, Dispatch: &created, Total: 1},
		Reused:       false,
	}, nil
}

// Release deletes this agent's dispatch records in the room and, best-effort,
// kicks any live agent participants. The dispatch deletion is the contract;
// participant removal failures are logged and swallowed.
func (r *Reconciler) Release(ctx context.Context, room string) (*ReleaseResult, error) {
	cc, err := r.callContext(room)
	if err != nil {
		return nil, err
	}

	matching, err := r.client.ListAgentDispatches(ctx, cc, room, r.cfg.AgentName)
	if err != nil {
		return nil, err
	}
	owned := withIDs(matching)
	if err := r.deleteDispatches(ctx, cc, room, owned); err != nil {
		return nil, err
	}

	participants, err := r.client.ListParticipants(ctx, cc, room)
	if err != nil {
		r.logger.Warn("listing participants for cleanup failed in room %s: %v", room, err)
	} else {
		for _, participant := range participants {
			if !participant.IsAgent(r.cfg.AgentName) {
				continue
			}
			if err := r.client.RemoveParticipant(ctx, cc, room, participant.Identity); err != nil {
				r.logger.Warn("removing agent participant %s from room %s failed: %v", participant.Identity, room, err)
			}
		}
	}

	return &ReleaseResult{Removed: len(owned)}, nil
}

// deleteDispatches fans out deletes for one step and waits for all of them.
// Order within the step does not matter; the step as a whole does.
func (r *Reconciler) deleteDispatches(ctx context.Context, cc livekit.CallContext, room string, dispatches []livekit.AgentDispatch) error {
	if len(dispatches) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, dispatch := range dispatches {
		if dispatch.ID == "" {
			continue
		}
		id := dispatch.ID
		g.Go(func() error {
			return r.client.DeleteDispatch(ctx, cc, room, id)
		})
	}
	return g.Wait()
}

func firstActive(dispatches []livekit.AgentDispatch) *livekit.AgentDispatch {
	for i := range dispatches {
		if dispatches[i].Active() {
			return &dispatches[i]
		}
	}
	return nil
}

func withIDs(dispatches []livekit.AgentDispatch) []livekit.AgentDispatch {
	kept := make([]livekit.AgentDispatch, 0, len(dispatches))
	for _, dispatch := range dispatches {
		if dispatch.ID != "" {
			kept = append(kept, dispatch)
		}
	}
	return kept
}

func agentPresent(participants []livekit.RoomParticipant, agentName string) bool {
	for _, participant := range participants {
		if participant.IsAgent(agentName) {
			return true
		}
	}
	return false
}

// latestUnresolvedFailure scans all jobs across the agent's dispatches for
// the most recent failed one. A failure is only surfaced when no job at least
// as new is still running or pending, so a successful retry mutes the error.
func latestUnresolvedFailure(dispatches []livekit.AgentDispatch) (detail string, failed bool) {
	var newestFailed *livekit.Job
	var newestFailedTS int64
	var newestActiveTS int64 = -1

	for i := range dispatches {
		if dispatches[i].State == nil {
			continue
		}
		for j := range dispatches[i].State.Jobs {
			job := &dispatches[i].State.Jobs[j]
			ts := job.Timestamp()
			switch {
			case job.Status == livekit.JobStatusFailed:
				if newestFailed == nil || ts > newestFailedTS {
					newestFailed = job
					newestFailedTS = ts
				}
			case job.Status.IsActive():
				if ts > newestActiveTS {
					newestActiveTS = ts
				}
			}
		}
	}

	if newestFailed == nil {
		return "", false
	}
	if newestActiveTS >= newestFailedTS {
		return "", false
	}
	return newestFailed.Error, true
}
