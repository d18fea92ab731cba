package livekit

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the closed enumeration all downstream logic operates on.
// Upstream serializes job status either as a proto enum name or as its
// numeric code; both are normalized here, at the deserialization boundary.
type JobStatus int

const (
	JobStatusUnknown JobStatus = iota
	JobStatusPending
	JobStatusRunning
	JobStatusSuccess
	JobStatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "pending"
	case JobStatusRunning:
		return "running"
	case JobStatusSuccess:
		return "success"
	case JobStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsActive reports whether a job in this status still occupies the room.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// UnmarshalJSON accepts "JS_RUNNING", "RUNNING", "running" and the numeric
// proto codes (0=pending, 1=running, 2=success, 3=failed).
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = JobStatusUnknown
		return nil
	}

	if trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			*s = JobStatusUnknown
			return nil
		}
		*s = jobStatusFromName(name)
		return nil
	}

	var code int
	if err := json.Unmarshal(trimmed, &code); err != nil {
		*s = JobStatusUnknown
		return nil
	}
	*s = jobStatusFromCode(code)
	return nil
}

func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToUpper(s.String()))
}

func jobStatusFromName(name string) JobStatus {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.TrimPrefix(normalized, "JS_")
	switch normalized {
	case "PENDING":
		return JobStatusPending
	case "RUNNING":
		return JobStatusRunning
	case "SUCCESS":
		return JobStatusSuccess
	case "FAILED":
		return JobStatusFailed
	default:
		return JobStatusUnknown
	}
}

func jobStatusFromCode(code int) JobStatus {
	switch code {
	case 0:
		return JobStatusPending
	case 1:
		return JobStatusRunning
	case 2:
		return JobStatusSuccess
	case 3:
		return JobStatusFailed
	default:
		return JobStatusUnknown
	}
}

// Timestamp alias lists, in resolution order. These exist only because the
// upstream schema has drifted between camelCase, snake_case and proto field
// names; they are a compatibility shim, not intended long-term behavior.
var (
	startedAtAliases = []string{"startedAt", "started_at", "startTime"}
	updatedAtAliases = []string{"updatedAt", "updated_at", "updateTime"}
	endedAtAliases   = []string{"endedAt", "ended_at", "endTime"}
	deletedAtAliases = []string{"deletedAt", "deleted_at"}
)

// NormalizeTimestamp resolves a polymorphic timestamp value (epoch seconds,
// millis or nanos as a number or numeric string, or an RFC3339 string) to
// epoch milliseconds. Zero means the value was absent or unreadable.
func NormalizeTimestamp(raw json.RawMessage) int64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0
		}
		if numeric, err := strconv.ParseFloat(text, 64); err == nil {
			return epochToMillis(numeric)
		}
		if parsed, err := time.Parse(time.RFC3339, text); err == nil {
			return parsed.UnixMilli()
		}
		if parsed, err := time.Parse(time.RFC3339Nano, text); err == nil {
			return parsed.UnixMilli()
		}
		return 0
	}

	var numeric float64
	if err := json.Unmarshal(trimmed, &numeric); err != nil {
		return 0
	}
	return epochToMillis(numeric)
}

// epochToMillis guesses the unit of an epoch value by magnitude: seconds
// until ~5138, millis until far beyond that, nanos for anything larger.
func epochToMillis(value float64) int64 {
	if value <= 0 {
		return 0
	}
	switch {
	case value < 1e11:
		return int64(value * 1000)
	case value < 1e14:
		return int64(value)
	default:
		return int64(value / 1e6)
	}
}

// Job is one agent job attached to a dispatch record.
type Job struct {
	ID     string
	Status JobStatus
	Error  string

	// Epoch milliseconds, 0 when unknown.
	StartedAt int64
	UpdatedAt int64
	EndedAt   int64
}

// UnmarshalJSON tolerates the field-name drift described above.
func (j *Job) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &j.ID)
	}
	if raw, ok := fields["status"]; ok {
		_ = j.Status.UnmarshalJSON(raw)
	}
	if raw, ok := fields["error"]; ok {
		_ = json.Unmarshal(raw, &j.Error)
	}

	j.StartedAt = resolveTimestamp(fields, startedAtAliases)
	j.UpdatedAt = resolveTimestamp(fields, updatedAtAliases)
	j.EndedAt = resolveTimestamp(fields, endedAtAliases)
	return nil
}

func (j Job) MarshalJSON() ([]byte, error) {
	type wireJob struct {
		ID        string    `json:"id,omitempty"`
		Status    JobStatus `json:"status"`
		Error     string    `json:"error,omitempty"`
		StartedAt int64     `json:"startedAt,omitempty"`
		UpdatedAt int64     `json:"updatedAt,omitempty"`
		EndedAt   int64     `json:"endedAt,omitempty"`
	}
	return json.Marshal(wireJob{
		ID:        j.ID,
		Status:    j.Status,
		Error:     j.Error,
		StartedAt: j.StartedAt,
		UpdatedAt: j.UpdatedAt,
		EndedAt:   j.EndedAt,
	})
}

// Timestamp returns the most recent known time for this job.
func (j Job) Timestamp() int64 {
	ts := j.StartedAt
	if j.UpdatedAt > ts {
		ts = j.UpdatedAt
	}
	if j.EndedAt > ts {
		ts = j.EndedAt
	}
	return ts
}

func resolveTimestamp(fields map[string]json.RawMessage, aliases []string) int64 {
	for _, alias := range aliases {
		if raw, ok := fields[alias]; ok {
			if millis := NormalizeTimestamp(raw); millis != 0 {
				return millis
			}
		}
	}
	return 0
}

// DispatchState carries the job list and the logical-deletion marker.
type DispatchState struct {
	Jobs      []Job
	DeletedAt int64
}

func (s *DispatchState) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["jobs"]; ok {
		_ = json.Unmarshal(raw, &s.Jobs)
	}
	s.DeletedAt = resolveTimestamp(fields, deletedAtAliases)
	return nil
}

func (s DispatchState) MarshalJSON() ([]byte, error) {
	type wireState struct {
		Jobs      []Job `json:"jobs,omitempty"`
		DeletedAt int64 `json:"deletedAt,omitempty"`
	}
	return json.Marshal(wireState{Jobs: s.Jobs, DeletedAt: s.DeletedAt})
}

// AgentDispatch is one requested or running agent session in a room.
type AgentDispatch struct {
	ID        string         `json:"id,omitempty"`
	AgentName string         `json:"agentName"`
	Room      string         `json:"room,omitempty"`
	Metadata  string         `json:"metadata,omitempty"`
	State     *DispatchState `json:"state,omitempty"`
}

// Deleted reports whether the dispatch is logically deleted upstream.
func (d AgentDispatch) Deleted() bool {
	return d.State != nil && d.State.DeletedAt != 0
}

// Active is the canonical activity predicate: the dispatch has been accepted
// upstream (has an id), is not logically deleted, and at least one of its
// jobs is still running or pending.
func (d AgentDispatch) Active() bool {
	if d.ID == "" || d.Deleted() || d.State == nil {
		return false
	}
	for _, job := range d.State.Jobs {
		if job.Status.IsActive() {
			return true
		}
	}
	return false
}

// MatchesAgent compares agent names case-insensitively.
func (d AgentDispatch) MatchesAgent(agentName string) bool {
	return strings.EqualFold(strings.TrimSpace(d.AgentName), strings.TrimSpace(agentName))
}

// AgentIdentityPrefix marks server-side participants that joined through the
// agent framework rather than a browser.
const AgentIdentityPrefix = "agent-"

// RoomParticipant is a live connection in a room.
type RoomParticipant struct {
	Identity string          `json:"identity"`
	State    json.RawMessage `json:"state,omitempty"`
}

// IsAgent reports whether the participant looks like the named agent: either
// identity equality (case-insensitive) or the agent identity prefix.
func (p RoomParticipant) IsAgent(agentName string) bool {
	identity := strings.TrimSpace(p.Identity)
	if identity == "" {
		return false
	}
	if strings.EqualFold(identity, strings.TrimSpace(agentName)) {
		return true
	}
	return strings.HasPrefix(strings.ToLower(identity), AgentIdentityPrefix)
}

// TrivialMetadata reports whether a metadata string carries no information
// worth attaching to a dispatch.
func TrivialMetadata(metadata string) bool {
	trimmed := strings.TrimSpace(metadata)
	return trimmed == "" || trimmed == "{}" || trimmed == "null"
}
