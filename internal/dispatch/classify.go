package dispatch

import "strings"

// Error codes surfaced to the UI when an agent job failed. These ride inside
// a 200 response so the caller can render an actionable message instead of
// treating the request itself as failed.
const (
	ErrCodeInvalidAPIKey    = "invalid_api_key"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeDispatchFailed   = "dispatch_failed"
)

// ClassifyJobError buckets a failed job's error detail into a stable code and
// a user-facing message. Matching is case-insensitive substring search over
// the raw upstream detail.
func ClassifyJobError(detail string) (code, message string) {
	lowered := strings.ToLower(detail)
	switch {
	case strings.Contains(lowered, "api key not valid"):
		return ErrCodeInvalidAPIKey, "The configured LiveKit API key was rejected. Check LIVEKIT_API_KEY and LIVEKIT_API_SECRET."
	case strings.Contains(lowered, "not entitled"), strings.Contains(lowered, "permission"):
		return ErrCodePermissionDenied, "The LiveKit project is not allowed to run this agent."
	default:
		return ErrCodeDispatchFailed, "The agent failed to start."
	}
}
