package reliability

// IsRetryableHTTPStatus classifies retryable HTTP status codes for the
// fallback recognition and synthesis endpoints.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeCode classifies error codes received on the
// realtime socket that a caller may reasonably retry after a fresh
// connect. Anything else is terminal for the current attempt.
func IsRetryableRealtimeCode(code string) bool {
	switch code {
	case "rate_limited", "server_error", "session_expired", "resource_exhausted":
		return true
	default:
		return false
	}
}
