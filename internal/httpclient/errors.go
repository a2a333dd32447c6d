package httpclient

import "fmt"

// ClientError is a permanent, non-retryable failure for the segment that
// triggered it (engine 400/404, missing speaker sample, text exceeding the
// engine's max input length).
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error (status %d): %s", e.StatusCode, e.Message)
}

// LoadingError indicates the engine reported 503 ("status":"loading"): a
// transient condition retried without restarting the engine, up to a
// cumulative wait cap.
type LoadingError struct {
	Message string
}

func (e *LoadingError) Error() string {
	return fmt.Sprintf("engine loading: %s", e.Message)
}

// ServerError is a transient-but-severe failure (engine 500, a transport
// failure, or any other exception) that triggers a stop+restart of the
// engine before the next attempt.
type ServerError struct {
	StatusCode int // 0 for transport-level failures (no HTTP response)
	Message    string
	Cause      error
}

func (e *ServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ServerError) Unwrap() error { return e.Cause }

// SpeakerSampleNotFoundError is an unrecoverable client error for the
// segment, per spec §4.4.
type SpeakerSampleNotFoundError struct {
	SpeakerName string
}

func (e *SpeakerSampleNotFoundError) Error() string {
	return fmt.Sprintf("speaker sample not found: %s", e.SpeakerName)
}
