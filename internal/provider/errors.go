package provider

import "fmt"

// ErrorKind classifies a provider failure once, at the client boundary.
// The orchestrator keys its retry decisions off the kind and never inspects
// free-text messages.
type ErrorKind string

const (
	// KindContentPolicy means the prompt or image was rejected by the
	// provider's usage policy. Changing the encoding cannot help.
	KindContentPolicy ErrorKind = "content_policy"
	// KindEncodingRejected means the provider refused the request shape
	// (MIME type, size, encoding). The next strategy may succeed.
	KindEncodingRejected ErrorKind = "encoding_rejected"
	// KindTransient covers rate limits, timeouts and network failures.
	KindTransient ErrorKind = "transient"
	// KindConfiguration covers bad credentials and similar operator errors.
	KindConfiguration ErrorKind = "configuration"
)

// TransformError is a classified provider failure.
type TransformError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TransformError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// RetryableWithNextStrategy reports whether trying an alternate encoding
// strategy makes sense for this failure.
func (e *TransformError) RetryableWithNextStrategy() bool {
	return e.Kind == KindEncodingRejected
}

// classify maps an HTTP status and the provider's machine-readable error
// type/code onto the taxonomy.
func classify(status int, errType, errCode, message string) *TransformError {
	switch errType {
	case "content_policy_violation", "moderation_blocked", "image_generation_user_error":
		return &TransformError{Kind: KindContentPolicy, Message: message}
	case "invalid_request_error":
		// Provider-side shape complaints; worth retrying with the other encoding.
		return &TransformError{Kind: KindEncodingRejected, Message: message}
	}
	switch errCode {
	case "content_policy_violation", "moderation_blocked":
		return &TransformError{Kind: KindContentPolicy, Message: message}
	case "rate_limit_exceeded":
		return &TransformError{Kind: KindTransient, Message: message}
	}

	switch {
	case status == 401 || status == 403:
		return &TransformError{Kind: KindConfiguration, Message: message}
	case status == 400 || status == 413 || status == 415 || status == 422:
		return &TransformError{Kind: KindEncodingRejected, Message: message}
	case status == 429 || status >= 500:
		return &TransformError{Kind: KindTransient, Message: message}
	default:
		return &TransformError{Kind: KindEncodingRejected, Message: message}
	}
}
