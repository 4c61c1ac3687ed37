package errors

import "strings"

// APIErrorKind groups provider failures by how they are reported to the user.
type APIErrorKind int

const (
	APIErrorGeneric APIErrorKind = iota
	APIErrorSafety
	APIErrorRateLimit
	APIErrorAuth
)

func (k APIErrorKind) String() string {
	switch k {
	case APIErrorSafety:
		return "safety"
	case APIErrorRateLimit:
		return "rate_limit"
	case APIErrorAuth:
		return "auth"
	default:
		return "generic"
	}
}

// APIError is a classified transport or provider failure.
type APIError struct {
	Kind APIErrorKind
	Err  error
}

func (e *APIError) Error() string { return e.Err.Error() }

func (e *APIError) Unwrap() error { return e.Err }

// UserMessage is the text shown to the user in place of the raw error.
func (e *APIError) UserMessage() string {
	switch e.Kind {
	case APIErrorSafety:
		return "⚠️ Request blocked by safety filters. Try rephrasing your message."
	case APIErrorRateLimit:
		return "⚠️ Rate limit exceeded. Please wait a moment before trying again."
	case APIErrorAuth:
		return "⚠️ API authentication error. Check your API key."
	default:
		return "API Error: " + e.Err.Error()
	}
}

// ClassifyAPIError matches well-known substrings of a provider error. The
// first matching category wins, checked in the order safety, rate limit, auth.
func ClassifyAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if As(err, &apiErr) {
		return apiErr
	}
	msg := err.Error()
	kind := APIErrorGeneric
	switch {
	case strings.Contains(msg, "SAFETY_CHECK") || strings.Contains(msg, "violates usage guidelines"):
		kind = APIErrorSafety
	case strings.Contains(msg, "rate_limit") || strings.Contains(msg, "429"):
		kind = APIErrorRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "permission"):
		kind = APIErrorAuth
	}
	return &APIError{Kind: kind, Err: err}
}
