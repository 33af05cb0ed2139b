// Package errors defines the structured errors returned by the shadow SDK.
package errors

type (
	// Error represents a structured SDK error.
	Error struct {
		Message string
		Kind    Kind

		NestedError error

		PropertyName  string
		PropertyValue any

		RequestID string
		Topic     string
	}

	// Kind defines the type of error being returned.
	Kind int
)

// The following are the defined error kinds.
const (
	// BadArgument indicates malformed input, such as an unsupported shadow
	// action or an impossible delta key.
	BadArgument Kind = iota

	// NotConnected indicates that the client is not both connected to the
	// broker and subscribed to its reply topics.
	NotConnected

	// TooManyInFlight indicates that the in-flight table is full.
	TooManyInFlight

	// TooManyDeltaHandlers indicates that the delta registry is full.
	TooManyDeltaHandlers

	// NoMatchingInFlight indicates that an inbound reply carried a request id
	// with no live in-flight entry. It is informational and never surfaced to
	// callers of the public API.
	NoMatchingInFlight

	// PayloadInvalid indicates that a payload could not be parsed or was
	// missing a mandatory field.
	PayloadInvalid

	// Timeout indicates that a bounded wait elapsed.
	Timeout

	// Failure indicates a transport-level failure not further classifiable.
	Failure
)

// Error returns the error as a string.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the nested error, if any.
func (e *Error) Unwrap() error {
	return e.NestedError
}

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case BadArgument:
		return "bad argument"
	case NotConnected:
		return "not connected"
	case TooManyInFlight:
		return "too many in-flight messages"
	case TooManyDeltaHandlers:
		return "too many delta handlers"
	case NoMatchingInFlight:
		return "no matching in-flight message"
	case PayloadInvalid:
		return "payload invalid"
	case Timeout:
		return "timeout"
	default:
		return "failure"
	}
}
