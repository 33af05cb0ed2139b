package shadow

import "encoding/json"

type (
	// Action identifies a shadow operation.
	Action int

	// AckStatus is the outcome of a shadow action delivered to its callback.
	AckStatus int

	// Ack carries the acknowledgement delivered to an action callback. For an
	// accepted action Document holds the full reply payload; for a rejected
	// action Code and Message describe the rejection. A timed-out action
	// receives no Ack at all.
	Ack struct {
		Document json.RawMessage
		Code     string
		Message  string
	}

	// ActionCallback is invoked exactly once per accepted send: with the
	// accept or reject acknowledgement when the matching reply arrives, or
	// with a nil Ack when the request times out. It runs on a transport or
	// housekeeper goroutine and may call back into the client.
	ActionCallback func(action Action, status AckStatus, ack *Ack)

	// DeltaCallback is invoked when a delta message carries the handler's
	// property. A non-nil UserError rejects the delta; it is reported back to
	// the server and stops dispatch to later handlers.
	DeltaCallback func(key string, desired json.RawMessage) *UserError

	// UserError describes why a delta handler rejected a delta. Release, if
	// set, is called once after the rejection has been published.
	UserError struct {
		Code    string
		Message string
		Release func()
	}
)

// The shadow actions.
const (
	ActionInvalid Action = iota
	ActionUpdate
	ActionGet
	ActionDelete
)

// The acknowledgement statuses.
const (
	AckAccepted AckStatus = iota
	AckRejected
	AckTimeout
)

// RootKey registers a delta handler for the whole desired document rather
// than a single property.
const RootKey = "root"

// String returns the action's name.
func (a Action) String() string {
	switch a {
	case ActionUpdate:
		return "update"
	case ActionGet:
		return "get"
	case ActionDelete:
		return "delete"
	default:
		return "invalid"
	}
}

// String returns the status's name.
func (s AckStatus) String() string {
	switch s {
	case AckAccepted:
		return "accepted"
	case AckRejected:
		return "rejected"
	default:
		return "timeout"
	}
}
