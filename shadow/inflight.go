package shadow

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

type (
	// inFlightEntry is a pending request that has been published but not yet
	// acknowledged or timed out.
	inFlightEntry struct {
		requestID string
		action    Action
		callback  ActionCallback
		timestamp time.Time
		timeout   time.Duration
		occupied  bool
	}

	// inFlightTable is the fixed-capacity set of pending requests for one
	// client. Every insert is paired with exactly one callback invocation,
	// delivered by complete or by sweep; the slot is then free. The mutex is
	// never held across a user callback: the entry is captured into locals,
	// the slot released, the lock dropped, and only then does the callback
	// fire, so a callback may safely call back into the engine.
	inFlightTable struct {
		mu    sync.Mutex
		slots []inFlightEntry
	}
)

func newInFlightTable(capacity int) *inFlightTable {
	return &inFlightTable{slots: make([]inFlightEntry, capacity)}
}

// insert reserves a free slot for the request, stamping the current time.
func (t *inFlightTable) insert(
	requestID string,
	action Action,
	callback ActionCallback,
	timeout time.Duration,
	now time.Time,
) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].occupied {
			t.slots[i] = inFlightEntry{
				requestID: requestID,
				action:    action,
				callback:  callback,
				timestamp: now,
				timeout:   timeout,
				occupied:  true,
			}
			return nil
		}
	}

	return &errors.Error{
		Message: "in-flight message table is full",
		Kind:    errors.TooManyInFlight,
	}
}

// complete releases the slot whose request id matches (case-insensitively)
// and invokes its callback with the acknowledgement derived from the payload.
func (t *inFlightTable) complete(
	requestID string,
	status AckStatus,
	payload []byte,
) error {
	var entry inFlightEntry

	t.mu.Lock()
	for i := range t.slots {
		if t.slots[i].occupied &&
			strings.EqualFold(t.slots[i].requestID, requestID) {
			entry = t.slots[i]
			t.slots[i] = inFlightEntry{}
			break
		}
	}
	t.mu.Unlock()

	if !entry.occupied {
		return &errors.Error{
			Message:   "no in-flight message matching request id",
			Kind:      errors.NoMatchingInFlight,
			RequestID: requestID,
		}
	}

	if entry.callback != nil {
		entry.callback(entry.action, status, buildAck(status, payload))
	}
	return nil
}

// sweep releases every slot whose deadline has passed and invokes the
// callbacks with a timeout status and no acknowledgement.
func (t *inFlightTable) sweep(now time.Time) {
	var expired []inFlightEntry

	t.mu.Lock()
	for i := range t.slots {
		e := &t.slots[i]
		if e.occupied && now.Sub(e.timestamp) > e.timeout {
			expired = append(expired, *e)
			t.slots[i] = inFlightEntry{}
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		if e.callback != nil {
			e.callback(e.action, AckTimeout, nil)
		}
	}
}

// buildAck derives the acknowledgement value from a reply payload: the whole
// document for an accepted reply, the code and message fields for a rejected
// one.
func buildAck(status AckStatus, payload []byte) *Ack {
	switch status {
	case AckAccepted:
		return &Ack{Document: json.RawMessage(payload)}
	case AckRejected:
		var rejection struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		// A rejection missing code or message still completes the request;
		// the fields are simply left empty.
		_ = json.Unmarshal(payload, &rejection)
		return &Ack{Code: rejection.Code, Message: rejection.Message}
	default:
		return nil
	}
}
