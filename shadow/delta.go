package shadow

import (
	"encoding/json"
	"sync"

	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

type (
	deltaHandler struct {
		key      string
		callback DeltaCallback
	}

	// deltaRegistry is the add-only, fixed-capacity set of delta handlers for
	// one client. Handlers are invoked in registration order; the first
	// handler to return a UserError short-circuits the rest. The mutex is
	// held across handler calls to serialize delta processing, which is why
	// handlers must not register further handlers.
	deltaRegistry struct {
		mu       sync.Mutex
		handlers []deltaHandler
		capacity int
	}
)

func newDeltaRegistry(capacity int) *deltaRegistry {
	return &deltaRegistry{capacity: capacity}
}

// register appends a handler for the given property key, or for the whole
// desired document when the key is RootKey.
func (r *deltaRegistry) register(key string, callback DeltaCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.handlers) >= r.capacity {
		return &errors.Error{
			Message: "delta handler registry is full",
			Kind:    errors.TooManyDeltaHandlers,
		}
	}

	r.handlers = append(r.handlers, deltaHandler{key, callback})
	return nil
}

// dispatch walks the handlers in registration order. A root handler receives
// the whole desired object; a keyed handler receives the value at its key,
// and is skipped when the key is absent. Key lookup is case-sensitive.
func (r *deltaRegistry) dispatch(desired json.RawMessage) *UserError {
	var properties map[string]json.RawMessage
	if err := json.Unmarshal(desired, &properties); err != nil {
		properties = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers {
		var userErr *UserError
		if h.key == RootKey {
			userErr = h.callback(RootKey, desired)
		} else if property, ok := properties[h.key]; ok {
			userErr = h.callback(h.key, property)
		}
		if userErr != nil {
			return userErr
		}
	}
	return nil
}
