package shadow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tempbottle/iot-edge-sdk-go/internal/wallclock"
	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

// Update reports device state to the shadow. The reported JSON object is
// wrapped as {"reported": ...} on the wire. The callback receives the
// acknowledgement, rejection, or timeout for this request.
func (c *Client) Update(
	ctx context.Context,
	reported json.RawMessage,
	callback ActionCallback,
	timeout time.Duration,
) error {
	if c == nil {
		exitNilArgument("client")
	}
	if len(reported) == 0 {
		return &errors.Error{
			Message:      "reported document must not be empty",
			Kind:         errors.BadArgument,
			PropertyName: "reported",
		}
	}

	return c.send(ctx, ActionUpdate, map[string]any{
		"reported": reported,
	}, callback, timeout)
}

// Get fetches the current shadow document. The callback receives it as the
// accepted acknowledgement's document.
func (c *Client) Get(
	ctx context.Context,
	callback ActionCallback,
	timeout time.Duration,
) error {
	if c == nil {
		exitNilArgument("client")
	}
	return c.send(ctx, ActionGet, map[string]any{}, callback, timeout)
}

// Delete removes the shadow document from the server.
func (c *Client) Delete(
	ctx context.Context,
	callback ActionCallback,
	timeout time.Duration,
) error {
	if c == nil {
		exitNilArgument("client")
	}
	return c.send(ctx, ActionDelete, map[string]any{}, callback, timeout)
}

// send allocates a request id, reserves an in-flight slot, and publishes the
// request on the action's send topic.
func (c *Client) send(
	ctx context.Context,
	action Action,
	body map[string]any,
	callback ActionCallback,
	timeout time.Duration,
) error {
	topic := c.topics.send(action)
	if topic == "" {
		return &errors.Error{
			Message:       "unsupported action",
			Kind:          errors.BadArgument,
			PropertyName:  "action",
			PropertyValue: action,
		}
	}

	if !c.IsConnected() {
		return &errors.Error{
			Message: "client is not connected and subscribed",
			Kind:    errors.NotConnected,
		}
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return &errors.Error{
			Message:     "failed to generate request id",
			Kind:        errors.Failure,
			NestedError: err,
		}
	}
	requestID := id.String()

	if err := c.messages.insert(
		requestID,
		action,
		callback,
		timeout,
		wallclock.Instance.Now(),
	); err != nil {
		return err
	}

	// A failed publish leaves the entry in place; the sweeper delivers the
	// timeout on the caller's error path.
	if err := c.publish(ctx, topic, requestID, body); err != nil {
		c.log.Err(ctx, err)
		return err
	}
	return nil
}
