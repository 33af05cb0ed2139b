package shadow

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/tempbottle/iot-edge-sdk-go/internal/log"
	"github.com/tempbottle/iot-edge-sdk-go/mqtt"
	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

// Client maintains the server-side shadow document for one device. Create it
// with NewClient, establish the connection with Connect, and release it with
// Close. All methods are safe for concurrent use.
type Client struct {
	deviceName string
	transport  mqtt.Client
	topics     *topicContract
	messages   *inFlightTable
	properties *deltaRegistry

	// Guards the connection flags and the last-error slot.
	mu         sync.Mutex
	connected  bool
	subscribed bool
	lastErr    error

	removeHandlers []func()

	log log.Logger
}

// NewClient creates a shadow client for the named device and registers it
// with the process-wide client group. Init must have been called first. The
// device name doubles as the MQTT client ID.
func NewClient(
	broker string,
	deviceName string,
	username string,
	password string,
	opt ...ClientOption,
) (*Client, error) {
	var opts ClientOptions
	opts.Apply(opt)

	if opts.TopicPrefix == "" {
		opts.TopicPrefix = TopicPrefix
	}
	if opts.InFlightCapacity == 0 {
		opts.InFlightCapacity = defaultInFlightCapacity
	}
	if opts.DeltaHandlerCapacity == 0 {
		opts.DeltaHandlerCapacity = defaultDeltaCapacity
	}

	group := currentGroup()
	if group == nil {
		return nil, &errors.Error{
			Message: "not initialized; call Init first",
			Kind:    errors.Failure,
		}
	}

	if deviceName == "" {
		return nil, &errors.Error{
			Message:      "device name must not be empty",
			Kind:         errors.BadArgument,
			PropertyName: "deviceName",
		}
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = mqtt.NewSessionClient(
			broker,
			deviceName,
			mqtt.WithUsername(username),
			mqtt.WithPassword(password),
			mqtt.WithKeepAlive(opts.KeepAlive),
			mqtt.WithConnectTimeout(opts.ConnectTimeout),
			mqtt.WithSubscribeTimeout(opts.SubscribeTimeout),
			mqtt.WithLogger(opts.Logger),
		)
		if err != nil {
			return nil, err
		}
	}

	c := &Client{
		deviceName: deviceName,
		transport:  transport,
		topics:     newTopicContract(opts.TopicPrefix, deviceName),
		messages:   newInFlightTable(opts.InFlightCapacity),
		properties: newDeltaRegistry(opts.DeltaHandlerCapacity),
		log:        log.Wrap(opts.Logger),
	}

	c.removeHandlers = []func(){
		transport.RegisterConnectEventHandler(c.onConnect),
		transport.RegisterDisconnectEventHandler(c.onConnectionLost),
		transport.RegisterMessageHandler(c.onMessage),
	}

	if err := group.add(c); err != nil {
		for _, remove := range c.removeHandlers {
			remove()
		}
		return nil, err
	}

	c.log.Info(context.Background(), "created",
		slog.String("device", deviceName))
	return c, nil
}

// Connect establishes the transport connection. It blocks until the broker
// accepts the connection or the connect timeout elapses. The one-shot
// subscription to the reply topics runs on the connect event; sends are
// accepted once it completes (see IsConnected).
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		exitNilArgument("client")
	}

	if err := c.transport.Connect(ctx); err != nil {
		c.setLastError(err)
		return err
	}
	return nil
}

// IsConnected reports whether the client is both connected to the broker and
// subscribed to its reply topics. Only then are sends accepted.
func (c *Client) IsConnected() bool {
	if c == nil {
		exitNilArgument("client")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.subscribed
}

// LastError returns the most recent transport error observed by the client,
// or nil.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RegisterDelta registers a callback for the given property key, or for the
// whole desired document when the key is RootKey. Handlers are add-only and
// are invoked in registration order. The client must be connected, so that
// no delta can slip past a registration the caller believes is active. A
// handler must not call RegisterDelta itself.
func (c *Client) RegisterDelta(key string, callback DeltaCallback) error {
	if c == nil {
		exitNilArgument("client")
	}
	if callback == nil {
		exitNilArgument("callback")
	}

	if key == "" {
		return &errors.Error{
			Message:      "key must not be empty; use RootKey for the whole document",
			Kind:         errors.BadArgument,
			PropertyName: "key",
		}
	}

	if !c.IsConnected() {
		return &errors.Error{
			Message: "client is not connected and subscribed",
			Kind:    errors.NotConnected,
		}
	}

	return c.properties.register(key, callback)
}

// Close detaches the client from the client group, disconnects the
// transport, and releases its resources. Outstanding in-flight callbacks are
// not fired; pending requests are abandoned.
func (c *Client) Close() error {
	if c == nil {
		exitNilArgument("client")
	}

	// Remove from the group first so future sweeps ignore this client.
	if group := currentGroup(); group != nil {
		group.remove(c)
	}

	for _, remove := range c.removeHandlers {
		remove()
	}

	if err := c.transport.Disconnect(); err != nil {
		var e *errors.Error
		// Disconnecting a never-connected client is not an error.
		if !stderrors.As(err, &e) || e.Kind != errors.NotConnected {
			return err
		}
	}

	c.log.Info(context.Background(), "destroyed",
		slog.String("device", c.deviceName))
	return nil
}

// onConnect runs on every successful connection, including reconnections.
// The broker session is clean, so the reply subscriptions must be
// re-established each time before sends are accepted again.
func (c *Client) onConnect(ctx context.Context) {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	if err := c.transport.Subscribe(ctx, c.topics.subscribe); err != nil {
		c.setLastError(err)
		c.log.Err(ctx, err)
		return
	}

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()

	c.log.Debug(ctx, "subscribed", slog.String("device", c.deviceName))
}

func (c *Client) onConnectionLost(ctx context.Context, err error) {
	c.mu.Lock()
	c.connected = false
	c.subscribed = false
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.log.Warn(ctx, "connection lost", slog.Any("cause", err))
}

// onMessage classifies every inbound message: delta messages go to the delta
// registry, replies are correlated back to their in-flight entry, everything
// else is logged and dropped.
func (c *Client) onMessage(ctx context.Context, msg *mqtt.Message) {
	if len(msg.Payload) < 3 {
		// Undersized to be valid JSON.
		return
	}

	c.log.Debug(ctx, "message arrived",
		slog.String("topic", msg.Topic),
		slog.String("payload", string(msg.Payload)))

	if c.topics.isDelta(msg.Topic) {
		c.deltaArrived(ctx, msg.Payload)
		return
	}

	_, status, ok := c.topics.classify(msg.Topic)
	if !ok {
		c.log.Err(ctx, &errors.Error{
			Message: "unexpected topic",
			Kind:    errors.Failure,
			Topic:   msg.Topic,
		})
		return
	}

	var reply struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		c.log.Err(ctx, &errors.Error{
			Message:     "cannot parse reply payload",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
			Topic:       msg.Topic,
		})
		return
	}
	if reply.RequestID == "" {
		c.log.Err(ctx, &errors.Error{
			Message: "reply carries no request id",
			Kind:    errors.PayloadInvalid,
			Topic:   msg.Topic,
		})
		return
	}

	if err := c.messages.complete(reply.RequestID, status, msg.Payload); err != nil {
		// Informational; never surfaced to callers.
		c.log.Warn(ctx, "no in-flight message matching reply",
			slog.String("request_id", reply.RequestID))
	}
}

// deltaArrived dispatches a delta to the registered handlers. If a handler
// rejects it, the rejection is reported back to the server on the
// delta/rejected topic and the handler's release hook is invoked.
func (c *Client) deltaArrived(ctx context.Context, payload []byte) {
	var delta struct {
		RequestID string          `json:"requestId"`
		Desired   json.RawMessage `json:"desired"`
	}
	if err := json.Unmarshal(payload, &delta); err != nil {
		c.log.Err(ctx, &errors.Error{
			Message:     "cannot parse delta payload",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		})
		return
	}

	c.log.Debug(ctx, "received delta",
		slog.String("request_id", delta.RequestID))

	userErr := c.properties.dispatch(delta.Desired)
	if userErr == nil {
		return
	}

	if err := c.publish(ctx, c.topics.deltaRejected, delta.RequestID,
		map[string]any{
			"code":    userErr.Code,
			"message": userErr.Message,
		}); err != nil {
		c.log.Err(ctx, err)
	}

	if userErr.Release != nil {
		userErr.Release()
	}
}

// publish stamps the request id onto the body, serializes it, and publishes
// at QoS 1, non-retained.
func (c *Client) publish(
	ctx context.Context,
	topic string,
	requestID string,
	body map[string]any,
) error {
	body["requestId"] = requestID

	payload, err := json.Marshal(body)
	if err != nil {
		return &errors.Error{
			Message:     "cannot serialize payload",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
			RequestID:   requestID,
		}
	}

	c.log.Debug(ctx, "publishing",
		slog.String("topic", topic),
		slog.String("payload", string(payload)))

	if err := c.transport.Publish(ctx, topic, payload); err != nil {
		return &errors.Error{
			Message:     "failed to publish",
			Kind:        errors.Failure,
			NestedError: err,
			RequestID:   requestID,
			Topic:       topic,
		}
	}
	return nil
}

func (c *Client) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
