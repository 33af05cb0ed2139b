package mqtt

import (
	"context"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/tempbottle/iot-edge-sdk-go/internal/container"
	"github.com/tempbottle/iot-edge-sdk-go/internal/log"
	"github.com/tempbottle/iot-edge-sdk-go/internal/wallclock"
	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

// SessionClient implements the Client interface on top of the paho.golang
// connection manager, which owns keepalive, clean-session negotiation, and
// automatic reconnection.
type SessionClient struct {
	clientID string
	server   *url.URL

	conn *autopaho.ConnectionManager
	stop context.CancelFunc

	started   atomic.Bool
	connected atomic.Bool

	messageHandlers    *container.HandlerList[MessageHandler]
	connectHandlers    *container.HandlerList[ConnectEventHandler]
	disconnectHandlers *container.HandlerList[DisconnectEventHandler]

	options SessionClientOptions
	log     log.Logger
}

// NewSessionClient creates a new session client for the given broker URL. The
// client ID doubles as the device name in the common case.
func NewSessionClient(
	serverURL string,
	clientID string,
	opt ...SessionClientOption,
) (*SessionClient, error) {
	server, err := url.Parse(serverURL)
	if serverURL == "" || err != nil {
		return nil, &errors.Error{
			Message:       "invalid broker URL",
			Kind:          errors.BadArgument,
			NestedError:   err,
			PropertyName:  "serverURL",
			PropertyValue: serverURL,
		}
	}
	if clientID == "" {
		return nil, &errors.Error{
			Message:      "client ID must not be empty",
			Kind:         errors.BadArgument,
			PropertyName: "clientID",
		}
	}

	c := &SessionClient{
		clientID: clientID,
		server:   server,

		messageHandlers:    container.NewHandlerList[MessageHandler](),
		connectHandlers:    container.NewHandlerList[ConnectEventHandler](),
		disconnectHandlers: container.NewHandlerList[DisconnectEventHandler](),
	}

	c.options.Apply(opt)

	if c.options.KeepAlive == 0 {
		c.options.KeepAlive = defaultKeepAlive
	}
	if c.options.ConnectTimeout == 0 {
		c.options.ConnectTimeout = defaultConnectTimeout
	}
	if c.options.SubscribeTimeout == 0 {
		c.options.SubscribeTimeout = defaultSubscribeTimeout
	}

	c.log = log.Wrap(c.options.Logger)

	return c, nil
}

// Connect establishes the connection and starts the reconnection loop. It
// blocks until the broker accepts the connection or the connect timeout
// elapses.
func (c *SessionClient) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return &errors.Error{
			Message: "client already started",
			Kind:    errors.Failure,
		}
	}

	// Lifetime context for the connection manager; ends on Disconnect.
	clientCtx, stop := context.WithCancel(context.Background())
	c.stop = stop

	conn, err := autopaho.NewConnection(clientCtx, c.config(clientCtx))
	if err != nil {
		stop()
		c.started.Store(false)
		return &errors.Error{
			Message:     "failed to start connection",
			Kind:        errors.Failure,
			NestedError: err,
		}
	}
	c.conn = conn

	waitCtx, cancel := wallclock.Instance.WithTimeoutCause(
		ctx,
		c.options.ConnectTimeout,
		&errors.Error{Message: "connect timed out", Kind: errors.NotConnected},
	)
	defer cancel()

	if err := conn.AwaitConnection(waitCtx); err != nil {
		stop()
		c.started.Store(false)
		return &errors.Error{
			Message:     "connect failed",
			Kind:        errors.NotConnected,
			NestedError: err,
		}
	}
	return nil
}

// Disconnect sends a DISCONNECT packet to the broker and stops the
// reconnection loop.
func (c *SessionClient) Disconnect() error {
	if c.conn == nil {
		return &errors.Error{
			Message: "client not connected",
			Kind:    errors.NotConnected,
		}
	}

	c.connected.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.conn.Disconnect(ctx)
	c.stop()

	if err != nil && ctx.Err() == nil {
		return &errors.Error{
			Message:     "disconnect failed",
			Kind:        errors.Failure,
			NestedError: err,
		}
	}
	return nil
}

// Subscribe issues one subscribe request covering every provided topic and
// waits for the SUBACK, bounded by the subscribe timeout.
func (c *SessionClient) Subscribe(
	ctx context.Context,
	topics []string,
	opts ...SubscribeOption,
) error {
	var o SubscribeOptions
	o.Apply(opts)

	if len(topics) == 0 {
		return &errors.Error{
			Message:      "no topics to subscribe",
			Kind:         errors.BadArgument,
			PropertyName: "topics",
		}
	}
	if c.conn == nil {
		return &errors.Error{
			Message: "client not connected",
			Kind:    errors.NotConnected,
		}
	}

	subs := make([]paho.SubscribeOptions, len(topics))
	for i, topic := range topics {
		subs[i] = paho.SubscribeOptions{Topic: topic, QoS: o.QoS}
	}

	waitCtx, cancel := wallclock.Instance.WithTimeoutCause(
		ctx,
		c.options.SubscribeTimeout,
		&errors.Error{Message: "subscribe timed out", Kind: errors.Timeout},
	)
	defer cancel()

	if _, err := c.conn.Subscribe(
		waitCtx,
		&paho.Subscribe{Subscriptions: subs},
	); err != nil {
		return &errors.Error{
			Message:     "subscribe failed",
			Kind:        errors.Failure,
			NestedError: err,
		}
	}
	return nil
}

// Publish sends a publish request to the MQTT broker.
func (c *SessionClient) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...PublishOption,
) error {
	var o PublishOptions
	o.Apply(opts)

	if c.conn == nil {
		return &errors.Error{
			Message: "client not connected",
			Kind:    errors.NotConnected,
		}
	}

	if _, err := c.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     o.QoS,
		Retain:  o.Retain,
		Payload: payload,
	}); err != nil {
		return &errors.Error{
			Message:     "publish failed",
			Kind:        errors.Failure,
			NestedError: err,
			Topic:       topic,
		}
	}
	return nil
}

// IsConnected indicates whether the transport currently holds a live
// connection.
func (c *SessionClient) IsConnected() bool {
	return c.connected.Load()
}

// RegisterMessageHandler registers a callback for inbound messages.
func (c *SessionClient) RegisterMessageHandler(handler MessageHandler) func() {
	return c.messageHandlers.Append(handler)
}

// RegisterConnectEventHandler registers a callback for successful
// connections.
func (c *SessionClient) RegisterConnectEventHandler(
	handler ConnectEventHandler,
) func() {
	return c.connectHandlers.Append(handler)
}

// RegisterDisconnectEventHandler registers a callback for lost connections.
func (c *SessionClient) RegisterDisconnectEventHandler(
	handler DisconnectEventHandler,
) func() {
	return c.disconnectHandlers.Append(handler)
}

func (c *SessionClient) config(clientCtx context.Context) autopaho.ClientConfig {
	return autopaho.ClientConfig{
		ServerUrls: []*url.URL{c.server},
		KeepAlive:  uint16(c.options.KeepAlive / time.Second),

		// The broker session is clean; subscriptions do not survive a
		// reconnect and must be re-established by the connect event handlers.
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,

		ConnectUsername: c.options.Username,
		ConnectPassword: c.options.Password,

		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			c.connected.Store(true)
			c.log.Info(clientCtx, "connected",
				slog.String("server", c.server.Redacted()))
			for handler := range c.connectHandlers.All() {
				go handler(clientCtx)
			}
		},
		OnConnectError: func(err error) {
			c.log.Err(clientCtx, err)
		},

		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					msg := &Message{
						Topic:   pr.Packet.Topic,
						Payload: pr.Packet.Payload,
					}
					for handler := range c.messageHandlers.All() {
						handler(clientCtx, msg)
					}
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.onConnectionLost(clientCtx, err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.onConnectionLost(clientCtx, translateDisconnect(d))
			},
		},
	}
}

func (c *SessionClient) onConnectionLost(ctx context.Context, err error) {
	// Paho may report the same loss through both OnClientError and
	// OnServerDisconnect; only the first observation is fanned out.
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	if err != nil {
		c.log.Err(ctx, err)
	}
	for handler := range c.disconnectHandlers.All() {
		go handler(ctx, err)
	}
}

func translateDisconnect(d *paho.Disconnect) error {
	if d == nil {
		return nil
	}
	msg := "server sent disconnect"
	if d.Properties != nil && d.Properties.ReasonString != "" {
		msg = d.Properties.ReasonString
	}
	return &errors.Error{
		Message:       msg,
		Kind:          errors.Failure,
		PropertyName:  "reasonCode",
		PropertyValue: d.ReasonCode,
	}
}
