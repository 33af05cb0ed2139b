// Package mqtt provides the transport used by the shadow engine: a thin
// facade in front of an MQTT v5 client covering connect, subscribe-many,
// publish, and the connection lifecycle callbacks. The shadow engine consumes
// the Client interface; SessionClient is the production implementation built
// on eclipse/paho.golang.
package mqtt

import "context"

type (
	// Client represents the underlying MQTT transport utilized by the shadow
	// engine. Implementations must provide QoS-1 delivery, keepalive, and
	// automatic reconnection; the engine does not reimplement any of these.
	Client interface {
		// Connect establishes the connection. It blocks until the broker
		// accepts the connection, the attempt fails, or the context is done.
		Connect(ctx context.Context) error

		// Disconnect closes the connection gracefully and stops any
		// reconnection attempts.
		Disconnect() error

		// Subscribe sends a single subscribe request covering every provided
		// topic and waits for the broker to acknowledge it.
		Subscribe(
			ctx context.Context,
			topics []string,
			opts ...SubscribeOption,
		) error

		// Publish sends a publish request to the MQTT broker.
		Publish(
			ctx context.Context,
			topic string,
			payload []byte,
			opts ...PublishOption,
		) error

		// IsConnected indicates whether the transport currently holds a live
		// connection.
		IsConnected() bool

		// RegisterMessageHandler registers a callback for inbound messages on
		// any subscribed topic. It returns a function that removes the
		// callback.
		RegisterMessageHandler(handler MessageHandler) func()

		// RegisterConnectEventHandler registers a callback invoked after
		// every successful connection, including reconnections. It returns a
		// function that removes the callback.
		RegisterConnectEventHandler(handler ConnectEventHandler) func()

		// RegisterDisconnectEventHandler registers a callback invoked when
		// the connection is lost. It returns a function that removes the
		// callback.
		RegisterDisconnectEventHandler(handler DisconnectEventHandler) func()
	}

	// Message represents a received message.
	Message struct {
		Topic   string
		Payload []byte
	}

	// MessageHandler is a callback function used to handle messages received
	// on a subscribed topic. It runs on a transport-owned goroutine.
	MessageHandler func(ctx context.Context, msg *Message)

	// ConnectEventHandler is a callback function used to observe successful
	// connections.
	ConnectEventHandler func(ctx context.Context)

	// DisconnectEventHandler is a callback function used to observe lost
	// connections. The error describes the cause when known.
	DisconnectEventHandler func(ctx context.Context, err error)
)
