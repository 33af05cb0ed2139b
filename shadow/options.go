package shadow

import (
	"log/slog"
	"time"

	"github.com/tempbottle/iot-edge-sdk-go/mqtt"
)

type (
	// ClientOption represents a single client option.
	ClientOption interface{ client(*ClientOptions) }

	// ClientOptions are the resolved client options.
	ClientOptions struct {
		Transport mqtt.Client

		TopicPrefix          string
		InFlightCapacity     int
		DeltaHandlerCapacity int

		KeepAlive        time.Duration
		ConnectTimeout   time.Duration
		SubscribeTimeout time.Duration

		Logger *slog.Logger
	}

	// InitOption represents a single init option.
	InitOption interface{ init(*InitOptions) }

	// InitOptions are the resolved init options.
	InitOptions struct {
		SweepInterval time.Duration
		MaxClients    int
		Logger        *slog.Logger
	}

	// WithTopicPrefix overrides the fixed topic prefix. Intended for tests
	// and private deployments.
	WithTopicPrefix string

	// WithInFlightCapacity sets the capacity of the in-flight table.
	WithInFlightCapacity int

	// WithDeltaHandlerCapacity sets the capacity of the delta registry.
	WithDeltaHandlerCapacity int

	// WithKeepAlive specifies the MQTT keepalive interval.
	WithKeepAlive time.Duration

	// WithConnectTimeout bounds how long Connect waits for the broker.
	WithConnectTimeout time.Duration

	// WithSubscribeTimeout bounds the one-shot subscribe after (re)connect.
	WithSubscribeTimeout time.Duration

	// WithSweepInterval sets how often the housekeeper sweeps timeouts.
	WithSweepInterval time.Duration

	// WithMaxClients sets the capacity of the process-wide client group.
	WithMaxClients int

	withTransport struct{ mqtt.Client }

	withLogger struct{ *slog.Logger }
)

// WithTransport substitutes the MQTT transport, bypassing the session client
// that NewClient would otherwise construct from the broker URL.
func WithTransport(client mqtt.Client) ClientOption {
	return withTransport{client}
}

// WithLogger enables logging with the provided slog logger. It applies to
// both Init and NewClient.
func WithLogger(logger *slog.Logger) interface {
	ClientOption
	InitOption
} {
	return withLogger{logger}
}

// Apply resolves the provided list of options.
func (o *ClientOptions) Apply(
	opts []ClientOption,
	rest ...ClientOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.client(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.client(o)
		}
	}
}

func (o *ClientOptions) client(opt *ClientOptions) {
	if o != nil {
		*opt = *o
	}
}

// Apply resolves the provided list of options.
func (o *InitOptions) Apply(
	opts []InitOption,
	rest ...InitOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.init(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.init(o)
		}
	}
}

func (o *InitOptions) init(opt *InitOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithTopicPrefix) client(opt *ClientOptions) {
	opt.TopicPrefix = string(o)
}

func (o WithInFlightCapacity) client(opt *ClientOptions) {
	opt.InFlightCapacity = int(o)
}

func (o WithDeltaHandlerCapacity) client(opt *ClientOptions) {
	opt.DeltaHandlerCapacity = int(o)
}

func (o WithKeepAlive) client(opt *ClientOptions) {
	opt.KeepAlive = time.Duration(o)
}

func (o WithConnectTimeout) client(opt *ClientOptions) {
	opt.ConnectTimeout = time.Duration(o)
}

func (o WithSubscribeTimeout) client(opt *ClientOptions) {
	opt.SubscribeTimeout = time.Duration(o)
}

func (o WithSweepInterval) init(opt *InitOptions) {
	opt.SweepInterval = time.Duration(o)
}

func (o WithMaxClients) init(opt *InitOptions) {
	opt.MaxClients = int(o)
}

func (o withTransport) client(opt *ClientOptions) {
	opt.Transport = o.Client
}

func (o withLogger) client(opt *ClientOptions) {
	opt.Logger = o.Logger
}

func (o withLogger) init(opt *InitOptions) {
	opt.Logger = o.Logger
}
