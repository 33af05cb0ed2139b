package mqtt

import (
	"log/slog"
	"time"
)

type (
	// SessionClientOption represents a single session client option.
	SessionClientOption interface{ sessionClient(*SessionClientOptions) }

	// SessionClientOptions are the resolved session client options.
	SessionClientOptions struct {
		Username string
		Password []byte

		KeepAlive        time.Duration
		ConnectTimeout   time.Duration
		SubscribeTimeout time.Duration

		Logger *slog.Logger
	}

	// WithUsername specifies the username sent in the CONNECT packet.
	WithUsername string

	// WithPassword specifies the password sent in the CONNECT packet.
	WithPassword []byte

	// WithKeepAlive specifies the MQTT keepalive interval.
	WithKeepAlive time.Duration

	// WithConnectTimeout bounds how long Connect waits for the broker.
	WithConnectTimeout time.Duration

	// WithSubscribeTimeout bounds how long Subscribe waits for the SUBACK.
	WithSubscribeTimeout time.Duration

	withLogger struct{ *slog.Logger }
)

// Apply resolves the provided list of options.
func (o *SessionClientOptions) Apply(
	opts []SessionClientOption,
	rest ...SessionClientOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.sessionClient(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.sessionClient(o)
		}
	}
}

func (o *SessionClientOptions) sessionClient(opt *SessionClientOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithUsername) sessionClient(opt *SessionClientOptions) {
	opt.Username = string(o)
}

func (o WithPassword) sessionClient(opt *SessionClientOptions) {
	opt.Password = []byte(o)
}

func (o WithKeepAlive) sessionClient(opt *SessionClientOptions) {
	opt.KeepAlive = time.Duration(o)
}

func (o WithConnectTimeout) sessionClient(opt *SessionClientOptions) {
	opt.ConnectTimeout = time.Duration(o)
}

func (o WithSubscribeTimeout) sessionClient(opt *SessionClientOptions) {
	opt.SubscribeTimeout = time.Duration(o)
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) SessionClientOption {
	return withLogger{logger}
}

func (o withLogger) sessionClient(opt *SessionClientOptions) {
	opt.Logger = o.Logger
}
