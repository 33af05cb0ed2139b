package mqtt

import "time"

const (
	// DefaultQoS is the quality-of-service level used for publishes and
	// subscriptions when none is specified.
	DefaultQoS byte = 1

	defaultKeepAlive        = 60 * time.Second
	defaultConnectTimeout   = 30 * time.Second
	defaultSubscribeTimeout = 10 * time.Second
)
