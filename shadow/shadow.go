// Package shadow implements a device-shadow client over MQTT. A shadow is a
// server-persisted JSON document holding the last reported device state and
// an optional desired target; the client pushes reported state, fetches or
// deletes the document, and receives delta messages describing how reported
// state diverges from desired.
//
// MQTT publishes are fire-and-forget, so the engine layers a request/reply
// protocol on top: every send carries a generated request id, is recorded in
// a fixed-capacity in-flight table, and is answered on an accepted or
// rejected reply topic correlated back by that id. A process-wide housekeeper
// sweeps the tables once per interval and times out requests whose replies
// never arrived.
//
// Call Init once before creating clients and Fini at teardown.
package shadow

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tempbottle/iot-edge-sdk-go/internal/log"
	"github.com/tempbottle/iot-edge-sdk-go/internal/wallclock"
)

const (
	// TopicPrefix is the fixed prefix under which all shadow topics live.
	TopicPrefix = "baidu/iot/shadow"

	// DefaultTimeout is applied to a send when no timeout is specified.
	DefaultTimeout = 10 * time.Second

	defaultInFlightCapacity = 16
	defaultDeltaCapacity    = 16
	defaultMaxClients       = 16
	defaultSweepInterval    = time.Second

	// Exit code for contract violations (nil arguments that are
	// contractually non-nil).
	nilArgumentExitCode = 120
)

// exitFunc indirects os.Exit so contract-violation tests can intercept it.
var exitFunc = os.Exit

var lifecycle struct {
	mu    sync.Mutex
	group *clientGroup
	stop  context.CancelFunc
	done  chan struct{}
	log   log.Logger
}

// Init starts the process-wide client group and the housekeeper that sweeps
// request timeouts. It is idempotent.
func Init(opt ...InitOption) {
	var opts InitOptions
	opts.Apply(opt)

	if opts.SweepInterval == 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.MaxClients == 0 {
		opts.MaxClients = defaultMaxClients
	}

	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()

	if lifecycle.group != nil {
		lifecycle.log.Warn(context.Background(), "already initialized")
		return
	}

	lifecycle.log = log.Wrap(opts.Logger)
	lifecycle.group = newClientGroup(opts.MaxClients)

	ctx, cancel := context.WithCancel(context.Background())
	lifecycle.stop = cancel
	lifecycle.done = make(chan struct{})
	go housekeep(ctx, lifecycle.group, opts.SweepInterval, lifecycle.done)

	lifecycle.log.Info(context.Background(), "initialized")
}

// Fini stops the housekeeper at a sweep boundary and discards the client
// group. It is idempotent. Clients still live are not destroyed, but their
// pending requests will no longer time out.
func Fini() {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()

	if lifecycle.group == nil {
		return
	}

	lifecycle.stop()
	<-lifecycle.done
	lifecycle.group = nil

	lifecycle.log.Info(context.Background(), "cleaned up")
}

func currentGroup() *clientGroup {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	return lifecycle.group
}

// housekeep walks every live client once per interval and sweeps its
// in-flight table. Cancellation is observed between sweeps.
func housekeep(
	ctx context.Context,
	group *clientGroup,
	interval time.Duration,
	done chan<- struct{},
) {
	defer close(done)

	timer := wallclock.Instance.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			now := wallclock.Instance.Now()
			group.forEach(func(c *Client) {
				c.messages.sweep(now)
			})
			timer.Reset(interval)
		}
	}
}

// exitNilArgument terminates the process. Passing nil for a contractually
// non-nil argument is a programming error, not a recoverable condition.
func exitNilArgument(name string) {
	fmt.Fprintf(os.Stderr, "shadow: %s must not be nil\n", name)
	exitFunc(nilArgumentExitCode)
}
