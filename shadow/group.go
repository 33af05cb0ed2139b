package shadow

import (
	"sync"

	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

// clientGroup is the process-wide, fixed-capacity set of live clients. The
// housekeeper walks it to sweep timeouts uniformly.
type clientGroup struct {
	mu      sync.Mutex
	members []*Client
}

func newClientGroup(capacity int) *clientGroup {
	return &clientGroup{members: make([]*Client, capacity)}
}

func (g *clientGroup) add(c *Client) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.members {
		if g.members[i] == nil {
			g.members[i] = c
			return nil
		}
	}

	return &errors.Error{
		Message: "client group is full",
		Kind:    errors.Failure,
	}
}

func (g *clientGroup) remove(c *Client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.members {
		if g.members[i] == c {
			g.members[i] = nil
			return true
		}
	}
	return false
}

// forEach holds the group lock for the duration of fn; fn must not take
// group-modifying actions. The housekeeper's sweep is the intended caller
// and is bounded.
func (g *clientGroup) forEach(fn func(*Client)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, c := range g.members {
		if c != nil {
			fn(c)
		}
	}
}
