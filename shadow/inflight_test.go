package shadow

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

func requireKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, kind, e.Kind)
}

func TestInFlightCompleteAccepted(t *testing.T) {
	table := newInFlightTable(4)
	now := time.Now()

	var got []AckStatus
	cb := func(action Action, status AckStatus, ack *Ack) {
		require.Equal(t, ActionUpdate, action)
		require.NotNil(t, ack)
		require.JSONEq(t, `{"requestId":"r1","led":"on"}`, string(ack.Document))
		got = append(got, status)
	}

	require.NoError(t, table.insert("r1", ActionUpdate, cb, time.Minute, now))
	require.NoError(t,
		table.complete("r1", AckAccepted, []byte(`{"requestId":"r1","led":"on"}`)))
	require.Equal(t, []AckStatus{AckAccepted}, got)

	// The slot is released exactly once; a second reply finds nothing.
	requireKind(t,
		table.complete("r1", AckAccepted, []byte(`{}`)),
		errors.NoMatchingInFlight)
}

func TestInFlightCompleteRejected(t *testing.T) {
	table := newInFlightTable(4)

	var ack *Ack
	cb := func(_ Action, status AckStatus, a *Ack) {
		require.Equal(t, AckRejected, status)
		ack = a
	}

	require.NoError(t, table.insert("r1", ActionGet, cb, time.Minute, time.Now()))
	require.NoError(t, table.complete("r1", AckRejected,
		[]byte(`{"requestId":"r1","code":"not_found","message":"no shadow"}`)))

	require.NotNil(t, ack)
	require.Equal(t, "not_found", ack.Code)
	require.Equal(t, "no shadow", ack.Message)
}

func TestInFlightRequestIDCaseInsensitive(t *testing.T) {
	table := newInFlightTable(4)

	fired := false
	cb := func(Action, AckStatus, *Ack) { fired = true }

	id := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	require.NoError(t, table.insert(id, ActionGet, cb, time.Minute, time.Now()))
	require.NoError(t, table.complete(
		"6BA7B810-9DAD-11D1-80B4-00C04FD430C8", AckAccepted, []byte(`{}`)))
	require.True(t, fired)
}

func TestInFlightFull(t *testing.T) {
	table := newInFlightTable(2)
	now := time.Now()

	require.NoError(t, table.insert("r1", ActionUpdate, nil, time.Minute, now))
	require.NoError(t, table.insert("r2", ActionUpdate, nil, time.Minute, now))
	requireKind(t,
		table.insert("r3", ActionUpdate, nil, time.Minute, now),
		errors.TooManyInFlight)

	// Completing one frees its slot for reuse.
	require.NoError(t, table.complete("r1", AckAccepted, []byte(`{}`)))
	require.NoError(t, table.insert("r3", ActionUpdate, nil, time.Minute, now))
}

func TestInFlightSweep(t *testing.T) {
	table := newInFlightTable(4)
	start := time.Now()

	var timedOut []string
	cb := func(action Action, status AckStatus, ack *Ack) {
		require.Equal(t, AckTimeout, status)
		require.Nil(t, ack)
		timedOut = append(timedOut, action.String())
	}

	require.NoError(t, table.insert("r1", ActionDelete, cb, time.Second, start))
	require.NoError(t, table.insert("r2", ActionGet, cb, 5*time.Second, start))

	// Not yet expired: deadline is strictly timestamp + timeout.
	table.sweep(start.Add(time.Second))
	require.Empty(t, timedOut)

	table.sweep(start.Add(1500 * time.Millisecond))
	require.Equal(t, []string{"delete"}, timedOut)

	// A late reply for the swept entry finds nothing.
	requireKind(t,
		table.complete("r1", AckAccepted, []byte(`{}`)),
		errors.NoMatchingInFlight)

	// The longer entry is still pending.
	require.NoError(t, table.complete("r2", AckAccepted, []byte(`{}`)))
}

// A callback must be able to call back into the table without deadlocking;
// the lock is dropped before the callback fires.
func TestInFlightCallbackReentrancy(t *testing.T) {
	table := newInFlightTable(4)

	var reinserted bool
	cb := func(Action, AckStatus, *Ack) {
		require.NoError(t,
			table.insert("r2", ActionGet, nil, time.Minute, time.Now()))
		reinserted = true
	}

	require.NoError(t, table.insert("r1", ActionGet, cb, time.Minute, time.Now()))
	require.NoError(t, table.complete("r1", AckAccepted, []byte(`{}`)))
	require.True(t, reinserted)
}

// Concurrent completes and sweeps deliver exactly one callback per entry.
func TestInFlightSlotConservation(t *testing.T) {
	const n = 8
	table := newInFlightTable(n)
	start := time.Now()

	var mu sync.Mutex
	counts := map[Action]int{}
	cb := func(action Action, _ AckStatus, _ *Ack) {
		mu.Lock()
		counts[action]++
		mu.Unlock()
	}

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		require.NoError(t, table.insert(id, ActionUpdate, cb, time.Second, start))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = table.complete(id, AckAccepted, []byte(`{}`))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		table.sweep(start.Add(2 * time.Second))
	}()
	wg.Wait()

	require.Equal(t, n, counts[ActionUpdate])

	// Every slot is free again.
	for _, id := range ids {
		require.NoError(t,
			table.insert(id, ActionUpdate, nil, time.Second, start))
	}
}
