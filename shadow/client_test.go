package shadow

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempbottle/iot-edge-sdk-go/internal/container"
	"github.com/tempbottle/iot-edge-sdk-go/mqtt"
	"github.com/tempbottle/iot-edge-sdk-go/shadow/errors"
)

// fakeTransport is an in-memory mqtt.Client. Connect fires the connect event
// handlers synchronously, so a client is fully subscribed by the time Connect
// returns; deliver pushes an inbound message through the registered message
// handlers the same way.
type fakeTransport struct {
	mu            sync.Mutex
	connected     bool
	subscriptions []string
	published     []mqtt.Message
	subscribeErr  error
	publishErr    error

	messageHandlers    *container.HandlerList[mqtt.MessageHandler]
	connectHandlers    *container.HandlerList[mqtt.ConnectEventHandler]
	disconnectHandlers *container.HandlerList[mqtt.DisconnectEventHandler]
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messageHandlers:    container.NewHandlerList[mqtt.MessageHandler](),
		connectHandlers:    container.NewHandlerList[mqtt.ConnectEventHandler](),
		disconnectHandlers: container.NewHandlerList[mqtt.DisconnectEventHandler](),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()

	for handler := range f.connectHandlers.All() {
		handler(ctx)
	}
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) Subscribe(
	_ context.Context,
	topics []string,
	_ ...mqtt.SubscribeOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscriptions = append([]string{}, topics...)
	return nil
}

func (f *fakeTransport) Publish(
	_ context.Context,
	topic string,
	payload []byte,
	_ ...mqtt.PublishOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, mqtt.Message{Topic: topic, Payload: payload})
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) RegisterMessageHandler(h mqtt.MessageHandler) func() {
	return f.messageHandlers.Append(h)
}

func (f *fakeTransport) RegisterConnectEventHandler(
	h mqtt.ConnectEventHandler,
) func() {
	return f.connectHandlers.Append(h)
}

func (f *fakeTransport) RegisterDisconnectEventHandler(
	h mqtt.DisconnectEventHandler,
) func() {
	return f.disconnectHandlers.Append(h)
}

func (f *fakeTransport) deliver(topic string, payload []byte) {
	for handler := range f.messageHandlers.All() {
		handler(context.Background(), &mqtt.Message{
			Topic:   topic,
			Payload: payload,
		})
	}
}

func (f *fakeTransport) dropConnection(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()

	for handler := range f.disconnectHandlers.All() {
		handler(context.Background(), err)
	}
}

func (f *fakeTransport) lastPublished(t *testing.T) mqtt.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.published)
	return f.published[len(f.published)-1]
}

// requestID extracts the generated request id from a published request.
func requestID(t *testing.T, msg mqtt.Message) string {
	t.Helper()
	var body struct {
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	require.Len(t, body.RequestID, 36)
	return body.RequestID
}

func newTestClient(
	t *testing.T,
	opt ...ClientOption,
) (*Client, *fakeTransport) {
	t.Helper()

	Init(WithSweepInterval(20 * time.Millisecond))
	t.Cleanup(Fini)

	transport := newFakeTransport()
	c, err := NewClient("mqtt://localhost:1883", "dev1", "user", "pass",
		append(opt, WithTransport(transport))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, transport
}

func TestNewClientRequiresInit(t *testing.T) {
	Fini()

	_, err := NewClient("mqtt://localhost:1883", "dev1", "", "",
		WithTransport(newFakeTransport()))
	requireKind(t, err, errors.Failure)
}

func TestNewClientEmptyDeviceName(t *testing.T) {
	Init()
	t.Cleanup(Fini)

	_, err := NewClient("mqtt://localhost:1883", "", "", "",
		WithTransport(newFakeTransport()))
	requireKind(t, err, errors.BadArgument)
}

func TestConnectSubscribesReplyTopics(t *testing.T) {
	c, transport := newTestClient(t)

	require.False(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.IsConnected())

	require.ElementsMatch(t, c.topics.subscribe, transport.subscriptions)
}

func TestUpdateAccepted(t *testing.T) {
	c, transport := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	acks := make(chan *Ack, 1)
	require.NoError(t, c.Update(context.Background(),
		json.RawMessage(`{"led":"on"}`),
		func(action Action, status AckStatus, ack *Ack) {
			require.Equal(t, ActionUpdate, action)
			require.Equal(t, AckAccepted, status)
			acks <- ack
		}, time.Minute))

	sent := transport.lastPublished(t)
	require.Equal(t, "baidu/iot/shadow/dev1/update", sent.Topic)
	require.JSONEq(t,
		`{"requestId":"`+requestID(t, sent)+`","reported":{"led":"on"}}`,
		string(sent.Payload))

	reply := `{"requestId":"` + requestID(t, sent) + `","reported":{"led":"on"}}`
	transport.deliver(c.topics.updateAccepted, []byte(reply))

	select {
	case ack := <-acks:
		require.JSONEq(t, reply, string(ack.Document))
	default:
		t.Fatal("callback not fired")
	}
}

func TestGetRejected(t *testing.T) {
	c, transport := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	acks := make(chan *Ack, 1)
	require.NoError(t, c.Get(context.Background(),
		func(action Action, status AckStatus, ack *Ack) {
			require.Equal(t, ActionGet, action)
			require.Equal(t, AckRejected, status)
			acks <- ack
		}, time.Minute))

	sent := transport.lastPublished(t)
	require.Equal(t, "baidu/iot/shadow/dev1/get", sent.Topic)

	transport.deliver(c.topics.getRejected, []byte(
		`{"requestId":"`+requestID(t, sent)+
			`","code":"not_found","message":"no shadow exists"}`))

	select {
	case ack := <-acks:
		require.Equal(t, "not_found", ack.Code)
		require.Equal(t, "no shadow exists", ack.Message)
	default:
		t.Fatal("callback not fired")
	}
}

func TestDeleteTimeout(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	acks := make(chan AckStatus, 1)
	require.NoError(t, c.Delete(context.Background(),
		func(action Action, status AckStatus, ack *Ack) {
			require.Equal(t, ActionDelete, action)
			require.Nil(t, ack)
			acks <- status
		}, time.Millisecond))

	select {
	case status := <-acks:
		require.Equal(t, AckTimeout, status)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not time the request out")
	}
}

func TestSendNotConnected(t *testing.T) {
	c, _ := newTestClient(t)

	requireKind(t,
		c.Get(context.Background(), nil, time.Minute),
		errors.NotConnected)
}

func TestSendWhileInFlightFull(t *testing.T) {
	c, _ := newTestClient(t, WithInFlightCapacity(2))
	require.NoError(t, c.Connect(context.Background()))

	ctx := context.Background()
	require.NoError(t, c.Get(ctx, nil, time.Minute))
	require.NoError(t, c.Get(ctx, nil, time.Minute))
	requireKind(t, c.Get(ctx, nil, time.Minute), errors.TooManyInFlight)
}

// A failed publish keeps the in-flight entry so the request still resolves,
// as a timeout, through the sweeper.
func TestPublishFailureResolvesAsTimeout(t *testing.T) {
	c, transport := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	transport.mu.Lock()
	transport.publishErr = &errors.Error{Message: "broken", Kind: errors.Failure}
	transport.mu.Unlock()

	acks := make(chan AckStatus, 1)
	requireKind(t, c.Get(context.Background(),
		func(_ Action, status AckStatus, _ *Ack) {
			acks <- status
		}, time.Millisecond), errors.Failure)

	select {
	case status := <-acks:
		require.Equal(t, AckTimeout, status)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not time the request out")
	}
}

func TestConnectionLostBlocksSends(t *testing.T) {
	c, transport := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	transport.dropConnection(&errors.Error{
		Message: "keepalive expired",
		Kind:    errors.Failure,
	})

	require.False(t, c.IsConnected())
	require.Error(t, c.LastError())
	requireKind(t,
		c.Get(context.Background(), nil, time.Minute),
		errors.NotConnected)

	// Reconnecting resubscribes and reopens the gate.
	require.NoError(t, transport.Connect(context.Background()))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Get(context.Background(), nil, time.Minute))
}

func TestSubscribeFailureLeavesClientNotConnected(t *testing.T) {
	c, transport := newTestClient(t)
	transport.subscribeErr = &errors.Error{
		Message: "broker refused",
		Kind:    errors.Failure,
	}

	require.NoError(t, c.Connect(context.Background()))
	require.False(t, c.IsConnected())
	require.Error(t, c.LastError())
}

func TestDeltaDispatchedToHandler(t *testing.T) {
	c, transport := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	var gotValue json.RawMessage
	require.NoError(t, c.RegisterDelta("led",
		func(key string, desired json.RawMessage) *UserError {
			require.Equal(t, "led", key)
			gotValue = desired
			return nil
		}))

	transport.deliver(c.topics.delta, []byte(
		`{"requestId":"r1","desired":{"led":"off","fan":3}}`))

	require.JSONEq(t, `"off"`, string(gotValue))

	// Nothing was reported back for an accepted delta.
	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Empty(t, transport.published)
}

func TestDeltaRejectedByHandler(t *testing.T) {
	c, transport := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	released := 0
	require.NoError(t, c.RegisterDelta("led",
		func(string, json.RawMessage) *UserError {
			return &UserError{
				Code:    "E_RANGE",
				Message: "unsupported led state",
				Release: func() { released++ },
			}
		}))

	transport.deliver(c.topics.delta, []byte(
		`{"requestId":"r1","desired":{"led":"purple"}}`))

	sent := transport.lastPublished(t)
	require.Equal(t, "baidu/iot/shadow/dev1/delta/rejected", sent.Topic)
	require.JSONEq(t,
		`{"requestId":"r1","code":"E_RANGE","message":"unsupported led state"}`,
		string(sent.Payload))
	require.Equal(t, 1, released)
}

func TestRegisterDeltaRequiresConnection(t *testing.T) {
	c, _ := newTestClient(t)

	cb := func(string, json.RawMessage) *UserError { return nil }
	requireKind(t, c.RegisterDelta("led", cb), errors.NotConnected)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.RegisterDelta("led", cb))
}

func TestRegisterDeltaEmptyKey(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	requireKind(t, c.RegisterDelta("",
		func(string, json.RawMessage) *UserError { return nil }),
		errors.BadArgument)
}

// Inbound frames that cannot belong to any request are dropped without
// touching the in-flight table.
func TestInboundDrops(t *testing.T) {
	c, transport := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	fired := false
	require.NoError(t, c.Get(context.Background(),
		func(Action, AckStatus, *Ack) { fired = true }, time.Minute))

	// Undersized payload.
	transport.deliver(c.topics.getAccepted, []byte(`{}`))
	// Reply without a request id.
	transport.deliver(c.topics.getAccepted, []byte(`{"led":"on"}`))
	// Reply for a request nobody sent.
	transport.deliver(c.topics.getAccepted, []byte(`{"requestId":"unknown"}`))
	// Topic outside the contract.
	transport.deliver("baidu/iot/shadow/dev1/other", []byte(`{"requestId":"x"}`))
	// Malformed JSON.
	transport.deliver(c.topics.getAccepted, []byte(`{"requestId"`))

	require.False(t, fired)
}

func TestClientGroupFull(t *testing.T) {
	Init(WithMaxClients(1))
	t.Cleanup(Fini)

	first, err := NewClient("mqtt://localhost:1883", "dev1", "", "",
		WithTransport(newFakeTransport()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	_, err = NewClient("mqtt://localhost:1883", "dev2", "", "",
		WithTransport(newFakeTransport()))
	requireKind(t, err, errors.Failure)

	// Closing releases the slot.
	require.NoError(t, first.Close())
	second, err := NewClient("mqtt://localhost:1883", "dev3", "", "",
		WithTransport(newFakeTransport()))
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestInitFiniIdempotent(t *testing.T) {
	Init()
	Init()
	Fini()
	Fini()
}

func TestNilClientExits(t *testing.T) {
	var code int
	exitFunc = func(c int) {
		code = c
		panic("exit")
	}
	t.Cleanup(func() { exitFunc = os.Exit })

	var c *Client
	require.PanicsWithValue(t, "exit", func() { c.IsConnected() })
	require.Equal(t, 120, code)
}
