package network

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gamelink-project/gamelink/internal/protocol"
)

// fakeTransport records written messages and can simulate write errors.
type fakeTransport struct {
	mu       sync.Mutex
	written  []*protocol.Message
	failWith error
	closed   bool
}

func (f *fakeTransport) WriteMessage(m *protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.written = append(f.written, m)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "test:0" }

func (f *fakeTransport) messages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message(nil), f.written...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testConnConfig() ConnectionConfig {
	cfg := DefaultConnectionConfig()
	// Keep background timers out of the way unless a test drives them.
	cfg.Heartbeat.Interval = time.Hour
	cfg.Reconnect.BaseInterval = time.Hour
	return cfg
}

func authedConn(t *testing.T) (*Connection, *fakeTransport) {
	t.Helper()
	c := NewConnection("gs-1", "direct", testConnConfig(), nil)
	ft := &fakeTransport{}
	c.HandleOpen(ft)
	c.Authenticate("EU Frankfurt 1", "game", []string{"player.list", "command.run"}, "")
	return c, ft
}

func TestConnectionLifecycleStates(t *testing.T) {
	c := NewConnection("gs-1", "direct", testConnConfig(), nil)
	if c.Status() != StatusConnecting {
		t.Fatalf("initial status %q, want connecting", c.Status())
	}

	ft := &fakeTransport{}
	c.HandleOpen(ft)
	if c.Status() != StatusConnected {
		t.Fatalf("status %q after open, want connected", c.Status())
	}

	c.Authenticate("EU Frankfurt 1", "game", nil, "")
	if c.Status() != StatusAuthenticated {
		t.Fatalf("status %q after handshake, want authenticated", c.Status())
	}

	c.HandleDisconnect("socket closed", true)
	if c.Status() != StatusDisconnected {
		t.Fatalf("status %q after disconnect, want disconnected", c.Status())
	}
	if !ft.isClosed() {
		t.Error("transport not closed on disconnect")
	}
}

func TestSendQueuesUntilAuthenticated(t *testing.T) {
	c := NewConnection("gs-1", "direct", testConnConfig(), nil)
	ft := &fakeTransport{}
	c.HandleOpen(ft)

	if err := c.Send(protocol.NewRequest("gs-1", "command.run", nil)); err != nil {
		t.Fatalf("send while connected: %v", err)
	}
	if len(ft.messages()) != 0 {
		t.Fatal("message written before authentication")
	}

	c.Authenticate("EU Frankfurt 1", "game", nil, "")

	msgs := ft.messages()
	if len(msgs) != 1 || msgs[0].Op != "command.run" {
		t.Fatalf("queued message not flushed on authenticate, wrote %d", len(msgs))
	}
}

func TestSendWritesDirectlyWhenAuthenticated(t *testing.T) {
	c, ft := authedConn(t)

	if err := c.Send(protocol.NewEvent("gs-1", "match.started", nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := ft.messages()
	if len(msgs) != 1 || msgs[0].EventType != "match.started" {
		t.Fatalf("expected one event frame, wrote %d", len(msgs))
	}
}

func TestRequestRequiresAuthentication(t *testing.T) {
	c := NewConnection("gs-1", "direct", testConnConfig(), nil)
	c.HandleOpen(&fakeTransport{})

	_, err := c.Request("player.list", nil, time.Second)
	var unavailable *protocol.ServerUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want ServerUnavailableError", err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	c, ft := authedConn(t)

	ch, err := c.Request("player.list", map[string]any{"page": 1.0}, time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	msgs := ft.messages()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeRequest {
		t.Fatalf("expected one request frame, wrote %d", len(msgs))
	}

	// Simulate the peer responding.
	c.HandleMessage(protocol.NewResponse(msgs[0], true, map[string]any{"count": 0.0}, ""))

	select {
	case result := <-ch:
		if result.Err != nil || !result.Response.Success {
			t.Fatalf("unexpected result: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("response not delivered")
	}
}

func TestHandleMessagePingRepliesPong(t *testing.T) {
	c, ft := authedConn(t)

	payload := map[string]any{"sentAt": 123.0}
	c.HandleMessage(protocol.NewSystem("hub", protocol.SysPing, payload))

	msgs := ft.messages()
	if len(msgs) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(msgs))
	}
	pong := msgs[0]
	if pong.SystemOp != protocol.SysPong {
		t.Fatalf("system op %q, want pong", pong.SystemOp)
	}
	if pong.Data["sentAt"] != 123.0 {
		t.Error("pong did not echo ping payload")
	}
}

func TestHandleMessageDisconnectIsIntentional(t *testing.T) {
	c, _ := authedConn(t)

	c.HandleMessage(protocol.NewSystem("gs-1", protocol.SysDisconnect,
		map[string]any{"reason": "maintenance"}))

	if c.Status() != StatusDisconnected {
		t.Fatalf("status %q, want disconnected", c.Status())
	}
	// Intentional close must not start a backoff sequence.
	if c.Reconnect().GetStatus().IsReconnecting {
		t.Error("reconnect scheduled after explicit disconnect frame")
	}
}

func TestUnexpectedDisconnectSchedulesReconnect(t *testing.T) {
	cfg := testConnConfig()
	cfg.Reconnect.BaseInterval = time.Hour

	c := NewConnection("gs-1", "direct", cfg, func() error { return nil })
	c.HandleOpen(&fakeTransport{})
	c.Authenticate("EU Frankfurt 1", "game", nil, "")

	c.HandleDisconnect("read error", false)

	status := c.Reconnect().GetStatus()
	if !status.IsReconnecting {
		t.Fatal("no reconnect pending after unexpected disconnect")
	}
	if status.CurrentAttempts != 1 {
		t.Errorf("current attempts = %d, want 1", status.CurrentAttempts)
	}
	c.Reconnect().Cancel()
}

func TestFailedAttemptsContinueUntilAutoDisable(t *testing.T) {
	cfg := testConnConfig()
	cfg.Reconnect = ReconnectConfig{
		BaseInterval:     5 * time.Millisecond,
		Multiplier:       1.0,
		MaxInterval:      5 * time.Millisecond,
		MaxAttempts:      3,
		AutoDisableOnMax: true,
	}

	var mu sync.Mutex
	attempts := 0
	disabled := make(chan struct{})

	// Shaped like a real dial: mark the connect in progress, then fail.
	var c *Connection
	c = NewConnection("gs-1", "direct", cfg, func() error {
		c.BeginConnect()
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("hub unreachable")
	})
	c.SetHooks(Hooks{OnReconnectDisabled: func(*Connection) { close(disabled) }})

	c.HandleDisconnect("read error", false)

	select {
	case <-disabled:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnection never auto-disabled after repeated failed attempts")
	}

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	status := c.Reconnect().GetStatus()
	if !status.Disabled {
		t.Error("manager not disabled after exhausting attempts")
	}
	if status.TotalAttempts != 3 {
		t.Errorf("total attempts = %d, want 3", status.TotalAttempts)
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("status %q, want disconnected", c.Status())
	}
}

func TestSubscribeRequestHandledInline(t *testing.T) {
	c, ft := authedConn(t)

	sub := protocol.NewRequest("hub", protocol.OpEventSubscribe, map[string]any{
		"eventTypes": []any{"match.started"},
		"filters":    map[string]any{"region": "eu"},
	})
	c.HandleMessage(sub)

	msgs := ft.messages()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeResponse || !msgs[0].Success {
		t.Fatalf("expected success response, got %+v", msgs)
	}
	subID, _ := msgs[0].Data["subscriptionId"].(string)
	if subID == "" {
		t.Fatal("no subscription id returned")
	}

	// The subscription now gates outbound events.
	if err := c.EmitEvent("match.started", map[string]any{"region": "eu"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := c.EmitEvent("match.started", map[string]any{"region": "us"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := c.EmitEvent("match.ended", map[string]any{"region": "eu"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	events := 0
	for _, m := range ft.messages() {
		if m.Type == protocol.TypeEvent {
			events++
		}
	}
	if events != 1 {
		t.Errorf("emitted %d events, want 1 (filtered)", events)
	}

	// Unsubscribe stops emission entirely.
	c.HandleMessage(protocol.NewRequest("hub", protocol.OpEventUnsubscribe,
		map[string]any{"subscriptionId": subID}))
	before := len(ft.messages())
	c.EmitEvent("match.started", map[string]any{"region": "eu"})
	if len(ft.messages()) != before {
		t.Error("event emitted after unsubscribe")
	}
}

func TestSubscribeRejectsNestedFilterValues(t *testing.T) {
	c, ft := authedConn(t)

	sub := protocol.NewRequest("hub", protocol.OpEventSubscribe, map[string]any{
		"eventTypes": []any{"match.ended"},
		"filters":    map[string]any{"meta": map[string]any{"mode": "ranked"}},
	})
	c.HandleMessage(sub)

	msgs := ft.messages()
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeResponse {
		t.Fatalf("expected one response frame, wrote %d", len(msgs))
	}
	if msgs[0].Success {
		t.Fatal("nested filter value accepted")
	}
	if len(c.Subscriptions().List()) != 0 {
		t.Error("rejected subscription was stored")
	}

	// Emitting an event with a nested value at that key must not panic.
	if err := c.EmitEvent("match.ended", map[string]any{"meta": map[string]any{"mode": "ranked"}}); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

func TestRequestHookReceivesUnknownOps(t *testing.T) {
	c, _ := authedConn(t)

	var got string
	c.SetHooks(Hooks{
		OnRequest: func(conn *Connection, m *protocol.Message) {
			got = m.Op
			conn.Respond(m, true, nil, "")
		},
	})

	c.HandleMessage(protocol.NewRequest("hub", "server.restart", nil))
	if got != "server.restart" {
		t.Fatalf("request hook saw %q, want server.restart", got)
	}
}

func TestTeardownReleasesEverything(t *testing.T) {
	c, ft := authedConn(t)

	ch, err := c.Request("player.list", nil, time.Minute)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	c.Teardown("removed by operator")

	select {
	case result := <-ch:
		var maint *protocol.MaintenanceError
		if !errors.As(result.Err, &maint) {
			t.Fatalf("pending rejected with %v, want MaintenanceError", result.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not rejected on teardown")
	}

	if c.Status() != StatusDisconnected {
		t.Errorf("status %q after teardown, want disconnected", c.Status())
	}
	if !ft.isClosed() {
		t.Error("transport left open after teardown")
	}
	if !c.Reconnect().IsDisabled() {
		t.Error("reconnect still enabled after teardown")
	}
	if c.Heartbeat().IsRunning() {
		t.Error("heartbeat still running after teardown")
	}
}

func TestDeclineAuthDoesNotReconnect(t *testing.T) {
	c := NewConnection("gs-1", "direct", testConnConfig(), func() error { return nil })
	c.HandleOpen(&fakeTransport{})

	c.DeclineAuth("invalid token")

	if c.Status() != StatusDisconnected {
		t.Fatalf("status %q, want disconnected", c.Status())
	}
	if c.Reconnect().GetStatus().IsReconnecting {
		t.Error("reconnect scheduled after declined handshake")
	}
}

func TestHasCapability(t *testing.T) {
	c, _ := authedConn(t)
	if !c.HasCapability("player.list") {
		t.Error("declared capability not found")
	}
	if c.HasCapability("server.wipe") {
		t.Error("undeclared capability reported")
	}
}
