package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/network"
	"github.com/gamelink-project/gamelink/internal/protocol"
)

type fakeVerifier struct {
	tokens map[string]string
}

func (f *fakeVerifier) VerifyToken(serverID, token string) bool {
	want, ok := f.tokens[serverID]
	return ok && token == want
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAuditor) RecordAudit(serverID, action, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, serverID+":"+action)
	return nil
}

func (a *recordingAuditor) has(entry string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.actions {
		if e == entry {
			return true
		}
	}
	return false
}

type listenerHarness struct {
	listener *Listener
	registry *network.ConnectionRegistry
	auditor  *recordingAuditor
	srv      *httptest.Server
	wsURL    string
}

func newListenerHarness(t *testing.T, tokens map[string]string) *listenerHarness {
	t.Helper()

	cfg := config.DefaultConfig()
	// Keep the timers inert so tests control every frame on the wire.
	cfg.ApplicationData.Connection.HeartbeatIntervalMs = 3600000
	cfg.ApplicationData.Connection.HeartbeatMinMs = 3600000
	cfg.ApplicationData.Connection.HeartbeatMaxMs = 3600000
	cfg.ApplicationData.Connection.ReconnectBaseMs = 3600000
	cfg.ApplicationData.Connection.ReconnectMaxMs = 3600000

	registry := network.NewConnectionRegistry()
	auditor := &recordingAuditor{}
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	l := NewListener(cfg, registry, &fakeVerifier{tokens: tokens}, auditor, bus)

	srv := httptest.NewServer(http.HandlerFunc(l.handleWS))
	t.Cleanup(srv.Close)

	return &listenerHarness{
		listener: l,
		registry: registry,
		auditor:  auditor,
		srv:      srv,
		wsURL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeFrame(t *testing.T, ws *websocket.Conn, m *protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(m)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return msg
}

func helloMessage(serverID, token string, caps []string) *protocol.Message {
	capsAny := make([]any, len(caps))
	for i, c := range caps {
		capsAny[i] = c
	}
	return protocol.NewSystem(serverID, protocol.SysHandshake, map[string]any{
		"serverId":     serverID,
		"serverName":   serverID + "-name",
		"serverType":   "game",
		"token":        token,
		"mode":         "direct",
		"capabilities": capsAny,
	})
}

func TestHandshakeSystemForm(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-1": "secret"})
	ws := dialHub(t, h.wsURL)

	writeFrame(t, ws, helloMessage("gs-1", "secret", []string{"server.status"}))
	reply := readFrame(t, ws)

	if reply.Type != protocol.TypeSystem || reply.SystemOp != protocol.SysHandshakeResponse {
		t.Fatalf("unexpected reply %s", reply.String())
	}
	if accepted, _ := reply.Data["accepted"].(bool); !accepted {
		t.Fatalf("handshake declined: %v", reply.Data["reason"])
	}

	conn, ok := h.registry.Get("gs-1")
	if !ok {
		t.Fatal("connection not registered")
	}
	if conn.Status() != network.StatusAuthenticated {
		t.Fatalf("status = %s, want authenticated", conn.Status())
	}
	if !conn.HasCapability("server.status") {
		t.Fatal("capability not recorded")
	}
	if !h.auditor.has("gs-1:authenticated") {
		t.Fatal("authentication not audited")
	}
}

func TestHandshakeRequestForm(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-2": "secret"})
	ws := dialHub(t, h.wsURL)

	req := protocol.NewRequest("gs-2", protocol.OpHandshake, map[string]any{
		"serverId": "gs-2",
		"token":    "secret",
	})
	writeFrame(t, ws, req)
	reply := readFrame(t, ws)

	if reply.Type != protocol.TypeResponse {
		t.Fatalf("reply type = %s, want response", reply.Type)
	}
	if reply.ID != req.ID {
		t.Fatalf("reply id = %s, want %s", reply.ID, req.ID)
	}
	if !reply.Success {
		t.Fatalf("handshake declined: %s", reply.Error)
	}
}

func TestHandshakeInvalidToken(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-3": "secret"})
	ws := dialHub(t, h.wsURL)

	writeFrame(t, ws, helloMessage("gs-3", "wrong", nil))
	reply := readFrame(t, ws)

	if accepted, _ := reply.Data["accepted"].(bool); accepted {
		t.Fatal("handshake accepted with bad token")
	}
	if reason, _ := reply.Data["reason"].(string); reason != "invalid token" {
		t.Fatalf("reason = %q, want invalid token", reason)
	}
	if _, ok := h.registry.Get("gs-3"); ok {
		t.Fatal("declined agent should not be registered")
	}
	if !h.auditor.has("gs-3:auth_declined") {
		t.Fatal("decline not audited")
	}
}

func TestHandshakeIncompatibleVersion(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-4": "secret"})
	ws := dialHub(t, h.wsURL)

	hello := helloMessage("gs-4", "secret", nil)
	hello.Version = "1.0"
	writeFrame(t, ws, hello)
	reply := readFrame(t, ws)

	if accepted, _ := reply.Data["accepted"].(bool); accepted {
		t.Fatal("handshake accepted with incompatible version")
	}
	reason, _ := reply.Data["reason"].(string)
	if !strings.Contains(reason, "version") {
		t.Fatalf("reason = %q, want version complaint", reason)
	}
}

func TestHandshakeVersionFromData(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-12": "secret"})

	// No envelope version; the handshake payload carries it instead.
	ws := dialHub(t, h.wsURL)
	hello := helloMessage("gs-12", "secret", nil)
	hello.Version = ""
	hello.Data["protocolVersion"] = protocol.ProtocolVersion
	writeFrame(t, ws, hello)
	reply := readFrame(t, ws)
	if accepted, _ := reply.Data["accepted"].(bool); !accepted {
		t.Fatalf("handshake declined: %v", reply.Data["reason"])
	}
	ws.Close()

	// An incompatible payload version is still declined.
	ws2 := dialHub(t, h.wsURL)
	hello2 := helloMessage("gs-12", "secret", nil)
	hello2.Version = ""
	hello2.Data["protocolVersion"] = "1.0"
	writeFrame(t, ws2, hello2)
	reply = readFrame(t, ws2)
	if accepted, _ := reply.Data["accepted"].(bool); accepted {
		t.Fatal("handshake accepted with incompatible payload version")
	}
}

func TestHandshakeVersionFromQuery(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-13": "secret"})
	ws := dialHub(t, h.wsURL+"?protocolVersion=1.0")

	hello := helloMessage("gs-13", "secret", nil)
	hello.Version = ""
	writeFrame(t, ws, hello)
	reply := readFrame(t, ws)

	if accepted, _ := reply.Data["accepted"].(bool); accepted {
		t.Fatal("handshake accepted with incompatible query version")
	}
	reason, _ := reply.Data["reason"].(string)
	if !strings.Contains(reason, "version") {
		t.Fatalf("reason = %q, want version complaint", reason)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-5": "secret"})
	ws := dialHub(t, h.wsURL)

	writeFrame(t, ws, helloMessage("gs-5", "secret", []string{"server.status"}))
	readFrame(t, ws)

	// Fake agent: answer the next request on the socket.
	go func() {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		req, err := protocol.Decode(data)
		if err != nil {
			return
		}
		resp := protocol.NewResponse(req, true, map[string]any{"playerCount": 4.0}, "")
		out, _ := protocol.Encode(resp)
		ws.WriteMessage(websocket.TextMessage, out)
	}()

	mgr := NewManager(h.registry)
	result, err := mgr.SendCommand("gs-5", "server.status", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("request failed: %s", result.Error)
	}
	if got := result.Data["playerCount"]; got != 4.0 {
		t.Fatalf("playerCount = %v, want 4", got)
	}
}

func TestCapabilityGate(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-6": "secret"})
	ws := dialHub(t, h.wsURL)

	writeFrame(t, ws, helloMessage("gs-6", "secret", []string{"server.status"}))
	readFrame(t, ws)

	mgr := NewManager(h.registry)
	if _, err := mgr.SendCommand("gs-6", "server.reboot", nil, time.Second); err == nil {
		t.Fatal("expected capability error")
	}
	if _, err := mgr.SendCommand("gs-7", "server.status", nil, time.Second); err == nil {
		t.Fatal("expected unknown server error")
	}
}

func TestSocketDropMarksDisconnected(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-8": "secret"})
	ws := dialHub(t, h.wsURL)

	writeFrame(t, ws, helloMessage("gs-8", "secret", nil))
	readFrame(t, ws)

	conn, _ := h.registry.Get("gs-8")
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Status() == network.StatusDisconnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %s, want disconnected after socket drop", conn.Status())
}

func TestOperatorDisableBarsRejoin(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-9": "secret"})

	ws := dialHub(t, h.wsURL)
	writeFrame(t, ws, helloMessage("gs-9", "secret", nil))
	readFrame(t, ws)

	conn, _ := h.registry.Get("gs-9")
	conn.Reconnect().Disable()
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && conn.Status() != network.StatusDisconnected {
		time.Sleep(10 * time.Millisecond)
	}

	// Rejoin while disabled is declined.
	ws2 := dialHub(t, h.wsURL)
	writeFrame(t, ws2, helloMessage("gs-9", "secret", nil))
	reply := readFrame(t, ws2)
	if accepted, _ := reply.Data["accepted"].(bool); accepted {
		t.Fatal("disabled server allowed back in")
	}
	if reason, _ := reply.Data["reason"].(string); reason != "server disabled by operator" {
		t.Fatalf("reason = %q", reason)
	}

	// After re-enabling, the same identity is welcome again.
	conn.Reconnect().Enable()
	ws3 := dialHub(t, h.wsURL)
	writeFrame(t, ws3, helloMessage("gs-9", "secret", nil))
	reply = readFrame(t, ws3)
	if accepted, _ := reply.Data["accepted"].(bool); !accepted {
		t.Fatalf("re-enabled server declined: %v", reply.Data["reason"])
	}
}

func TestQueuedFramesFlushOnRejoin(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-10": "secret"})

	ws := dialHub(t, h.wsURL)
	writeFrame(t, ws, helloMessage("gs-10", "secret", nil))
	readFrame(t, ws)

	conn, _ := h.registry.Get("gs-10")
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && conn.Status() != network.StatusDisconnected {
		time.Sleep(10 * time.Millisecond)
	}

	// Queue an event for the offline agent.
	if err := conn.Send(protocol.NewEvent("gs-10", "maintenance.notice", map[string]any{"window": "tonight"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Agent rejoins; the queued frame arrives right after the reply.
	ws2 := dialHub(t, h.wsURL)
	writeFrame(t, ws2, helloMessage("gs-10", "secret", nil))
	readFrame(t, ws2)

	msg := readFrame(t, ws2)
	if msg.Type != protocol.TypeEvent || msg.EventType != "maintenance.notice" {
		t.Fatalf("got %s, want queued maintenance.notice event", msg.String())
	}
}

func TestPreemptionSecondSocketWins(t *testing.T) {
	h := newListenerHarness(t, map[string]string{"gs-11": "secret"})

	ws1 := dialHub(t, h.wsURL)
	writeFrame(t, ws1, helloMessage("gs-11", "secret", nil))
	readFrame(t, ws1)

	ws2 := dialHub(t, h.wsURL)
	writeFrame(t, ws2, helloMessage("gs-11", "secret", nil))
	reply := readFrame(t, ws2)
	if accepted, _ := reply.Data["accepted"].(bool); !accepted {
		t.Fatalf("second socket declined: %v", reply.Data["reason"])
	}

	// The first socket is closed by the pre-emption.
	ws1.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws1.ReadMessage(); err == nil {
		t.Fatal("first socket still alive after pre-emption")
	}

	// The connection stays authenticated on the new socket.
	conn, _ := h.registry.Get("gs-11")
	if conn.Status() != network.StatusAuthenticated {
		t.Fatalf("status = %s, want authenticated", conn.Status())
	}
	if h.registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", h.registry.Count())
	}
}
