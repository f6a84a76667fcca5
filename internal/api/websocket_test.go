package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harvestgrid/fieldgate-core/internal/gateway"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/config"
)

// dialWS connects a test websocket client to the server's push channel.
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial(%s): %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readEvent reads one JSON frame with a deadline.
func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	//nolint:errcheck // Best-effort deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return event
}

func TestWebSocket_InitOnConnect(t *testing.T) {
	srv, reg, _ := testServer(t)
	seedDevice(t, reg, "devices/esp32-gps/status", `{"battery":80}`)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWS(t, ts)

	event := readEvent(t, ws)
	if event["type"] != WSTypeInit {
		t.Fatalf("first event type = %v, want INIT", event["type"])
	}

	devices, ok := event["devices"].([]any)
	if !ok || len(devices) != 1 {
		t.Errorf("devices = %v, want one entry", event["devices"])
	}
	topics, ok := event["topics"].([]any)
	if !ok || len(topics) != 1 {
		t.Errorf("topics = %v, want one entry", event["topics"])
	}
	statusObj, ok := event["status"].(map[string]any)
	if !ok || statusObj["status"] != "active" {
		t.Errorf("status = %v, want active broker status", event["status"])
	}
}

// A client connecting while broker traffic is flowing still sees the
// full snapshot as its first frame: the snapshot is queued before the
// client joins the broadcast set.
func TestWebSocket_InitPrecedesBroadcasts(t *testing.T) {
	srv, reg, gw := testServer(t)
	seedDevice(t, reg, "devices/esp32-gps/status", `{"battery":80}`)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	// Keep broadcasts flowing for the duration of the handshake.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case gw.events <- gateway.Event{
				Topic:   "devices/esp32-gps/status",
				Message: `{"battery":79}`,
			}:
			}
		}
	}()

	ws := dialWS(t, ts)

	event := readEvent(t, ws)
	if event["type"] != WSTypeInit {
		t.Fatalf("first event type = %v, want INIT", event["type"])
	}
}

// The push channel mounts at the configured path; the default mount is
// absent when a custom path is set.
func TestWebSocket_ConfigurablePath(t *testing.T) {
	srv, _, _ := testServerWithWS(t, config.WebSocketConfig{
		Path:           "/stream",
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
		SendBuffer:     16,
	})

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial(%s): %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	event := readEvent(t, ws)
	if event["type"] != WSTypeInit {
		t.Fatalf("first event type = %v, want INIT", event["type"])
	}

	defaultURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	if conn, resp, err := websocket.DefaultDialer.Dial(defaultURL, nil); err == nil {
		conn.Close()
		t.Error("default path reachable with custom path configured")
	} else if resp != nil {
		resp.Body.Close()
	}
}

// A REFRESH after more traffic yields a snapshot whose counts are at
// least those of the preceding INIT.
func TestWebSocket_RefreshSnapshot(t *testing.T) {
	srv, reg, _ := testServer(t)
	seedDevice(t, reg, "devices/esp32-gps/status", `{"battery":80}`)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWS(t, ts)

	initEvent := readEvent(t, ws)
	initDevices := len(initEvent["devices"].([]any))

	seedDevice(t, reg, "devices/pump-1/status", `{"rpm":120}`)

	if err := ws.WriteJSON(map[string]string{"type": "REFRESH"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	event := readEvent(t, ws)
	if event["type"] != WSTypeStatusUpdate {
		t.Fatalf("event type = %v, want STATUS_UPDATE", event["type"])
	}
	gotDevices := len(event["devices"].([]any))
	if gotDevices < initDevices {
		t.Errorf("refresh devices = %d, want >= %d", gotDevices, initDevices)
	}
	if gotDevices != 2 {
		t.Errorf("refresh devices = %d, want 2", gotDevices)
	}
}

func TestWebSocket_CommandForwarded(t *testing.T) {
	srv, _, gw := testServer(t)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWS(t, ts)
	readEvent(t, ws) // consume INIT

	cmd := map[string]any{
		"type": "COMMAND",
		"data": map[string]any{
			"deviceId": "fence-3",
			"command":  map[string]any{"action": "disarm"},
		},
	}
	if err := ws.WriteJSON(cmd); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if cmds := gw.publishedCommands(); len(cmds) == 1 {
			if cmds[0].deviceID != "fence-3" {
				t.Errorf("deviceID = %q, want fence-3", cmds[0].deviceID)
			}
			var payload map[string]any
			if err := json.Unmarshal(cmds[0].payload, &payload); err != nil {
				t.Fatalf("command payload %q: %v", cmds[0].payload, err)
			}
			if payload["action"] != "disarm" {
				t.Errorf("action = %v, want disarm", payload["action"])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("command never reached the gateway")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// COMMAND frames with an empty deviceId are dropped, not forwarded.
func TestWebSocket_CommandShapeValidation(t *testing.T) {
	srv, _, gw := testServer(t)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWS(t, ts)
	readEvent(t, ws)

	bad := map[string]any{
		"type": "COMMAND",
		"data": map[string]any{"deviceId": "", "command": "x"},
	}
	if err := ws.WriteJSON(bad); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if cmds := gw.publishedCommands(); len(cmds) != 0 {
		t.Errorf("invalid command forwarded: %+v", cmds)
	}
}

func TestWebSocket_BroadcastToAllClients(t *testing.T) {
	srv, _, gw := testServer(t)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws1 := dialWS(t, ts)
	ws2 := dialWS(t, ts)
	readEvent(t, ws1)
	readEvent(t, ws2)

	gw.events <- gateway.Event{
		Topic:      "devices/esp32-gps/status",
		Message:    `{"battery":79}`,
		ReceivedAt: time.Now(),
	}

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		event := readEvent(t, ws)
		if event["type"] != WSTypeMQTTMessage {
			t.Fatalf("event type = %v, want MQTT_MESSAGE", event["type"])
		}
		if event["topic"] != "devices/esp32-gps/status" {
			t.Errorf("topic = %v", event["topic"])
		}
		if event["message"] != `{"battery":79}` {
			t.Errorf("message = %v", event["message"])
		}
	}
}

// A client that disconnects must not disturb delivery to the others.
func TestWebSocket_DisconnectIsolation(t *testing.T) {
	srv, _, gw := testServer(t)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws1 := dialWS(t, ts)
	ws2 := dialWS(t, ts)
	readEvent(t, ws1)
	readEvent(t, ws2)

	ws1.Close()

	// Wait until the hub notices the disconnect.
	deadline := time.After(2 * time.Second)
	for srv.hub.ClientCount() > 1 {
		select {
		case <-deadline:
			t.Fatal("hub never dropped the closed client")
		case <-time.After(10 * time.Millisecond):
		}
	}

	gw.events <- gateway.Event{Topic: "devices/pump-1/status", Message: `{"rpm":100}`}

	event := readEvent(t, ws2)
	if event["type"] != WSTypeMQTTMessage {
		t.Fatalf("event type = %v, want MQTT_MESSAGE", event["type"])
	}
	if event["topic"] != "devices/pump-1/status" {
		t.Errorf("topic = %v", event["topic"])
	}
}

// Malformed frames are ignored; the connection stays usable.
func TestWebSocket_MalformedFrameIgnored(t *testing.T) {
	srv, _, _ := testServer(t)

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	ws := dialWS(t, ts)
	readEvent(t, ws)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	if err := ws.WriteJSON(map[string]string{"type": "REFRESH"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	event := readEvent(t, ws)
	if event["type"] != WSTypeStatusUpdate {
		t.Errorf("event type = %v, want STATUS_UPDATE after bad frame", event["type"])
	}
}
