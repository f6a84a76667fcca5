package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harvestgrid/fieldgate-core/internal/gateway"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/config"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/logging"
	"github.com/harvestgrid/fieldgate-core/internal/registry"
	"github.com/harvestgrid/fieldgate-core/internal/status"
)

// stubGateway implements GatewayControl with a controllable event
// channel and a record of published commands.
type stubGateway struct {
	mu        sync.Mutex
	state     gateway.State
	events    chan gateway.Event
	published []publishedCommand
}

type publishedCommand struct {
	deviceID string
	payload  []byte
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		state:  gateway.StateActive,
		events: make(chan gateway.Event, 16),
	}
}

func (g *stubGateway) State() gateway.State         { return g.state }
func (g *stubGateway) Events() <-chan gateway.Event { return g.events }

func (g *stubGateway) PublishCommand(deviceID string, payload []byte) error {
	if deviceID == "" {
		return gateway.ErrInvalidCommand
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.published = append(g.published, publishedCommand{deviceID, payload})
	return nil
}

func (g *stubGateway) publishedCommands() []publishedCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]publishedCommand, len(g.published))
	copy(out, g.published)
	return out
}

// stubStatus implements StatusSource with a fixed value.
type stubStatus struct{}

func (stubStatus) Status() status.Broker {
	return status.Broker{
		Status: "active",
		Stats: status.Stats{
			Clients:  1,
			Messages: 2,
			Uptime:   "0m 1s",
			CPUUsage: "0.1%",
			MemUsage: "10.0MB",
		},
	}
}

// testServer creates a Server with a real registry, a stub gateway, and
// a running hub.
func testServer(t *testing.T) (*Server, *registry.Registry, *stubGateway) {
	t.Helper()
	return testServerWithWS(t, config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
		SendBuffer:     16,
	})
}

func testServerWithWS(t *testing.T, ws config.WebSocketConfig) (*Server, *registry.Registry, *stubGateway) {
	t.Helper()

	reg := registry.New()
	gw := newStubGateway()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:       ws,
		Logger:   log,
		Registry: reg,
		Gateway:  gw,
		Status:   stubStatus{},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(srv.wsCfg, log, srv, gw)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx, gw.Events())

	return srv, reg, gw
}

func seedDevice(t *testing.T, reg *registry.Registry, topic, payload string) {
	t.Helper()
	if err := reg.RecordMessage(topic, []byte(payload), time.Now()); err != nil {
		t.Fatalf("RecordMessage(%q): %v", topic, err)
	}
}

func TestNew_Validation(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	base := Deps{
		Logger:   log,
		Registry: registry.New(),
		Gateway:  newStubGateway(),
		Status:   stubStatus{},
	}

	missing := []func(d *Deps){
		func(d *Deps) { d.Logger = nil },
		func(d *Deps) { d.Registry = nil },
		func(d *Deps) { d.Gateway = nil },
		func(d *Deps) { d.Status = nil },
	}
	for i, strip := range missing {
		deps := base
		strip(&deps)
		if _, err := New(deps); err == nil {
			t.Errorf("New() with missing dep %d should fail", i)
		}
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["broker"] != "active" {
		t.Errorf("broker = %v, want active", resp["broker"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestListDevices(t *testing.T) {
	srv, reg, _ := testServer(t)
	router := srv.buildRouter()

	// Empty registry first.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Devices []DeviceDTO `json:"devices"`
		Count   int         `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0", resp.Count)
	}

	seedDevice(t, reg, "devices/esp32-gps/status", `{"battery":80}`)
	seedDevice(t, reg, "devices/pump-1/sensor", `{"flow":1.5}`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Devices[0].ID != "esp32-gps" || resp.Devices[1].ID != "pump-1" {
		t.Errorf("device order = %q, %q", resp.Devices[0].ID, resp.Devices[1].ID)
	}
	if resp.Devices[0].Status != "connected" {
		t.Errorf("status = %q, want connected", resp.Devices[0].Status)
	}
	if !strings.HasPrefix(resp.Devices[0].IP, "192.168.1.") {
		t.Errorf("ip = %q, want 192.168.1.x", resp.Devices[0].IP)
	}
}

func TestGetDevice(t *testing.T) {
	srv, reg, _ := testServer(t)
	router := srv.buildRouter()

	seedDevice(t, reg, "devices/esp32-gps/status", `{"battery":80}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/esp32-gps", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp struct {
		Device DeviceDTO `json:"device"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Device.ID != "esp32-gps" {
		t.Errorf("id = %q, want esp32-gps", resp.Device.ID)
	}
	if resp.Device.LastSeen == "never" {
		t.Error("lastSeen = never for seen device")
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var apiErr Error
	if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("error status = %d, want 404", apiErr.Status)
	}
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
	if apiErr.Message == "" {
		t.Error("error message empty")
	}
}

func TestListTopics(t *testing.T) {
	srv, reg, _ := testServer(t)
	router := srv.buildRouter()

	seedDevice(t, reg, "devices/esp32-gps/status", `{"battery":80}`)
	reg.UpsertTopic("$SYS/broker/uptime", "42 seconds", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/topics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Topics []TopicDTO `json:"topics"`
		Count  int        `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Topics[0].Publisher != "esp32-gps" {
		t.Errorf("publisher = %q, want esp32-gps", resp.Topics[0].Publisher)
	}
	if resp.Topics[1].Publisher != "system" {
		t.Errorf("publisher = %q, want system", resp.Topics[1].Publisher)
	}
	if resp.Topics[0].Subscribers != 1 {
		t.Errorf("subscribers = %d, want 1", resp.Topics[0].Subscribers)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp status.Broker
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "active" {
		t.Errorf("status = %q, want active", resp.Status)
	}
	if resp.Stats.Uptime == "" || resp.Stats.CPUUsage == "" {
		t.Errorf("stats incomplete: %+v", resp.Stats)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, reg, _ := testServer(t)
	router := srv.buildRouter()

	seedDevice(t, reg, "devices/esp32-gps/status", `{"battery":80}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var metrics SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if metrics.Version != "test" {
		t.Errorf("version = %q, want test", metrics.Version)
	}
	if metrics.Runtime.Goroutines <= 0 {
		t.Errorf("goroutines = %d, want > 0", metrics.Runtime.Goroutines)
	}
	if metrics.Broker.State != "active" {
		t.Errorf("broker state = %q, want active", metrics.Broker.State)
	}
	if metrics.Registry.Devices != 1 || metrics.Registry.Messages != 1 {
		t.Errorf("registry stats = %+v, want 1 device / 1 message", metrics.Registry)
	}
}

func TestNotFoundRoute(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
