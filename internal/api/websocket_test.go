package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ferris-cabinet/internal/input"

	"github.com/gorilla/websocket"
)

func startHub(t *testing.T, engine *MockEngine) (*WebSocketHub, string) {
	t.Helper()
	hub := NewWebSocketHub(NewOriginPolicy([]string{"https://arcade.example"}))
	hub.AttachControls(engine.controls)
	go hub.Run()
	t.Cleanup(hub.Stop)

	ts := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(ts.Close)
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// TestOriginPolicy verifies loopback and configured origins
func TestOriginPolicy(t *testing.T) {
	p := NewOriginPolicy([]string{"https://arcade.example/", "https://*.example"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"http://localhost.evil.example", false},
		{"https://arcade.example", true},
		{"https://other.example", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := p.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

// TestWebSocketRejectsForeignOrigin verifies the upgrade is refused
func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, NewMockEngine())

	_, resp, err := dial(t, url, "https://evil.example")
	if err == nil {
		t.Fatal("Expected dial to fail for foreign origin")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
}

// TestWebSocketInputAndRelease verifies input messages reach the controls
// and are released when the client disconnects
func TestWebSocketInputAndRelease(t *testing.T) {
	engine := NewMockEngine()
	hub, url := startHub(t, engine)

	conn, _, err := dial(t, url, "http://localhost:3000")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })

	msg := `{"event":"input","player":1,"button":"StickLeft","pressed":true}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitFor(t, "StickLeft press", func() bool {
		return engine.controls.Snapshot().Pressed(input.P1, input.StickLeft)
	})

	conn.Close()
	waitFor(t, "release on disconnect", func() bool {
		return !engine.controls.Snapshot().Pressed(input.P1, input.StickLeft)
	})
	waitFor(t, "unregister", func() bool { return hub.ClientCount() == 0 })
}

// TestWebSocketDisplayBroadcast verifies display changes are pushed to clients
func TestWebSocketDisplayBroadcast(t *testing.T) {
	hub, url := startHub(t, NewMockEngine())

	conn, _, err := dial(t, url, "http://localhost")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return hub.ClientCount() == 1 })

	hub.PublishDisplay("User: alice")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var msg struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Bad message: %v", err)
	}
	if msg.Event != EventDisplayText || msg.Data["text"] != "User: alice" {
		t.Errorf("Unexpected message: %s", data)
	}
}

// TestWebSocketConnLimits verifies the per-IP and total connection caps
func TestWebSocketConnLimits(t *testing.T) {
	limiter := NewConnLimiter(2, 3)

	for i := 0; i < 2; i++ {
		if _, ok := limiter.Acquire("10.0.0.1"); !ok {
			t.Fatal("First two connections should be allowed")
		}
	}
	if reason, ok := limiter.Acquire("10.0.0.1"); ok || reason != "ws_ip_limit" {
		t.Errorf("Third connection should hit the IP cap, got %q %v", reason, ok)
	}
	if _, ok := limiter.Acquire("10.0.0.2"); !ok {
		t.Error("Other IPs should not be affected")
	}
	if reason, ok := limiter.Acquire("10.0.0.3"); ok || reason != "ws_total_limit" {
		t.Errorf("Fourth connection should hit the total cap, got %q %v", reason, ok)
	}

	limiter.Release("10.0.0.1")
	limiter.Release("10.0.0.9") // never acquired
	if _, ok := limiter.Acquire("10.0.0.3"); !ok {
		t.Error("Released slot should be reusable")
	}
	if _, ok := limiter.Acquire("10.0.0.4"); ok {
		t.Error("Releasing an unknown IP must not free a slot")
	}
	if limiter.Rejected() != 3 {
		t.Errorf("Expected 3 rejections, got %d", limiter.Rejected())
	}
}

// TestGetClientIP verifies forwarded header handling
func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	if ip := GetClientIP(r); ip != "192.0.2.10" {
		t.Errorf("Expected RemoteAddr host, got %s", ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if ip := GetClientIP(r); ip != "203.0.113.5" {
		t.Errorf("Expected first forwarded IP, got %s", ip)
	}
}
