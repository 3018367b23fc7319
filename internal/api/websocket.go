package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"ferris-cabinet/internal/input"

	"github.com/gorilla/websocket"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 100

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// SceneBroadcastInterval is how often scene:state is pushed
	SceneBroadcastInterval = 100 * time.Millisecond

	writeWait = 2 * time.Second
)

// Broadcast event names
const (
	EventDisplayText = "display:text"
	EventSceneState  = "scene:state"
)

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// WebSocketHub manages all WebSocket connections with DoS protection.
// Only the Run goroutine writes to connections.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	origins  *OriginPolicy

	// Connection limiting per IP and in total
	wsLimiter *ConnLimiter

	// controls receives "input" messages. Nil ignores them.
	controls *input.Controls
}

// NewWebSocketHub creates a new hub with connection limiting.
// A nil policy accepts loopback origins only.
func NewWebSocketHub(origins *OriginPolicy) *WebSocketHub {
	if origins == nil {
		origins = NewOriginPolicy(nil)
	}
	h := &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		origins:    origins,
		wsLimiter:  NewConnLimiter(MaxWSConnectionsPerIP, MaxWSConnectionsTotal),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if h.origins.Allowed(origin) {
		return true
	}

	// Log rejected origin for security monitoring
	log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
	RecordConnectionRejected("origin")
	return false
}

// AttachControls routes client "input" messages to controls
func (h *WebSocketHub) AttachControls(controls *input.Controls) {
	h.mu.Lock()
	h.controls = controls
	h.mu.Unlock()
}

// Run starts the hub. It returns after Stop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for conn, client := range h.clients {
				h.wsLimiter.Release(client.ip)
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				// Release the connection slot for this IP
				h.wsLimiter.Release(client.ip)
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client disconnected (%d remaining)", count)
			UpdateWSConnections(count)

		case message := <-h.broadcast:
			h.writeAll(message)
			IncrementWSMessages()
		}
	}
}

// writeAll sends message to every client and drops the ones that fail
func (h *WebSocketHub) writeAll(message []byte) {
	var failed []*websocket.Conn

	h.mu.RLock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, conn := range failed {
		if client, ok := h.clients[conn]; ok {
			h.wsLimiter.Release(client.ip)
			delete(h.clients, conn)
		}
		conn.Close()
	}
	h.mu.Unlock()
}

// Stop closes all connections and ends Run
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast sends a message to all connected clients
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	msg := map[string]interface{}{
		"event": event,
		"data":  data,
	}

	jsonBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case h.broadcast <- jsonBytes:
	default:
		// Channel full, skip (backpressure)
	}
}

// PublishDisplay broadcasts a display text change. It is the engine's
// OnDisplayChange hook and never blocks the tick.
func (h *WebSocketHub) PublishDisplay(text string) {
	RecordDisplayChange()
	h.Broadcast(EventDisplayText, map[string]string{"text": text})
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartBroadcastLoop broadcasts the scene periodically until Stop
func (h *WebSocketHub) StartBroadcastLoop(engine EngineInterface) {
	ticker := time.NewTicker(SceneBroadcastInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
			}
			if h.ClientCount() == 0 {
				continue
			}

			snap := engine.GetSnapshot()
			h.Broadcast(EventSceneState, map[string]interface{}{
				"tick":     snap.TickNumber,
				"mascot":   snap.Mascot,
				"display":  snap.Display,
				"controls": snap.Controls,
			})
		}
	}()
}

// clientMessage is a message sent by a client
type clientMessage struct {
	Event string `json:"event"`
	inputMessage
}

// HandleWebSocket handles incoming WebSocket connections with DoS protection
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get client IP for rate limiting
	ip := GetClientIP(r)

	if reason, ok := h.wsLimiter.Acquire(ip); !ok {
		log.Printf("⚠️ WebSocket connection rejected from %s: %s", ip, reason)
		RecordConnectionRejected(reason)
		status := http.StatusTooManyRequests
		if reason == "ws_total_limit" {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "Too many connections", status)
		return
	}

	// Upgrade to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.wsLimiter.Release(ip) // Release the slot we reserved
		return
	}

	client := &wsClient{conn: conn, ip: ip}
	select {
	case h.register <- client:
	case <-h.stop:
		conn.Close()
		h.wsLimiter.Release(ip)
		return
	}

	go h.readLoop(client)
}

// readLoop applies input messages until the client goes away, then
// releases whatever that client was still holding
func (h *WebSocketHub) readLoop(client *wsClient) {
	held := make(map[[2]int]bool)

	defer func() {
		h.mu.RLock()
		controls := h.controls
		h.mu.RUnlock()
		if controls != nil {
			for key := range held {
				controls.Set(input.Player(key[0]), input.Button(key[1]), false)
			}
		}
		select {
		case h.unregister <- client.conn:
		case <-h.stop:
		}
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Event != "input" {
			log.Printf("📨 WebSocket message from %s ignored: %q", client.ip, msg.Event)
			continue
		}

		h.mu.RLock()
		controls := h.controls
		h.mu.RUnlock()
		if controls == nil {
			continue
		}

		player, button, err := applyInput(controls, msg.inputMessage)
		if err != nil {
			log.Printf("📨 Bad input from %s: %v", client.ip, err)
			continue
		}
		key := [2]int{int(player), int(button)}
		if msg.Pressed {
			held[key] = true
		} else {
			delete(held, key)
		}
	}
}
