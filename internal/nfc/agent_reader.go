package nfc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// agentEvent is the JSON event pushed by the reader agent.
type agentEvent struct {
	Type string `json:"type"` // "tag" or "removed"; other types are ignored
	UID  string `json:"uid"`
}

// AgentReaderConfig configures the WebSocket agent client.
type AgentReaderConfig struct {
	URL         string        // e.g. ws://127.0.0.1:9470/events
	DialTimeout time.Duration // Default 3s
}

// AgentReader reads tags from an external NFC agent process that owns the
// hardware and pushes tag events over WebSocket. The connection is dialed
// lazily by Read and re-dialed after any failure.
type AgentReader struct {
	cfg    AgentReaderConfig
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	tags   chan TagID
	errs   chan connError
	closed bool
}

// connError is a read failure on one agent connection.
type connError struct {
	conn *websocket.Conn
	err  error
}

// NewAgentReader creates a reader for the agent at cfg.URL.
func NewAgentReader(cfg AgentReaderConfig) *AgentReader {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	return &AgentReader{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
		},
		tags: make(chan TagID, 1),
		errs: make(chan connError, 1),
	}
}

// Read implements TagReader.
func (r *AgentReader) Read(ctx context.Context) (TagID, error) {
	conn, err := r.ensureConnected(ctx)
	if err != nil {
		return "", err
	}

	for {
		select {
		case tag := <-r.tags:
			return tag, nil
		case ce := <-r.errs:
			// Failures of earlier connections were already handled by the redial.
			if ce.conn != conn {
				continue
			}
			return "", ce.err
		case <-ctx.Done():
			return "", nil
		}
	}
}

func (r *AgentReader) ensureConnected(ctx context.Context) (*websocket.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("agent reader closed")
	}
	if r.conn != nil {
		return r.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.cfg.DialTimeout)
	defer cancel()

	conn, _, err := r.dialer.DialContext(dialCtx, r.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", r.cfg.URL, err)
	}
	log.Printf("📡 Connected to NFC agent at %s", r.cfg.URL)

	r.conn = conn
	go r.readLoop(conn)
	return conn, nil
}

// readLoop forwards tag events until the connection fails.
func (r *AgentReader) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			closed := r.closed
			r.mu.Unlock()
			conn.Close()

			if !closed {
				log.Printf("⚠️ NFC agent connection lost: %v", err)
				r.pushErr(conn, fmt.Errorf("agent connection lost: %w", err))
			}
			return
		}

		var ev agentEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		uid := strings.TrimSpace(ev.UID)
		if ev.Type != "tag" || uid == "" {
			continue
		}
		r.pushTag(TagID(strings.ToLower(uid)))
	}
}

// pushTag keeps only the newest tag.
func (r *AgentReader) pushTag(tag TagID) {
	for {
		select {
		case r.tags <- tag:
			return
		default:
		}
		select {
		case <-r.tags:
		default:
		}
	}
}

// pushErr keeps only the newest connection failure.
func (r *AgentReader) pushErr(conn *websocket.Conn, err error) {
	ce := connError{conn: conn, err: err}
	for {
		select {
		case r.errs <- ce:
			return
		default:
		}
		select {
		case <-r.errs:
		default:
		}
	}
}

// Close implements TagReader.
func (r *AgentReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.conn != nil {
		err := r.conn.Close()
		r.conn = nil
		return err
	}
	return nil
}
