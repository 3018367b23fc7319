package game

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeRequestIssued
	EventTypeTagScanned
	EventTypeNoTag
	EventTypeScanFailed
	EventTypeUserIdentified
	EventTypeUnknownTag
	EventTypeLookupFailed
	EventTypeDisplayChanged
)

// EventVersion for backwards compatibility of the log format
const EventVersion uint8 = 1

// Event is one line of the identification event log
type Event struct {
	Version   uint8           `json:"version"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	TickNum   uint64          `json:"tickNum"`   // Engine tick this occurred in
	Tag       string          `json:"tag,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeRequestIssued:
		return "request_issued"
	case EventTypeTagScanned:
		return "tag_scanned"
	case EventTypeNoTag:
		return "no_tag"
	case EventTypeScanFailed:
		return "scan_failed"
	case EventTypeUserIdentified:
		return "user_identified"
	case EventTypeUnknownTag:
		return "unknown_tag"
	case EventTypeLookupFailed:
		return "lookup_failed"
	case EventTypeDisplayChanged:
		return "display_changed"
	default:
		return "unknown"
	}
}

// RequestPayload describes an identification request event
type RequestPayload struct {
	RequestID string `json:"requestId"`
	Kind      string `json:"kind"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DisplayPayload carries the new display text
type DisplayPayload struct {
	Text string `json:"text"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) json.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum uint64, tag string, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType.String(),
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		Tag:       tag,
		Payload:   EncodePayload(payload),
	}
}
