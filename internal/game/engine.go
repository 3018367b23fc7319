package game

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"ferris-cabinet/internal/input"
	"ferris-cabinet/internal/nfc"

	"github.com/google/uuid"
)

// EngineConfig holds engine construction parameters
type EngineConfig struct {
	TickRate    int     // Ticks per second
	WorldWidth  float64 // Scene width in world units
	WorldHeight float64 // Scene height in world units

	// Controls is the input source. Nil creates a private one.
	Controls *input.Controls

	// Identification issues NFC requests. Nil disables identification.
	Identification nfc.RequestFactory

	// Observer additionally receives identification request events (metrics).
	Observer nfc.Observer

	// OnDisplayChange is called from the tick goroutine when the display text changes.
	OnDisplayChange func(text string)

	// OnTick is called after every tick with its duration.
	OnTick func(d time.Duration)
}

// DefaultEngineConfig returns the cabinet defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickRate:    60,
		WorldWidth:  1280,
		WorldHeight: 720,
	}
}

// Engine runs the per-frame update: scene transform, then the NFC poller
type Engine struct {
	scene    Scene
	controls *input.Controls
	poller   *nfc.RequestPoller

	displayText     string
	onDisplayChange func(text string)
	onTick          func(d time.Duration)

	tickRate  int
	tickCount uint64

	mu       sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}

	snapshot atomic.Pointer[Snapshot]
	sequence uint64

	eventLog *EventLog
}

// NewEngine creates an engine. The first snapshot is published immediately.
func NewEngine(cfg EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if cfg.TickRate <= 0 {
		cfg.TickRate = defaults.TickRate
	}
	if cfg.WorldWidth <= 0 || cfg.WorldHeight <= 0 {
		cfg.WorldWidth, cfg.WorldHeight = defaults.WorldWidth, defaults.WorldHeight
	}
	if cfg.Controls == nil {
		cfg.Controls = input.NewControls()
	}

	e := &Engine{
		scene:           NewScene(cfg.WorldWidth, cfg.WorldHeight),
		controls:        cfg.Controls,
		displayText:     nfc.NoUser.String(),
		onDisplayChange: cfg.OnDisplayChange,
		onTick:          cfg.OnTick,
		tickRate:        cfg.TickRate,
		stopChan:        make(chan struct{}),
		done:            make(chan struct{}),
		eventLog:        NewEventLog(),
	}

	if cfg.Identification != nil {
		e.poller = nfc.NewRequestPoller(cfg.Identification, nfc.PollerOptions{
			Sink:     nfc.DisplaySinkFunc(e.setDisplayText),
			Observer: &eventObserver{engine: e, next: cfg.Observer},
		})
	}

	e.produceSnapshot()
	return e
}

// Start begins the game loop
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ticker = time.NewTicker(time.Second / time.Duration(e.tickRate))
	e.mu.Unlock()

	go func() {
		defer close(e.done)
		for {
			select {
			case <-e.ticker.C:
				e.tick()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 Cabinet engine started at %d TPS", e.tickRate)
}

// Stop stops the game loop and waits for the current tick to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.ticker.Stop()
	close(e.stopChan)
	e.mu.Unlock()

	<-e.done
	log.Println("🛑 Cabinet engine stopped")
}

// tick is called at tickRate times per second, always from one goroutine
func (e *Engine) tick() {
	start := time.Now()
	e.tickCount++
	deltaTime := 1.0 / float64(e.tickRate)

	e.scene.Update(e.controls.Snapshot(), deltaTime)

	if e.poller != nil {
		e.poller.Tick()
	}

	e.produceSnapshot()

	if e.onTick != nil {
		e.onTick(time.Since(start))
	}
}

// setDisplayText is the poller's display sink
func (e *Engine) setDisplayText(text string) {
	if text == e.displayText {
		return
	}
	e.displayText = text
	e.eventLog.EmitSimple(EventTypeDisplayChanged, e.tickCount, "", DisplayPayload{Text: text})
	if e.onDisplayChange != nil {
		e.onDisplayChange(text)
	}
}

func (e *Engine) produceSnapshot() {
	e.sequence++
	snap := &Snapshot{
		Sequence:    e.sequence,
		Timestamp:   time.Now(),
		TickNumber:  e.tickCount,
		Mascot:      e.scene.Mascot,
		WorldWidth:  e.scene.HalfWidth * 2,
		WorldHeight: e.scene.HalfHeight * 2,
		Display:     e.displayText,
		Controls:    e.controls.Snapshot().Held(),
	}
	if e.poller != nil {
		st := e.poller.Status()
		snap.NFC = &st
	}
	e.snapshot.Store(snap)
}

// GetSnapshot returns the latest immutable snapshot
func (e *Engine) GetSnapshot() *Snapshot {
	return e.snapshot.Load()
}

// Controls returns the input state the engine reads every tick
func (e *Engine) Controls() *input.Controls {
	return e.controls
}

// IdentificationEnabled reports whether an NFC poller is attached
func (e *Engine) IdentificationEnabled() bool {
	return e.poller != nil
}

// StartEventLog initializes the event logging system
func (e *Engine) StartEventLog(filePath string) error {
	return e.eventLog.Start(filePath)
}

// StopEventLog gracefully stops the event logging system
func (e *Engine) StopEventLog() {
	e.eventLog.Stop()
}

// GetEventLogStats returns event log statistics for monitoring
func (e *Engine) GetEventLogStats() map[string]interface{} {
	return e.eventLog.GetStats()
}

// RecentEvents returns the newest identification events
func (e *Engine) RecentEvents(n int) []Event {
	return e.eventLog.Recent(n)
}

// eventObserver records the request lifecycle in the event log and forwards
// to the configured observer
type eventObserver struct {
	engine *Engine
	next   nfc.Observer
}

func (o *eventObserver) RequestIssued(id uuid.UUID, kind nfc.RequestKind, tag nfc.TagID) {
	o.engine.eventLog.EmitSimple(EventTypeRequestIssued, o.engine.tickCount, string(tag), RequestPayload{
		RequestID: id.String(),
		Kind:      kind.String(),
	})
	if o.next != nil {
		o.next.RequestIssued(id, kind, tag)
	}
}

func (o *eventObserver) RequestResolved(id uuid.UUID, kind nfc.RequestKind, tag nfc.TagID, outcome nfc.Outcome, latency time.Duration, err error) {
	payload := RequestPayload{
		RequestID: id.String(),
		Kind:      kind.String(),
		LatencyMs: latency.Milliseconds(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	o.engine.eventLog.EmitSimple(outcomeEventType(outcome), o.engine.tickCount, string(tag), payload)
	if o.next != nil {
		o.next.RequestResolved(id, kind, tag, outcome, latency, err)
	}
}

func outcomeEventType(outcome nfc.Outcome) EventType {
	switch outcome {
	case nfc.OutcomeTagFound:
		return EventTypeTagScanned
	case nfc.OutcomeNoTag:
		return EventTypeNoTag
	case nfc.OutcomeScanError:
		return EventTypeScanFailed
	case nfc.OutcomeUserFound:
		return EventTypeUserIdentified
	case nfc.OutcomeUnknownTag:
		return EventTypeUnknownTag
	case nfc.OutcomeLookupError:
		return EventTypeLookupFailed
	default:
		return EventTypeUnknown
	}
}
