package nfc

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the poller's position in the identification cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingTag
	StateAwaitingUser
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTag:
		return "awaiting_tag"
	case StateAwaitingUser:
		return "awaiting_user"
	default:
		return "unknown"
	}
}

// DisplayState is either "no user" or a named user.
type DisplayState struct {
	Username string
}

// NoUser is the initial display state.
var NoUser = DisplayState{}

// HasUser reports whether a user is shown.
func (d DisplayState) HasUser() bool { return d.Username != "" }

// String renders the text shown on the cabinet.
func (d DisplayState) String() string {
	if !d.HasUser() {
		return "No user"
	}
	return "User: " + d.Username
}

// Outcome classifies a resolved request for logging and metrics.
type Outcome string

const (
	OutcomeTagFound    Outcome = "tag_found"
	OutcomeNoTag       Outcome = "no_tag"
	OutcomeScanError   Outcome = "scan_error"
	OutcomeUserFound   Outcome = "user_found"
	OutcomeUnknownTag  Outcome = "unknown_tag"
	OutcomeLookupError Outcome = "lookup_error"
)

// DisplaySink receives the display text. Implementations must not call back
// into the poller.
type DisplaySink interface {
	SetDisplayText(text string)
}

// DisplaySinkFunc adapts a function to DisplaySink.
type DisplaySinkFunc func(text string)

func (f DisplaySinkFunc) SetDisplayText(text string) { f(text) }

// Observer is notified about the request lifecycle.
type Observer interface {
	RequestIssued(id uuid.UUID, kind RequestKind, tag TagID)
	RequestResolved(id uuid.UUID, kind RequestKind, tag TagID, outcome Outcome, latency time.Duration, err error)
}

// PollerOptions configures optional poller collaborators.
type PollerOptions struct {
	Sink     DisplaySink
	Observer Observer
	Now      func() time.Time // Defaults to time.Now
}

// outstanding is the single in-flight identification request.
type outstanding struct {
	id       uuid.UUID
	kind     RequestKind
	tag      TagID
	issuedAt time.Time
	tagReq   TagPoll
	userReq  UserPoll
}

// RequestPoller drives the identification cycle: scan a tag, look up its
// owner, update the display, scan again. Tick must be called from a single
// goroutine; Status and Display are safe from any goroutine.
type RequestPoller struct {
	mu       sync.Mutex
	factory  RequestFactory
	sink     DisplaySink
	observer Observer
	now      func() time.Time

	state   State
	current *outstanding
	display DisplayState
	user    UserRecord // record behind display, zero for NoUser
	lastErr string

	scansIssued   uint64
	lookupsIssued uint64
}

// NewRequestPoller creates an idle poller showing "No user".
// The first Tick issues a tag scan.
func NewRequestPoller(factory RequestFactory, opts PollerOptions) *RequestPoller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RequestPoller{
		factory:  factory,
		sink:     opts.Sink,
		observer: opts.Observer,
		now:      now,
		state:    StateIdle,
		display:  NoUser,
	}
}

// Tick evaluates the state machine once. It never blocks on the driver.
func (p *RequestPoller) Tick() {
	p.mu.Lock()
	var pushes []string

	switch p.state {
	case StateAwaitingTag:
		if res, ok := p.current.tagReq.Poll(); ok {
			pushes = p.resolveTag(res, pushes)
		}
	case StateAwaitingUser:
		if res, ok := p.current.userReq.Poll(); ok {
			pushes = p.resolveUser(res, pushes)
		}
	}

	if p.state == StateIdle {
		p.issueScan()
		pushes = append(pushes, p.display.String())
	}
	p.mu.Unlock()

	if p.sink != nil {
		for _, text := range pushes {
			p.sink.SetDisplayText(text)
		}
	}
}

func (p *RequestPoller) resolveTag(res TagResult, pushes []string) []string {
	req := p.current
	p.current = nil
	latency := p.now().Sub(req.issuedAt)

	switch {
	case res.Err != nil:
		p.lastErr = res.Err.Error()
		log.Printf("⚠️ NFC scan %s failed: %v", req.id, res.Err)
		p.notifyResolved(req, OutcomeScanError, latency, res.Err)
		pushes = p.setDisplay(NoUser, pushes)
		p.state = StateIdle

	case !res.Found:
		p.notifyResolved(req, OutcomeNoTag, latency, nil)
		pushes = p.setDisplay(NoUser, pushes)
		p.state = StateIdle

	default:
		req.tag = res.Tag
		p.notifyResolved(req, OutcomeTagFound, latency, nil)
		log.Printf("🏷️ Tag %s scanned, looking up user", res.Tag)
		p.issueLookup(res.Tag)
	}
	return pushes
}

func (p *RequestPoller) resolveUser(res UserResult, pushes []string) []string {
	req := p.current
	p.current = nil
	latency := p.now().Sub(req.issuedAt)

	if res.Err != nil {
		// The previous name stays on screen.
		p.lastErr = res.Err.Error()
		outcome := OutcomeLookupError
		if isUnknownTag(res.Err) {
			outcome = OutcomeUnknownTag
		}
		log.Printf("⚠️ NFC lookup %s failed: %v", req.id, res.Err)
		p.notifyResolved(req, outcome, latency, res.Err)
	} else {
		p.notifyResolved(req, OutcomeUserFound, latency, nil)
		p.user = res.User
		pushes = p.setDisplay(DisplayState{Username: res.User.Username}, pushes)
	}
	p.state = StateIdle
	return pushes
}

func (p *RequestPoller) issueScan() {
	p.current = &outstanding{
		id:       uuid.New(),
		kind:     KindTagScan,
		issuedAt: p.now(),
		tagReq:   p.factory.ScanTag(),
	}
	p.state = StateAwaitingTag
	p.scansIssued++
	if p.observer != nil {
		p.observer.RequestIssued(p.current.id, KindTagScan, "")
	}
}

func (p *RequestPoller) issueLookup(tag TagID) {
	p.current = &outstanding{
		id:       uuid.New(),
		kind:     KindUserLookup,
		tag:      tag,
		issuedAt: p.now(),
		userReq:  p.factory.LookupUser(tag),
	}
	p.state = StateAwaitingUser
	p.lookupsIssued++
	if p.observer != nil {
		p.observer.RequestIssued(p.current.id, KindUserLookup, tag)
	}
}

func (p *RequestPoller) setDisplay(d DisplayState, pushes []string) []string {
	if !d.HasUser() {
		p.user = UserRecord{}
	}
	if d == p.display {
		return pushes
	}
	p.display = d
	log.Printf("🖥️ Display: %s", d)
	return append(pushes, d.String())
}

func (p *RequestPoller) notifyResolved(req *outstanding, outcome Outcome, latency time.Duration, err error) {
	if p.observer != nil {
		p.observer.RequestResolved(req.id, req.kind, req.tag, outcome, latency, err)
	}
}

// Display returns the current display state.
func (p *RequestPoller) Display() DisplayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.display
}

// State returns the current state.
func (p *RequestPoller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status is a read-only view of the poller for the API.
type Status struct {
	State         string      `json:"state"`
	Display       string      `json:"display"`
	RequestID     string      `json:"requestId,omitempty"`
	RequestKind   string      `json:"requestKind,omitempty"`
	Tag           string      `json:"tag,omitempty"`
	PendingMillis int64       `json:"pendingMillis,omitempty"`
	LastError     string      `json:"lastError,omitempty"`
	User          *UserRecord `json:"user,omitempty"`
	ScansIssued   uint64      `json:"scansIssued"`
	LookupsIssued uint64      `json:"lookupsIssued"`
}

// Status returns a snapshot of the poller.
func (p *RequestPoller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		State:         p.state.String(),
		Display:       p.display.String(),
		LastError:     p.lastErr,
		ScansIssued:   p.scansIssued,
		LookupsIssued: p.lookupsIssued,
	}
	if p.display.HasUser() {
		user := p.user
		st.User = &user
	}
	if p.current != nil {
		st.RequestID = p.current.id.String()
		st.RequestKind = p.current.kind.String()
		st.Tag = string(p.current.tag)
		st.PendingMillis = p.now().Sub(p.current.issuedAt).Milliseconds()
	}
	return st
}
