package nfc

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Scripted collaborators
// ============================================================================

type fakeTagPoll struct {
	res      TagResult
	ready    bool
	consumed bool
}

func (f *fakeTagPoll) Poll() (TagResult, bool) {
	if !f.ready || f.consumed {
		return TagResult{}, false
	}
	f.consumed = true
	return f.res, true
}

type fakeUserPoll struct {
	tag      TagID
	res      UserResult
	ready    bool
	consumed bool
}

func (f *fakeUserPoll) Poll() (UserResult, bool) {
	if !f.ready || f.consumed {
		return UserResult{}, false
	}
	f.consumed = true
	return f.res, true
}

type scriptedFactory struct {
	scans   []*fakeTagPoll
	lookups []*fakeUserPoll
}

func (f *scriptedFactory) ScanTag() TagPoll {
	p := &fakeTagPoll{}
	f.scans = append(f.scans, p)
	return p
}

func (f *scriptedFactory) LookupUser(tag TagID) UserPoll {
	p := &fakeUserPoll{tag: tag}
	f.lookups = append(f.lookups, p)
	return p
}

func (f *scriptedFactory) lastScan() *fakeTagPoll    { return f.scans[len(f.scans)-1] }
func (f *scriptedFactory) lastLookup() *fakeUserPoll { return f.lookups[len(f.lookups)-1] }

// outstanding counts issued requests that have not been consumed.
func (f *scriptedFactory) outstanding() int {
	n := 0
	for _, s := range f.scans {
		if !s.consumed {
			n++
		}
	}
	for _, l := range f.lookups {
		if !l.consumed {
			n++
		}
	}
	return n
}

type recordingSink struct {
	texts []string
}

func (s *recordingSink) SetDisplayText(text string) {
	s.texts = append(s.texts, text)
}

type recordingObserver struct {
	issued   []RequestKind
	outcomes []Outcome
}

func (o *recordingObserver) RequestIssued(_ uuid.UUID, kind RequestKind, _ TagID) {
	o.issued = append(o.issued, kind)
}

func (o *recordingObserver) RequestResolved(_ uuid.UUID, _ RequestKind, _ TagID, outcome Outcome, _ time.Duration, _ error) {
	o.outcomes = append(o.outcomes, outcome)
}

func newTestPoller() (*RequestPoller, *scriptedFactory, *recordingSink) {
	f := &scriptedFactory{}
	sink := &recordingSink{}
	return NewRequestPoller(f, PollerOptions{Sink: sink}), f, sink
}

// identify runs one full scan + lookup cycle that shows name.
func identify(t *testing.T, p *RequestPoller, f *scriptedFactory, tag TagID, name string) {
	t.Helper()
	f.lastScan().res, f.lastScan().ready = TagResult{Tag: tag, Found: true}, true
	p.Tick()
	f.lastLookup().res, f.lastLookup().ready = UserResult{User: UserRecord{Username: name}}, true
	p.Tick()
	if got := p.Display().String(); got != "User: "+name {
		t.Fatalf("Expected display 'User: %s', got '%s'", name, got)
	}
}

// ============================================================================
// State machine
// ============================================================================

// TestPollerFullCycle walks idle -> tag -> user -> idle
func TestPollerFullCycle(t *testing.T) {
	p, f, _ := newTestPoller()

	if p.State() != StateIdle {
		t.Fatalf("New poller should be idle, got %s", p.State())
	}
	if p.Display() != NoUser {
		t.Fatalf("New poller should show no user, got %s", p.Display())
	}

	// Tick 1: idle -> scan issued
	p.Tick()
	if len(f.scans) != 1 {
		t.Fatalf("Expected 1 scan issued, got %d", len(f.scans))
	}
	if p.State() != StateAwaitingTag {
		t.Fatalf("Expected awaiting_tag, got %s", p.State())
	}

	// Tick 2: scan resolves with a tag -> lookup issued, no new scan
	f.lastScan().res, f.lastScan().ready = TagResult{Tag: "abc123", Found: true}, true
	p.Tick()
	if len(f.lookups) != 1 {
		t.Fatalf("Expected 1 lookup issued, got %d", len(f.lookups))
	}
	if f.lookups[0].tag != "abc123" {
		t.Errorf("Expected lookup for 'abc123', got '%s'", f.lookups[0].tag)
	}
	if len(f.scans) != 1 {
		t.Errorf("No scan should be reissued while a lookup is pending, got %d scans", len(f.scans))
	}
	if p.State() != StateAwaitingUser {
		t.Fatalf("Expected awaiting_user, got %s", p.State())
	}

	// Tick 3: lookup resolves -> display updated, next scan issued
	f.lastLookup().res, f.lastLookup().ready = UserResult{User: UserRecord{Username: "alice", AvatarURL: "http://img/a.png"}}, true
	p.Tick()
	if got := p.Display().String(); got != "User: alice" {
		t.Errorf("Expected 'User: alice', got '%s'", got)
	}
	if u := p.Status().User; u == nil || u.AvatarURL != "http://img/a.png" {
		t.Errorf("Status should expose the identified user record, got %+v", u)
	}
	if len(f.scans) != 2 {
		t.Errorf("Expected a fresh scan after the lookup resolved, got %d scans", len(f.scans))
	}
	if p.State() != StateAwaitingTag {
		t.Errorf("Expected awaiting_tag, got %s", p.State())
	}
}

// TestPollerPendingDoesNotReissue verifies pending requests are left alone
func TestPollerPendingDoesNotReissue(t *testing.T) {
	p, f, _ := newTestPoller()

	for i := 0; i < 50; i++ {
		p.Tick()
	}
	if len(f.scans) != 1 {
		t.Errorf("Expected exactly 1 scan while pending, got %d", len(f.scans))
	}

	f.lastScan().res, f.lastScan().ready = TagResult{Tag: "t1", Found: true}, true
	for i := 0; i < 50; i++ {
		p.Tick()
	}
	if len(f.lookups) != 1 || len(f.scans) != 1 {
		t.Errorf("Expected 1 scan and 1 lookup, got %d and %d", len(f.scans), len(f.lookups))
	}
}

// TestPollerTagScanOutcomes covers the scan results that return to idle
func TestPollerTagScanOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		result  TagResult
		outcome Outcome
	}{
		{"no tag present", TagResult{}, OutcomeNoTag},
		{"reader fault", TagResult{Err: &ScanError{Err: errors.New("usb unplugged")}}, OutcomeScanError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFactory{}
			obs := &recordingObserver{}
			p := NewRequestPoller(f, PollerOptions{Observer: obs})

			p.Tick()
			identify(t, p, f, "abc123", "alice")

			f.lastScan().res, f.lastScan().ready = tt.result, true
			scansBefore := len(f.scans)
			p.Tick()

			if p.Display() != NoUser {
				t.Errorf("Expected display reset to 'No user', got '%s'", p.Display())
			}
			if p.Status().User != nil {
				t.Error("Status should drop the user record with the display")
			}
			if len(f.scans) != scansBefore+1 {
				t.Errorf("Expected a fresh scan, got %d new", len(f.scans)-scansBefore)
			}
			if len(f.lookups) != 1 {
				t.Errorf("No lookup should follow a failed scan, got %d lookups", len(f.lookups))
			}
			last := obs.outcomes[len(obs.outcomes)-1]
			if last != tt.outcome {
				t.Errorf("Expected outcome %s, got %s", tt.outcome, last)
			}
		})
	}
}

// TestPollerLookupFailureKeepsDisplay verifies a failed lookup leaves the name shown
func TestPollerLookupFailureKeepsDisplay(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome Outcome
	}{
		{"unknown tag", &LookupError{Tag: "zzz", Err: ErrUnknownTag}, OutcomeUnknownTag},
		{"network fault", &LookupError{Tag: "zzz", Err: errors.New("connection refused")}, OutcomeLookupError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFactory{}
			obs := &recordingObserver{}
			p := NewRequestPoller(f, PollerOptions{Observer: obs})

			p.Tick()
			identify(t, p, f, "abc123", "alice")

			f.lastScan().res, f.lastScan().ready = TagResult{Tag: "zzz", Found: true}, true
			p.Tick()
			f.lastLookup().res, f.lastLookup().ready = UserResult{Err: tt.err}, true
			p.Tick()

			if got := p.Display().String(); got != "User: alice" {
				t.Errorf("Expected display to stay 'User: alice', got '%s'", got)
			}
			if p.State() != StateAwaitingTag {
				t.Errorf("Expected a fresh scan after lookup failure, state %s", p.State())
			}
			if last := obs.outcomes[len(obs.outcomes)-1]; last != tt.outcome {
				t.Errorf("Expected outcome %s, got %s", tt.outcome, last)
			}
			if p.Status().LastError == "" {
				t.Error("Status should carry the last error")
			}
		})
	}
}

// TestPollerLookupFailureFromNoUser keeps "No user" when nothing was shown
func TestPollerLookupFailureFromNoUser(t *testing.T) {
	p, f, _ := newTestPoller()

	p.Tick()
	f.lastScan().res, f.lastScan().ready = TagResult{Tag: "abc", Found: true}, true
	p.Tick()
	f.lastLookup().res, f.lastLookup().ready = UserResult{Err: errors.New("boom")}, true
	p.Tick()

	if p.Display() != NoUser {
		t.Errorf("Expected 'No user', got '%s'", p.Display())
	}
}

// TestPollerSinkPushes verifies text pushed on scan issue and on change
func TestPollerSinkPushes(t *testing.T) {
	p, f, sink := newTestPoller()

	p.Tick()
	if len(sink.texts) != 1 || sink.texts[0] != "No user" {
		t.Fatalf("Expected initial 'No user' push, got %v", sink.texts)
	}

	identify(t, p, f, "abc123", "alice")

	want := []string{"No user", "User: alice", "User: alice"}
	if len(sink.texts) != len(want) {
		t.Fatalf("Expected pushes %v, got %v", want, sink.texts)
	}
	for i := range want {
		if sink.texts[i] != want[i] {
			t.Errorf("Push %d: expected '%s', got '%s'", i, want[i], sink.texts[i])
		}
	}
}

// TestPollerStatus checks the read-only view
func TestPollerStatus(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &scriptedFactory{}
	p := NewRequestPoller(f, PollerOptions{Now: func() time.Time { return clock }})

	st := p.Status()
	if st.State != "idle" || st.RequestID != "" {
		t.Errorf("Unexpected idle status: %+v", st)
	}

	p.Tick()
	f.lastScan().res, f.lastScan().ready = TagResult{Tag: "abc123", Found: true}, true
	p.Tick()
	clock = clock.Add(250 * time.Millisecond)

	st = p.Status()
	if st.State != "awaiting_user" {
		t.Errorf("Expected awaiting_user, got %s", st.State)
	}
	if st.RequestKind != "user_lookup" || st.Tag != "abc123" {
		t.Errorf("Expected user_lookup for abc123, got %s/%s", st.RequestKind, st.Tag)
	}
	if st.PendingMillis != 250 {
		t.Errorf("Expected 250ms pending, got %d", st.PendingMillis)
	}
	if st.ScansIssued != 1 || st.LookupsIssued != 1 {
		t.Errorf("Expected 1 scan and 1 lookup, got %d and %d", st.ScansIssued, st.LookupsIssued)
	}
	if _, err := uuid.Parse(st.RequestID); err != nil {
		t.Errorf("Request id should be a UUID: %v", err)
	}
}

// TestPollerAtMostOneOutstanding drives random resolutions and checks the invariant
func TestPollerAtMostOneOutstanding(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p, f, _ := newTestPoller()

	for tick := 0; tick < 5000; tick++ {
		before := p.Display()

		switch p.State() {
		case StateAwaitingTag:
			if rng.Intn(3) == 0 {
				s := f.lastScan()
				s.ready = true
				switch rng.Intn(3) {
				case 0:
					s.res = TagResult{Tag: TagID("tag"), Found: true}
				case 1:
					s.res = TagResult{}
				default:
					s.res = TagResult{Err: errors.New("fault")}
				}
			}
		case StateAwaitingUser:
			if rng.Intn(3) == 0 {
				l := f.lastLookup()
				l.ready = true
				if rng.Intn(2) == 0 {
					name := []string{"alice", "bob", "carol"}[rng.Intn(3)]
					l.res = UserResult{User: UserRecord{Username: name}}
				} else {
					l.res = UserResult{Err: errors.New("fault")}
				}
			}
		}

		lookupsBefore := len(f.lookups)
		wasAwaitingUser := p.State() == StateAwaitingUser
		lookupFailed := wasAwaitingUser && f.lastLookup().ready && f.lastLookup().res.Err != nil

		p.Tick()

		if n := f.outstanding(); n > 1 {
			t.Fatalf("Tick %d: %d requests outstanding", tick, n)
		}
		if p.State() == StateIdle {
			t.Fatalf("Tick %d: poller left idle after a tick", tick)
		}
		if lookupFailed && p.Display() != before {
			t.Fatalf("Tick %d: failed lookup changed display from %s to %s", tick, before, p.Display())
		}
		if len(f.lookups) > lookupsBefore+1 {
			t.Fatalf("Tick %d: more than one lookup issued", tick)
		}
	}
}
