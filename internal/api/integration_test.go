package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ferris-cabinet/internal/game"
	"ferris-cabinet/internal/nfc"
	"ferris-cabinet/internal/store"
)

// TestCabinetIdentifiesTappedUser wires the real engine, manual reader and
// SQLite directory behind the router: register a tag, tap it, and the
// display follows. An unregistered tag is a lookup failure and keeps the
// previous name.
func TestCabinetIdentifiesTappedUser(t *testing.T) {
	dir, err := store.OpenSQLiteDirectory(filepath.Join(t.TempDir(), "cabinet.db"))
	if err != nil {
		t.Fatalf("Open directory: %v", err)
	}
	defer dir.Close()

	reader := nfc.NewManualReader()
	cached := nfc.NewCachedDirectory(dir, time.Minute)

	engine := game.NewEngine(game.EngineConfig{
		TickRate: 200,
		Identification: nfc.NewDriver(reader, cached, nfc.DriverConfig{
			ScanWindow:    2 * time.Second,
			LookupTimeout: time.Second,
		}),
	})
	engine.Start()
	defer engine.Stop()

	ts := httptest.NewServer(NewRouter(RouterConfig{
		Engine:         engine,
		Tapper:         reader,
		Users:          dir,
		OnUserChange:   cached.Invalidate,
		DisableLogging: true,
		RateLimitConfig: &RateLimitConfig{
			General: Bucket{PerSecond: 1000, Burst: 1000},
			Tap:     Bucket{PerSecond: 1000, Burst: 1000},
		},
	}))
	defer ts.Close()

	displayText := func() string {
		resp, err := http.Get(ts.URL + "/api/display")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Text string `json:"text"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return body.Text
	}

	if got := displayText(); got != "No user" {
		t.Fatalf("Expected 'No user' at start, got %q", got)
	}

	resp := postJSON(t, ts.URL+"/api/users", `{"tag": "04A1", "username": "alice"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Register: expected 201, got %d", resp.StatusCode)
	}

	postJSON(t, ts.URL+"/api/nfc/tap", `{"tag": "04a1"}`)
	waitFor(t, "alice on the display", func() bool { return displayText() == "User: alice" })

	postJSON(t, ts.URL+"/api/nfc/tap", `{"tag": "ffff"}`)
	waitFor(t, "second lookup to resolve", func() bool {
		st := engine.GetSnapshot().NFC
		return st != nil && st.LookupsIssued >= 2 && st.State == "awaiting_tag"
	})

	snap := engine.GetSnapshot()
	if snap.Display != "User: alice" {
		t.Errorf("Lookup failure should keep the previous name, got %q", snap.Display)
	}
	if !strings.Contains(snap.NFC.LastError, "unknown tag") {
		t.Errorf("Expected unknown tag error, got %q", snap.NFC.LastError)
	}
	if events := engine.RecentEvents(50); len(events) == 0 {
		t.Error("Expected identification events in the log")
	}
}
