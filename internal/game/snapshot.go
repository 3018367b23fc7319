package game

import (
	"time"

	"ferris-cabinet/internal/nfc"
)

// Snapshot is an immutable copy of the engine state, published once per tick
type Snapshot struct {
	Sequence    uint64              `json:"sequence"`
	Timestamp   time.Time           `json:"timestamp"`
	TickNumber  uint64              `json:"tick"`
	Mascot      Mascot              `json:"mascot"`
	WorldWidth  float64             `json:"worldWidth"`
	WorldHeight float64             `json:"worldHeight"`
	Display     string              `json:"display"`
	NFC         *nfc.Status         `json:"nfc,omitempty"` // nil when identification is disabled
	Controls    map[string][]string `json:"controls"`
}

// User returns the identified user behind the display, if any
func (s *Snapshot) User() (nfc.UserRecord, bool) {
	if s.NFC == nil || s.NFC.User == nil {
		return nfc.UserRecord{}, false
	}
	return *s.NFC.User, true
}
