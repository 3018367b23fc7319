// Package input tracks the cabinet's two control panels.
package input

import (
	"fmt"
	"strings"
	"sync"
)

// Player identifies a control panel.
type Player int

const (
	P1 Player = iota + 1
	P2
)

// ParsePlayer accepts 1/2 or "p1"/"p2".
func ParsePlayer(s string) (Player, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "p1":
		return P1, nil
	case "2", "p2":
		return P2, nil
	}
	return 0, fmt.Errorf("unknown player %q", s)
}

func (p Player) String() string {
	return fmt.Sprintf("P%d", int(p))
}

func (p Player) valid() bool { return p == P1 || p == P2 }

// Button is one physical input on a panel.
type Button int

const (
	A1 Button = iota
	A2
	A3
	A4
	B1
	B2
	B3
	B4
	Menu
	StickUp
	StickDown
	StickLeft
	StickRight
	buttonCount
)

var buttonNames = [buttonCount]string{
	"A1", "A2", "A3", "A4",
	"B1", "B2", "B3", "B4",
	"Menu",
	"StickUp", "StickDown", "StickLeft", "StickRight",
}

func (b Button) String() string {
	if b < 0 || b >= buttonCount {
		return "Unknown"
	}
	return buttonNames[b]
}

// ParseButton is case-insensitive.
func ParseButton(s string) (Button, error) {
	for i, name := range buttonNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Button(i), nil
		}
	}
	return 0, fmt.Errorf("unknown button %q", s)
}

// State is an immutable copy of both panels.
type State struct {
	pressed [2][buttonCount]bool
}

// Pressed reports whether button is held on player's panel.
func (s State) Pressed(p Player, b Button) bool {
	if !p.valid() || b < 0 || b >= buttonCount {
		return false
	}
	return s.pressed[p-1][b]
}

// Axis returns -1/0/+1 for a pair of opposing buttons.
func (s State) Axis(p Player, negative, positive Button) float64 {
	v := 0.0
	if s.Pressed(p, negative) {
		v--
	}
	if s.Pressed(p, positive) {
		v++
	}
	return v
}

// Held lists the pressed buttons per player, for the API.
func (s State) Held() map[string][]string {
	out := make(map[string][]string, 2)
	for _, p := range []Player{P1, P2} {
		held := make([]string, 0)
		for b := Button(0); b < buttonCount; b++ {
			if s.pressed[p-1][b] {
				held = append(held, b.String())
			}
		}
		out[p.String()] = held
	}
	return out
}

// Controls is written by input transports and read once per tick.
type Controls struct {
	mu    sync.RWMutex
	state State
}

// NewControls creates controls with nothing pressed.
func NewControls() *Controls {
	return &Controls{}
}

// Set records a press or release.
func (c *Controls) Set(p Player, b Button, pressed bool) error {
	if !p.valid() {
		return fmt.Errorf("unknown player %d", int(p))
	}
	if b < 0 || b >= buttonCount {
		return fmt.Errorf("unknown button %d", int(b))
	}
	c.mu.Lock()
	c.state.pressed[p-1][b] = pressed
	c.mu.Unlock()
	return nil
}

// ReleaseAll clears both panels, e.g. when the input client disconnects.
func (c *Controls) ReleaseAll() {
	c.mu.Lock()
	c.state = State{}
	c.mu.Unlock()
}

// Snapshot returns the current state.
func (c *Controls) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
