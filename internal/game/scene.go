package game

import (
	"math"

	"ferris-cabinet/internal/input"
)

const (
	MoveSpeed   = 200.0       // World units per second on the P1 stick
	SpinAccel   = math.Pi     // rad/s² on the P2 stick
	MaxSpin     = 4 * math.Pi // rad/s
	DefaultSpin = math.Pi / 2 // Idle spin of the mascot
	SpawnX      = 100.0
	SpawnY      = 0.0
)

// Mascot is the Ferris model's transform. Coordinates are centered on the
// screen, y up.
type Mascot struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Yaw  float64 `json:"yaw"`  // radians, [0, 2π)
	Spin float64 `json:"spin"` // rad/s
}

// Scene holds the mascot and the world bounds it is clamped to.
type Scene struct {
	Mascot     Mascot
	HalfWidth  float64
	HalfHeight float64
}

// NewScene creates a scene with the mascot at its spawn point.
func NewScene(width, height float64) Scene {
	s := Scene{HalfWidth: width / 2, HalfHeight: height / 2}
	s.Reset()
	return s
}

// Reset puts the mascot back at spawn with the idle spin.
func (s *Scene) Reset() {
	s.Mascot = Mascot{X: SpawnX, Y: SpawnY, Spin: DefaultSpin}
}

// Update advances the scene by dt seconds.
func (s *Scene) Update(controls input.State, dt float64) {
	if controls.Pressed(input.P2, input.A1) {
		s.Reset()
		return
	}

	m := &s.Mascot
	m.X += controls.Axis(input.P1, input.StickLeft, input.StickRight) * MoveSpeed * dt
	m.Y += controls.Axis(input.P1, input.StickDown, input.StickUp) * MoveSpeed * dt
	m.X = clamp(m.X, -s.HalfWidth, s.HalfWidth)
	m.Y = clamp(m.Y, -s.HalfHeight, s.HalfHeight)

	m.Spin += controls.Axis(input.P2, input.StickLeft, input.StickRight) * SpinAccel * dt
	m.Spin = clamp(m.Spin, -MaxSpin, MaxSpin)

	m.Yaw = math.Mod(m.Yaw+m.Spin*dt, 2*math.Pi)
	if m.Yaw < 0 {
		m.Yaw += 2 * math.Pi
	}
	// A tiny negative remainder rounds up to exactly 2π.
	if m.Yaw >= 2*math.Pi {
		m.Yaw = 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
