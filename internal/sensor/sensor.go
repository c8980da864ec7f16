// Package sensor implements the virtual line sensor mounted on each vehicle.
//
// A sensor is a thin rectangle standing upright in front of the chassis. Its
// local frame is the chassis frame turned half a revolution about the up
// axis and moved forward by the mount offset, so local +x points to the
// vehicle's right and the course crosses the plane where local z is zero.
package sensor

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Default sensor geometry.
const (
	DefaultWidth   = 20.0
	DefaultHeight  = 1.0
	DefaultOffset  = 5.0
	DefaultEpsilon = 1e-6
)

// TieBreak decides which of several same-tick crossings a sensor keeps.
type TieBreak int

const (
	// KeepLargest keeps the crossing with the larger absolute error.
	KeepLargest TieBreak = iota
	// KeepSmallest keeps the crossing with the smaller absolute error.
	KeepSmallest
)

func (t TieBreak) String() string {
	switch t {
	case KeepSmallest:
		return "smallest"
	default:
		return "largest"
	}
}

// ParseTieBreak converts a config value into a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "largest":
		return KeepLargest, nil
	case "smallest":
		return KeepSmallest, nil
	default:
		return KeepLargest, fmt.Errorf("unknown sensor tie-break %q", s)
	}
}

// Body is the rigid-body state a sensor reads. Implemented by physics vehicles.
type Body interface {
	Transform() mgl64.Mat4
	CenterOfMass() mgl64.Vec3
	LinearVelocity() mgl64.Vec3
	AngularVelocity() mgl64.Vec3
}

// Reading is a copy of the sensor's current estimate.
type Reading struct {
	Tick      uint64  `json:"tick"`
	Valid     bool    `json:"valid"`
	Error     float64 `json:"error"`
	ErrorRate float64 `json:"errorRate"`
}

// Sensor is the per-vehicle sensing state. It is owned by a single agent and
// only touched by the simulation goroutine.
type Sensor struct {
	Width  float64
	Height float64
	Offset float64

	body  Body
	mount mgl64.Mat4

	LastUpdateTick   uint64
	HasReading       bool
	LateralError     float64
	LateralErrorRate float64
}

// New attaches a sensor of the given size to body, offset metres ahead of
// the chassis origin.
func New(body Body, width, height, offset float64) *Sensor {
	return &Sensor{
		Width:  width,
		Height: height,
		Offset: offset,
		body:   body,
		mount:  mgl64.Translate3D(0, 0, offset).Mul4(mgl64.HomogRotate3DY(math.Pi)),
	}
}

// Body returns the body the sensor is attached to.
func (s *Sensor) Body() Body {
	return s.body
}

// World returns the sensor's world transform, derived from the chassis pose.
func (s *Sensor) World() mgl64.Mat4 {
	return s.body.Transform().Mul4(s.mount)
}

// Reading returns the current estimate.
func (s *Sensor) Reading() Reading {
	return Reading{
		Tick:      s.LastUpdateTick,
		Valid:     s.HasReading,
		Error:     s.LateralError,
		ErrorRate: s.LateralErrorRate,
	}
}

// Reset clears the estimate.
func (s *Sensor) Reset() {
	s.LastUpdateTick = 0
	s.HasReading = false
	s.LateralError = 0
	s.LateralErrorRate = 0
}

// accepts reports whether a candidate error observed at tick replaces the
// stored one.
func (s *Sensor) accepts(tick uint64, candidate float64, tb TieBreak) bool {
	if !s.HasReading || s.LastUpdateTick < tick {
		return true
	}
	if s.LastUpdateTick > tick {
		return false
	}
	if tb == KeepSmallest {
		return math.Abs(candidate) < math.Abs(s.LateralError)
	}
	return math.Abs(candidate) > math.Abs(s.LateralError)
}

func transformPoint(m mgl64.Mat4, v mgl64.Vec3) mgl64.Vec3 {
	return m.Mul4x1(v.Vec4(1)).Vec3()
}

func transformDir(m mgl64.Mat4, v mgl64.Vec3) mgl64.Vec3 {
	return m.Mul4x1(v.Vec4(0)).Vec3()
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
