// Package agent holds the per-vehicle state of a simulated line follower:
// its physics handle, sensor, gains and remaining lifetime.
package agent

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/linetrace/simulator/internal/control"
	"github.com/linetrace/simulator/internal/physics"
	"github.com/linetrace/simulator/internal/sensor"
)

// DefaultLifetime is five minutes at 60 ticks per second.
const DefaultLifetime = 60 * 300

// State is the lifecycle state of an agent.
type State int

const (
	Active State = iota
	Removed
)

func (s State) String() string {
	if s == Removed {
		return "removed"
	}
	return "active"
}

// RemovalReason says why an agent left the world.
type RemovalReason string

const (
	ReasonExpired  RemovalReason = "expired"
	ReasonFell     RemovalReason = "fell"
	ReasonShutdown RemovalReason = "shutdown"
	ReasonFailed   RemovalReason = "failed"
)

// Spec describes a vehicle to spawn.
type Spec struct {
	Nickname     string
	Position     mgl64.Vec3
	Heading      float64 // degrees about +y
	TargetSpeed  float64 // km/h
	Kp           float64
	Td           float64
	// SensorOffset overrides the configured sensor mount distance when set.
	SensorOffset *float64
}

// Orientation returns the spawn rotation for the heading.
func (s Spec) Orientation() mgl64.Quat {
	return mgl64.QuatRotate(mgl64.DegToRad(s.Heading), mgl64.Vec3{0, 1, 0})
}

// DisplayName strips the trailing "+tag" from a nickname.
// "alice+42" becomes "alice"; names without '+' are unchanged.
func DisplayName(nickname string) string {
	if i := strings.LastIndex(nickname, "+"); i >= 0 {
		return nickname[:i]
	}
	return nickname
}

// Agent is one live vehicle. It is only touched by the simulation goroutine.
type Agent struct {
	ID          int
	Nickname    string
	Label       string
	Source      string
	Vehicle     physics.Vehicle
	Sensor      *sensor.Sensor
	Gains       control.Gains
	TargetSpeed float64
	Lifetime    int
	SpawnTick   uint64

	// Last is the most recent actuation applied to the vehicle.
	Last control.Actuation

	state     State
	reason    RemovalReason
	disposers []func() error
}

// New wires an agent to an already created vehicle and sensor.
func New(id int, spec Spec, v physics.Vehicle, s *sensor.Sensor, lifetime int, tick uint64) *Agent {
	return &Agent{
		ID:          id,
		Nickname:    spec.Nickname,
		Label:       DisplayName(spec.Nickname),
		Vehicle:     v,
		Sensor:      s,
		Gains:       control.GainsFromTd(spec.Kp, spec.Td),
		TargetSpeed: spec.TargetSpeed,
		Lifetime:    lifetime,
		SpawnTick:   tick,
	}
}

// OnRelease registers a resource to dispose when the agent is released.
// Disposers run once, newest first.
func (a *Agent) OnRelease(fn func() error) {
	a.disposers = append(a.disposers, fn)
}

// State returns the lifecycle state.
func (a *Agent) State() State { return a.state }

// Active reports whether the agent is still in the world.
func (a *Agent) Active() bool { return a.state == Active }

// Reason returns why the agent was removed, or "" while active.
func (a *Agent) Reason() RemovalReason { return a.reason }

// Update reads the sensor and vehicle, runs the controller, applies the
// result and spends one tick of lifetime.
func (a *Agent) Update(ctl control.Config) control.Actuation {
	if a.state != Active {
		return control.Actuation{}
	}

	in := control.Input{
		TargetSpeed:  a.TargetSpeed,
		CurrentSpeed: a.Vehicle.CurrentSpeedKmHour(),
	}
	if a.Sensor != nil && a.Sensor.HasReading {
		in.HasReading = true
		in.Error = a.Sensor.LateralError
		in.ErrorRate = a.Sensor.LateralErrorRate
	}

	out := ctl.Update(a.Gains, in)
	out.Apply(a.Vehicle)
	a.Last = out
	a.Lifetime--
	return out
}

// ShouldRemove reports whether the agent has expired or fallen below floor.
func (a *Agent) ShouldRemove(floor float64) (RemovalReason, bool) {
	if a.state != Active {
		return "", false
	}
	if a.Lifetime < 0 {
		return ReasonExpired, true
	}
	if a.Vehicle.Position().Y() < floor {
		return ReasonFell, true
	}
	return "", false
}

// Release disposes the vehicle, wheels and label. Calling it again is a no-op.
func (a *Agent) Release(reason RemovalReason) error {
	if a.state == Removed {
		return nil
	}
	a.state = Removed
	a.reason = reason

	var errs []error
	for i := len(a.disposers) - 1; i >= 0; i-- {
		if err := a.disposers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.disposers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("release agent %d: %w", a.ID, err)
	}
	return nil
}

// Snapshot is a read-only copy of an agent for observers.
type Snapshot struct {
	ID          int            `json:"id"`
	Nickname    string         `json:"nickname"`
	Label       string         `json:"label"`
	Source      string         `json:"source,omitempty"`
	State       string         `json:"state"`
	Reason      RemovalReason  `json:"reason,omitempty"`
	Position    [3]float64     `json:"position"`
	Heading     float64        `json:"heading"`
	SpeedKmh    float64        `json:"speedKmh"`
	TargetSpeed float64        `json:"targetSpeed"`
	Kp          float64        `json:"kp"`
	Kd          float64        `json:"kd"`
	Lifetime    int            `json:"lifetime"`
	SpawnTick   uint64         `json:"spawnTick"`
	Reading     sensor.Reading `json:"reading"`
	Steering    float64        `json:"steering"`
	EngineForce float64        `json:"engineForce"`
}

// Snapshot copies the agent's current state.
func (a *Agent) Snapshot() Snapshot {
	s := Snapshot{
		ID:          a.ID,
		Nickname:    a.Nickname,
		Label:       a.Label,
		Source:      a.Source,
		State:       a.state.String(),
		Reason:      a.reason,
		TargetSpeed: a.TargetSpeed,
		Kp:          a.Gains.Kp,
		Kd:          a.Gains.Kd,
		Lifetime:    a.Lifetime,
		SpawnTick:   a.SpawnTick,
		Steering:    a.Last.SteeringValue(),
		EngineForce: a.Last.Force(),
	}
	if a.Vehicle != nil {
		p := a.Vehicle.Position()
		s.Position = [3]float64{p.X(), p.Y(), p.Z()}
		f := a.Vehicle.Transform().Mul4x1(mgl64.Vec4{0, 0, 1, 0})
		s.Heading = mgl64.RadToDeg(math.Atan2(f.X(), f.Z()))
		s.SpeedKmh = a.Vehicle.CurrentSpeedKmHour()
	}
	if a.Sensor != nil {
		s.Reading = a.Sensor.Reading()
	}
	return s
}
