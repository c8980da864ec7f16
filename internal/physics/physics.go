// Package physics provides the rigid-body collaborator the simulation steps
// once per tick. Engine is the seam; Model is the built-in implementation, a
// kinematic bicycle vehicle on a finite flat ground.
package physics

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrUnknownVehicle is returned when removing a vehicle the engine does not own.
var ErrUnknownVehicle = errors.New("unknown vehicle")

// Vehicle is a simulated car. Wheels are indexed FL, FR, RL, RR.
type Vehicle interface {
	ID() int
	Transform() mgl64.Mat4
	Position() mgl64.Vec3
	CenterOfMass() mgl64.Vec3
	LinearVelocity() mgl64.Vec3
	AngularVelocity() mgl64.Vec3
	CurrentSpeedKmHour() float64
	NumWheels() int

	ApplyEngineForce(force float64, wheel int)
	SetBrake(brake float64, wheel int)
	SetSteeringValue(steering float64, wheel int)
}

// Engine owns every vehicle and advances them together.
type Engine interface {
	AddVehicle(pos mgl64.Vec3, orientation mgl64.Quat) (Vehicle, error)
	RemoveVehicle(v Vehicle) error
	Step(dt float64)
	Count() int
}
