package physics

import (
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
)

const wheels = 4

// maxSteer keeps tan() finite.
const maxSteer = math.Pi/2 - 0.01

// Config describes the built-in vehicle model and its ground.
type Config struct {
	Wheelbase     float64
	Mass          float64
	RideHeight    float64
	GroundSize    float64
	Gravity       float64
	LinearDamping float64
}

// DefaultConfig returns the stock model parameters.
func DefaultConfig() Config {
	return Config{
		Wheelbase:  2.1,
		Mass:       100,
		RideHeight: 0.4,
		GroundSize: 1000,
		Gravity:    9.8,
	}
}

func (c Config) validate() error {
	if c.Wheelbase <= 0 {
		return fmt.Errorf("wheelbase must be positive, got %v", c.Wheelbase)
	}
	if c.Mass <= 0 {
		return fmt.Errorf("mass must be positive, got %v", c.Mass)
	}
	if c.GroundSize <= 0 {
		return fmt.Errorf("ground size must be positive, got %v", c.GroundSize)
	}
	return nil
}

// Model is a pure-Go Engine. Each vehicle is a bicycle: engine force along
// the heading, yaw rate from the mean front steering angle, and free fall
// once it leaves the ground square.
type Model struct {
	cfg    Config
	nextID int
	bodies []*body
}

// NewModel creates an empty model.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid physics config: %w", err)
	}
	return &Model{cfg: cfg}, nil
}

// AddVehicle places a vehicle at pos. Only the yaw of orientation is used.
func (m *Model) AddVehicle(pos mgl64.Vec3, orientation mgl64.Quat) (Vehicle, error) {
	if !finiteVec(pos) {
		return nil, fmt.Errorf("invalid spawn position %v", pos)
	}
	m.nextID++
	b := &body{
		id:   m.nextID,
		cfg:  &m.cfg,
		pos:  pos,
		yaw:  yawOf(orientation),
	}
	m.bodies = append(m.bodies, b)
	return b, nil
}

// RemoveVehicle drops the vehicle from the model.
func (m *Model) RemoveVehicle(v Vehicle) error {
	b, ok := v.(*body)
	if !ok {
		return ErrUnknownVehicle
	}
	i := slices.Index(m.bodies, b)
	if i < 0 {
		return ErrUnknownVehicle
	}
	m.bodies = slices.Delete(m.bodies, i, i+1)
	return nil
}

// Count returns the number of vehicles in the model.
func (m *Model) Count() int {
	return len(m.bodies)
}

// Step advances every vehicle by dt seconds.
func (m *Model) Step(dt float64) {
	if dt <= 0 {
		return
	}
	for _, b := range m.bodies {
		b.step(dt)
	}
}

type body struct {
	id  int
	cfg *Config

	pos     mgl64.Vec3
	yaw     float64
	speed   float64 // signed, along heading, m/s
	vy      float64
	yawRate float64

	force [wheels]float64
	brake [wheels]float64
	steer [wheels]float64
}

func (b *body) ID() int { return b.id }

func (b *body) heading() mgl64.Vec3 {
	return mgl64.Vec3{math.Sin(b.yaw), 0, math.Cos(b.yaw)}
}

func (b *body) Transform() mgl64.Mat4 {
	return mgl64.Translate3D(b.pos.X(), b.pos.Y(), b.pos.Z()).Mul4(mgl64.HomogRotate3DY(b.yaw))
}

func (b *body) Position() mgl64.Vec3     { return b.pos }
func (b *body) CenterOfMass() mgl64.Vec3 { return b.pos }

func (b *body) LinearVelocity() mgl64.Vec3 {
	return b.heading().Mul(b.speed).Add(mgl64.Vec3{0, b.vy, 0})
}

func (b *body) AngularVelocity() mgl64.Vec3 {
	return mgl64.Vec3{0, b.yawRate, 0}
}

func (b *body) CurrentSpeedKmHour() float64 { return b.speed * 3.6 }
func (b *body) NumWheels() int              { return wheels }

func (b *body) ApplyEngineForce(force float64, wheel int) {
	if wheel >= 0 && wheel < wheels {
		b.force[wheel] = force
	}
}

func (b *body) SetBrake(brake float64, wheel int) {
	if wheel >= 0 && wheel < wheels {
		b.brake[wheel] = brake
	}
}

func (b *body) SetSteeringValue(steering float64, wheel int) {
	if wheel >= 0 && wheel < wheels {
		b.steer[wheel] = steering
	}
}

// landingDepth bounds how far below ride height a falling body may still
// land on the ground.
const landingDepth = 0.5

func (b *body) overGround() bool {
	half := b.cfg.GroundSize / 2
	return math.Abs(b.pos.X()) <= half && math.Abs(b.pos.Z()) <= half
}

func (b *body) supported() bool {
	return b.overGround() && math.Abs(b.pos.Y()-b.cfg.RideHeight) < 1e-9
}

func (b *body) step(dt float64) {
	cfg := b.cfg

	if b.supported() {
		b.vy = 0
		b.drive(dt)
	} else {
		b.yawRate = 0
		b.vy -= cfg.Gravity * dt
	}

	b.pos = b.pos.Add(b.heading().Mul(b.speed * dt))
	b.pos[1] += b.vy * dt

	if b.vy < 0 && b.overGround() && b.pos.Y() <= cfg.RideHeight && b.pos.Y() > cfg.RideHeight-landingDepth {
		b.pos[1] = cfg.RideHeight
		b.vy = 0
	}
}

func (b *body) drive(dt float64) {
	cfg := b.cfg

	var force, brake float64
	for w := range wheels {
		force += b.force[w]
		brake += b.brake[w]
	}

	accel := force/cfg.Mass - cfg.LinearDamping*b.speed
	next := b.speed + accel*dt

	if brake > 0 && next != 0 {
		dv := brake / cfg.Mass * dt
		if math.Abs(next) <= dv {
			next = 0
		} else {
			next -= math.Copysign(dv, next)
		}
	}
	if math.IsNaN(next) || math.IsInf(next, 0) {
		next = 0
	}
	b.speed = next

	delta := (b.steer[0] + b.steer[1]) / 2
	delta = max(-maxSteer, min(maxSteer, delta))
	b.yawRate = b.speed * math.Tan(delta) / cfg.Wheelbase
	b.yaw += b.yawRate * dt
}

func yawOf(q mgl64.Quat) float64 {
	if q.Len() == 0 {
		return 0
	}
	f := q.Normalize().Rotate(mgl64.Vec3{0, 0, 1})
	return math.Atan2(f.X(), f.Z())
}

func finiteVec(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
