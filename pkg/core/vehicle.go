package core

import "time"

// Vehicle is a spawned line follower.
// ID is the simulator's agent ID and is unique within a run.
type Vehicle struct {
	ID          uint       `json:"id"`
	Nickname    string     `json:"nickname"`
	Label       string     `json:"label"`
	Source      string     `json:"source,omitempty"`
	SpawnTick   uint64     `json:"spawnTick"`
	SpawnTime   time.Time  `json:"spawnTime"`
	Position    Position3D `json:"position"`
	Heading     float64    `json:"heading"`
	TargetSpeed float64    `json:"targetSpeed"`
	Kp          float64    `json:"kp"`
	Kd          float64    `json:"kd"`
}

// VehicleState is a sampled vehicle pose and controller state.
type VehicleState struct {
	VehicleID        uint       `json:"vehicleId"`
	Tick             uint64     `json:"tick"`
	Time             time.Time  `json:"time"`
	Position         Position3D `json:"position"`
	Heading          float64    `json:"heading"`
	SpeedKmh         float64    `json:"speedKmh"`
	Steering         float64    `json:"steering"`
	EngineForce      float64    `json:"engineForce"`
	HasReading       bool       `json:"hasReading"`
	LateralError     float64    `json:"lateralError"`
	LateralErrorRate float64    `json:"lateralErrorRate"`
	Lifetime         int        `json:"lifetime"`
}

// Removal records why and where a vehicle left the world.
type Removal struct {
	VehicleID uint       `json:"vehicleId"`
	Tick      uint64     `json:"tick"`
	Time      time.Time  `json:"time"`
	Reason    string     `json:"reason"`
	Position  Position3D `json:"position"`
	Age       uint64     `json:"age"`
}
