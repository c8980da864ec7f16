// Package core holds the storage-neutral records a simulator run produces.
// Storage backends convert them into their own representation.
package core

import "time"

// Position3D is a world position in metres. Y is up.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Run is one simulator session, from start-up to shutdown.
type Run struct {
	ID               uint         `json:"id"`
	Room             string       `json:"room"`
	StartTime        time.Time    `json:"startTime"`
	TickRate         int          `json:"tickRate"`
	Course           []Position3D `json:"course"`
	CourseLength     float64      `json:"courseLength"`
	Script           []byte       `json:"script,omitempty"`
	Tag              string       `json:"tag,omitempty"`
	SimulatorVersion string       `json:"simulatorVersion"`
}

// RunEnd closes a run.
type RunEnd struct {
	EndTime time.Time `json:"endTime"`
	Ticks   uint64    `json:"ticks"`
	Spawned uint64    `json:"spawned"`
	Removed uint64    `json:"removed"`
}

// Performance is a periodic sample of the simulation loop.
type Performance struct {
	Time       time.Time `json:"time"`
	Tick       uint64    `json:"tick"`
	Live       int       `json:"live"`
	Pending    int       `json:"pending"`
	StepMillis float64   `json:"stepMillis"`
	Spawned    uint64    `json:"spawned"`
	Removed    uint64    `json:"removed"`
	Degenerate uint64    `json:"degenerate"`
	SensorHits int       `json:"sensorHits"`
}

// UploadMetadata describes an exported run for the results server.
type UploadMetadata struct {
	Room     string
	RunName  string
	Duration float64 // seconds of simulated time
	Vehicles int
	Tag      string
}
