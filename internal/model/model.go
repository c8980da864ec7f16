package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&SimInfo{},
	&Run{},
	&Vehicle{},
	&VehicleState{},
	&Removal{},
	&Performance{},
}

// DatabaseModelsSQLite is the SQLite schema. Identical today; kept separate
// so PostGIS-only tables can be added without touching the SQLite dump.
var DatabaseModelsSQLite = []interface{}{
	&SimInfo{},
	&Run{},
	&Vehicle{},
	&VehicleState{},
	&Removal{},
	&Performance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// SimInfo identifies the simulator instance writing to the database
type SimInfo struct {
	gorm.Model
	InstanceName string `json:"instanceName" gorm:"size:127"`
	Description  string `json:"description" gorm:"size:255"`
	Website      string `json:"website" gorm:"size:255"`
}

func (*SimInfo) TableName() string {
	return "sim_infos"
}

// Performance is a periodic sample of the simulation loop
type Performance struct {
	Time       time.Time `json:"time" gorm:"type:timestamptz;index:idx_performance_time"`
	RunID      uint      `json:"runId" gorm:"index:idx_performance_run_id"`
	Run        Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick       uint64    `json:"tick"`
	Live       int       `json:"live"`
	Pending    int       `json:"pending"`
	StepMillis float64   `json:"stepMillis"`
	Spawned    uint64    `json:"spawned"`
	Removed    uint64    `json:"removed"`
	Degenerate uint64    `json:"degenerate"`
	SensorHits int       `json:"sensorHits"`
}

func (*Performance) TableName() string {
	return "performances"
}

////////////////////////
// RECORDING MODELS
////////////////////////

// Run is one simulator session
//
// Geometry uses the ground plane as XY and height as Z: world (x, y, z)
// is stored as (x, z, y).
type Run struct {
	gorm.Model
	Room             string          `json:"room" gorm:"size:127;index:idx_run_room"`
	StartTime        time.Time       `json:"startTime" gorm:"type:timestamptz;index:idx_run_start"`
	EndTime          *time.Time      `json:"endTime" gorm:"type:timestamptz"`
	TickRate         int             `json:"tickRate" gorm:"default:60"`
	Course           geom.LineString `json:"course"`
	CourseLength     float64         `json:"courseLength"`
	Script           datatypes.JSON  `json:"script" gorm:"type:jsonb;default:'{}'"`
	Tag              string          `json:"tag" gorm:"size:127"`
	SimulatorVersion string          `json:"simulatorVersion" gorm:"size:64"`
	Ticks            uint64          `json:"ticks"`
	Spawned          uint64          `json:"spawned"`
	Removed          uint64          `json:"removed"`

	Vehicles     []Vehicle
	Performances []Performance
}

func (*Run) TableName() string {
	return "runs"
}

// Vehicle is a spawned line follower
// Uses composite primary key (RunID, ObjectID) - ObjectID is the simulator's agent ID
type Vehicle struct {
	RunID       uint           `json:"runId" gorm:"primaryKey;autoIncrement:false"`
	ObjectID    uint           `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Run         Run            `gorm:"foreignkey:RunID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `json:"deletedAt" gorm:"index"`
	SpawnTime   time.Time      `json:"spawnTime" gorm:"type:timestamptz;NOT NULL;index:idx_vehicle_spawn_time"`
	SpawnTick   uint64         `json:"spawnTick"`
	Nickname    string         `json:"nickname" gorm:"size:64;index:idx_vehicle_nickname"`
	Label       string         `json:"label" gorm:"size:64"`
	Source      string         `json:"source" gorm:"size:32"` // script or remote
	Position    geom.Point     `json:"position"`              // spawn position
	Heading     float64        `json:"heading"`               // radians about +y
	TargetSpeed float64        `json:"targetSpeed"`
	Kp          float64        `json:"kp"`
	Kd          float64        `json:"kd"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

// VehicleState tracks vehicle state at a point in time
// References Vehicle by (RunID, VehicleObjectID) composite FK
type VehicleState struct {
	ID              uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID           uint      `json:"runId" gorm:"index:idx_vehiclestate_run_id"`
	Run             Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick            uint64    `json:"tick" gorm:"index:idx_vehiclestate_tick"`
	VehicleObjectID uint      `json:"vehicleId" gorm:"index:idx_vehiclestate_vehicle_id"`
	Vehicle         Vehicle   `gorm:"foreignkey:RunID,VehicleObjectID;references:RunID,ObjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	Position         geom.Point `json:"position"`
	Heading          float64    `json:"heading"`
	SpeedKmh         float64    `json:"speedKmh"`
	Steering         float64    `json:"steering"`
	EngineForce      float64    `json:"engineForce"`
	HasReading       bool       `json:"hasReading" gorm:"default:false"`
	LateralError     float64    `json:"lateralError"`
	LateralErrorRate float64    `json:"lateralErrorRate"`
	Lifetime         int        `json:"lifetime"`
}

func (*VehicleState) TableName() string {
	return "vehicle_states"
}

// Removal records a vehicle leaving the world
type Removal struct {
	ID              uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time `json:"time" gorm:"type:timestamptz;"`
	RunID           uint      `json:"runId" gorm:"index:idx_removal_run_id"`
	Run             Run       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:RunID;"`
	Tick            uint64    `json:"tick"`
	VehicleObjectID uint      `json:"vehicleId"`
	Vehicle         Vehicle   `gorm:"foreignkey:RunID,VehicleObjectID;references:RunID,ObjectID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`

	Reason   string     `json:"reason" gorm:"size:16"` // expired, fell or shutdown
	Position geom.Point `json:"position"`
	Age      uint64     `json:"age"` // ticks alive
}

func (*Removal) TableName() string {
	return "removals"
}
