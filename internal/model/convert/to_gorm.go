package convert

import (
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/linetrace/simulator/internal/model"
	"github.com/linetrace/simulator/pkg/core"
)

// positionToPoint converts a Y-up world position to an XYZ point with the
// ground plane as XY and height as Z
func positionToPoint(p core.Position3D) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.X, Y: p.Z},
		Z:    p.Y,
		Type: geom.DimXYZ,
	})
}

// courseToLineString converts course points to a 3D line string.
// Courses with fewer than two points have no line and yield an empty geometry.
func courseToLineString(points []core.Position3D) geom.LineString {
	if len(points) < 2 {
		return geom.LineString{}
	}
	coords := make([]float64, 0, len(points)*3)
	for _, p := range points {
		coords = append(coords, p.X, p.Z, p.Y)
	}
	return geom.NewLineString(geom.NewSequence(coords, geom.DimXYZ))
}

// CoreToRun converts a core.Run to a GORM Run
func CoreToRun(r core.Run) model.Run {
	script := datatypes.JSON("{}")
	if json.Valid(r.Script) {
		script = datatypes.JSON(r.Script)
	}
	return model.Run{
		Room:             r.Room,
		StartTime:        r.StartTime,
		TickRate:         r.TickRate,
		Course:           courseToLineString(r.Course),
		CourseLength:     r.CourseLength,
		Script:           script,
		Tag:              r.Tag,
		SimulatorVersion: r.SimulatorVersion,
	}
}

// CoreToVehicle converts a core.Vehicle to a GORM Vehicle.
// Core Vehicle.ID maps to GORM Vehicle.ObjectID.
func CoreToVehicle(v core.Vehicle) model.Vehicle {
	return model.Vehicle{
		ObjectID:    v.ID,
		SpawnTime:   v.SpawnTime,
		SpawnTick:   v.SpawnTick,
		Nickname:    v.Nickname,
		Label:       v.Label,
		Source:      v.Source,
		Position:    positionToPoint(v.Position),
		Heading:     v.Heading,
		TargetSpeed: v.TargetSpeed,
		Kp:          v.Kp,
		Kd:          v.Kd,
	}
}

// CoreToVehicleState converts a core.VehicleState to a GORM VehicleState
func CoreToVehicleState(s core.VehicleState) model.VehicleState {
	return model.VehicleState{
		Time:             s.Time,
		Tick:             s.Tick,
		VehicleObjectID:  s.VehicleID,
		Position:         positionToPoint(s.Position),
		Heading:          s.Heading,
		SpeedKmh:         s.SpeedKmh,
		Steering:         s.Steering,
		EngineForce:      s.EngineForce,
		HasReading:       s.HasReading,
		LateralError:     s.LateralError,
		LateralErrorRate: s.LateralErrorRate,
		Lifetime:         s.Lifetime,
	}
}

// CoreToRemoval converts a core.Removal to a GORM Removal
func CoreToRemoval(r core.Removal) model.Removal {
	return model.Removal{
		Time:            r.Time,
		Tick:            r.Tick,
		VehicleObjectID: r.VehicleID,
		Reason:          r.Reason,
		Position:        positionToPoint(r.Position),
		Age:             r.Age,
	}
}

// CoreToPerformance converts a core.Performance to a GORM Performance
func CoreToPerformance(p core.Performance) model.Performance {
	return model.Performance{
		Time:       p.Time,
		Tick:       p.Tick,
		Live:       p.Live,
		Pending:    p.Pending,
		StepMillis: p.StepMillis,
		Spawned:    p.Spawned,
		Removed:    p.Removed,
		Degenerate: p.Degenerate,
		SensorHits: p.SensorHits,
	}
}
