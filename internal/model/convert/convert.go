// Package convert maps between the storage-neutral core records and the GORM
// models.
package convert

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/linetrace/simulator/internal/model"
	"github.com/linetrace/simulator/pkg/core"
)

// pointToPosition converts a stored XYZ point back to a Y-up world position
func pointToPosition(p geom.Point) core.Position3D {
	coord, ok := p.Coordinates()
	if !ok {
		return core.Position3D{}
	}
	return core.Position3D{X: coord.XY.X, Y: coord.Z, Z: coord.XY.Y}
}

// lineStringToCourse converts a stored line string back to course points
func lineStringToCourse(ls geom.LineString) []core.Position3D {
	seq := ls.Coordinates()
	if seq.Length() == 0 {
		return nil
	}
	out := make([]core.Position3D, seq.Length())
	for i := range seq.Length() {
		c := seq.Get(i)
		out[i] = core.Position3D{X: c.XY.X, Y: c.Z, Z: c.XY.Y}
	}
	return out
}

// RunToCore converts a GORM Run to a core.Run
func RunToCore(r *model.Run) core.Run {
	return core.Run{
		ID:               r.ID,
		Room:             r.Room,
		StartTime:        r.StartTime,
		TickRate:         r.TickRate,
		Course:           lineStringToCourse(r.Course),
		CourseLength:     r.CourseLength,
		Script:           []byte(r.Script),
		Tag:              r.Tag,
		SimulatorVersion: r.SimulatorVersion,
	}
}

// RunEndToCore extracts the closing record of a finished run.
// ok is false while the run is still open.
func RunEndToCore(r *model.Run) (end core.RunEnd, ok bool) {
	if r.EndTime == nil {
		return core.RunEnd{}, false
	}
	return core.RunEnd{
		EndTime: *r.EndTime,
		Ticks:   r.Ticks,
		Spawned: r.Spawned,
		Removed: r.Removed,
	}, true
}

// VehicleToCore converts a GORM Vehicle to a core.Vehicle.
// GORM Vehicle.ObjectID maps to core Vehicle.ID.
func VehicleToCore(v model.Vehicle) core.Vehicle {
	return core.Vehicle{
		ID:          v.ObjectID,
		Nickname:    v.Nickname,
		Label:       v.Label,
		Source:      v.Source,
		SpawnTick:   v.SpawnTick,
		SpawnTime:   v.SpawnTime,
		Position:    pointToPosition(v.Position),
		Heading:     v.Heading,
		TargetSpeed: v.TargetSpeed,
		Kp:          v.Kp,
		Kd:          v.Kd,
	}
}

// VehicleStateToCore converts a GORM VehicleState to a core.VehicleState
func VehicleStateToCore(s model.VehicleState) core.VehicleState {
	return core.VehicleState{
		VehicleID:        s.VehicleObjectID,
		Tick:             s.Tick,
		Time:             s.Time,
		Position:         pointToPosition(s.Position),
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

// RemovalToCore converts a GORM Removal to a core.Removal
func RemovalToCore(r model.Removal) core.Removal {
	return core.Removal{
		VehicleID: r.VehicleObjectID,
		Tick:      r.Tick,
		Time:      r.Time,
		Reason:    r.Reason,
		Position:  pointToPosition(r.Position),
		Age:       r.Age,
	}
}

// PerformanceToCore converts a GORM Performance to a core.Performance
func PerformanceToCore(p model.Performance) core.Performance {
	return core.Performance{
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
