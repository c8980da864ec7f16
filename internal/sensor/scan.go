package sensor

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/linetrace/simulator/internal/course"
)

// Scanner intersects course segments with sensor planes once per tick.
type Scanner struct {
	TieBreak TieBreak
	// Epsilon is the smallest |tangent·normal| for which an error rate is
	// derived. Crossings flatter than this keep the previous rate.
	Epsilon float64
}

// ScanStats summarises one scan pass.
type ScanStats struct {
	Hits       int
	Accepted   int
	Degenerate int
}

// Hit is a single segment/sensor crossing.
type Hit struct {
	Segment int
	// Local is the crossing in the sensor frame. Local.X() is the lateral error.
	Local mgl64.Vec3
	// World is the crossing in world coordinates.
	World mgl64.Vec3
}

// frame caches per-sensor transforms and body state for one pass.
type frame struct {
	s     *Sensor
	world mgl64.Mat4
	inv   mgl64.Mat4
	com   mgl64.Vec3
	lin   mgl64.Vec3
	ang   mgl64.Vec3
}

// Scan runs every course segment against every sensor for the given tick and
// updates each sensor according to the overwrite policy. Running it again for
// the same tick and the same body state leaves every sensor unchanged.
func (sc Scanner) Scan(tick uint64, c *course.Course, sensors []*Sensor) ScanStats {
	var stats ScanStats
	if c.Len() < 2 || len(sensors) == 0 {
		return stats
	}

	frames := make([]frame, 0, len(sensors))
	for _, s := range sensors {
		if s == nil || s.body == nil {
			continue
		}
		w := s.World()
		frames = append(frames, frame{
			s:     s,
			world: w,
			inv:   w.Inv(),
			com:   s.body.CenterOfMass(),
			lin:   s.body.LinearVelocity(),
			ang:   s.body.AngularVelocity(),
		})
	}

	for i, seg := range c.Segments() {
		for fi := range frames {
			f := &frames[fi]
			hit, ok := Intersect(seg, f.inv, f.s.Width, f.s.Height)
			if !ok {
				continue
			}
			hit.Segment = i
			stats.Hits++

			candidate := hit.Local.X()
			if !finite(candidate) || !f.s.accepts(tick, candidate, sc.TieBreak) {
				continue
			}
			stats.Accepted++

			f.s.LateralError = candidate
			f.s.LastUpdateTick = tick
			f.s.HasReading = true

			rate, ok := sc.errorRate(f, seg, hit.World)
			if !ok {
				stats.Degenerate++
				continue
			}
			f.s.LateralErrorRate = rate
		}
	}

	return stats
}

// errorRate derives the lateral drift of the crossing point. The velocity of
// the chassis at the crossing is expressed in the sensor frame and compared
// with the path tangent scaled to the same travel through the sensor plane.
func (sc Scanner) errorRate(f *frame, seg course.Segment, hit mgl64.Vec3) (float64, bool) {
	tangent := seg.Tangent()
	if tangent.Len() == 0 {
		return 0, false
	}

	lever := hit.Sub(f.com)
	pointVel := f.lin.Add(f.ang.Cross(lever))

	vs := transformDir(f.inv, pointVel)
	ls := transformDir(f.inv, tangent)

	eps := sc.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	if math.Abs(ls.Z()) < eps {
		return 0, false
	}

	rate := ls.X()*vs.Z()/ls.Z() - vs.X()
	if !finite(rate) {
		return 0, false
	}
	return rate, true
}

// Intersect tests the segment against a double-sided width×height rectangle
// centred on the origin of the frame described by inv (world to sensor).
// Segments lying in the sensor plane never hit.
func Intersect(seg course.Segment, inv mgl64.Mat4, width, height float64) (Hit, bool) {
	a := transformPoint(inv, seg.A)
	b := transformPoint(inv, seg.B)

	az, bz := a.Z(), b.Z()
	if az == bz {
		return Hit{}, false
	}
	if (az > 0 && bz > 0) || (az < 0 && bz < 0) {
		return Hit{}, false
	}

	t := az / (az - bz)
	local := a.Add(b.Sub(a).Mul(t))
	local[2] = 0

	if math.Abs(local.X()) > width/2 || math.Abs(local.Y()) > height/2 {
		return Hit{}, false
	}

	world := seg.A.Add(seg.B.Sub(seg.A).Mul(t))
	return Hit{Local: local, World: world}, true
}
