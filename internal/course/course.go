// Package course holds the polyline that vehicles follow.
package course

import (
	"iter"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Segment is one leg of the course, from A to B.
type Segment struct {
	A mgl64.Vec3
	B mgl64.Vec3
}

// Tangent returns the unit direction of the segment.
// A zero-length segment returns the zero vector.
func (s Segment) Tangent() mgl64.Vec3 {
	d := s.B.Sub(s.A)
	if d.Len() == 0 {
		return mgl64.Vec3{}
	}
	return d.Normalize()
}

// Course is an ordered sequence of waypoints. Segments are implicit
// between consecutive points. It is built during world setup and read-only
// once the simulation loop starts.
type Course struct {
	points []mgl64.Vec3
}

// New creates a course from the given waypoints.
func New(points ...mgl64.Vec3) *Course {
	c := &Course{}
	for _, p := range points {
		c.Append(p)
	}
	return c
}

// Append adds a waypoint to the end of the course.
func (c *Course) Append(p mgl64.Vec3) {
	c.points = append(c.points, p)
}

// Len returns the number of waypoints.
func (c *Course) Len() int {
	if c == nil {
		return 0
	}
	return len(c.points)
}

// Points returns a copy of the waypoints.
func (c *Course) Points() []mgl64.Vec3 {
	if c == nil {
		return nil
	}
	return slices.Clone(c.points)
}

// Segments yields consecutive point pairs. The sequence is finite and may be
// ranged over again every tick.
func (c *Course) Segments() iter.Seq2[int, Segment] {
	return func(yield func(int, Segment) bool) {
		if c == nil {
			return
		}
		for i := 0; i+1 < len(c.points); i++ {
			if !yield(i, Segment{A: c.points[i], B: c.points[i+1]}) {
				return
			}
		}
	}
}

// Length returns the total length of all segments.
func (c *Course) Length() float64 {
	var total float64
	for _, seg := range c.Segments() {
		total += seg.B.Sub(seg.A).Len()
	}
	return total
}

// LineString converts the course to an XYZ line string for storage.
// Courses with fewer than two points yield an empty line string.
func (c *Course) LineString() geom.LineString {
	if c.Len() < 2 {
		return geom.LineString{}
	}
	flat := make([]float64, 0, len(c.points)*3)
	for _, p := range c.points {
		flat = append(flat, p.X(), p.Y(), p.Z())
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXYZ))
}
