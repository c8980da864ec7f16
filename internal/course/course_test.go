package course

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(c *Course) []Segment {
	var segs []Segment
	for _, s := range c.Segments() {
		segs = append(segs, s)
	}
	return segs
}

func TestSegments_ConsecutivePairs(t *testing.T) {
	c := New(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 0, 10})
	c.Append(mgl64.Vec3{5, 0, 20})

	segs := collect(c)
	require.Len(t, segs, 2)
	assert.Equal(t, mgl64.Vec3{0, 0, 0}, segs[0].A)
	assert.Equal(t, mgl64.Vec3{0, 0, 10}, segs[0].B)
	assert.Equal(t, mgl64.Vec3{0, 0, 10}, segs[1].A)
	assert.Equal(t, mgl64.Vec3{5, 0, 20}, segs[1].B)
}

func TestSegments_Restartable(t *testing.T) {
	c := New(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 0, 0})

	first := collect(c)
	second := collect(c)
	assert.Equal(t, first, second)
}

func TestSegments_EarlyBreak(t *testing.T) {
	c := New(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{2, 0, 0}, mgl64.Vec3{3, 0, 0})

	n := 0
	for range c.Segments() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestSegments_TooFewPoints(t *testing.T) {
	assert.Empty(t, collect(New()))
	assert.Empty(t, collect(New(mgl64.Vec3{1, 2, 3})))

	var nilCourse *Course
	assert.Empty(t, collect(nilCourse))
	assert.Equal(t, 0, nilCourse.Len())
}

func TestSegment_Tangent(t *testing.T) {
	s := Segment{A: mgl64.Vec3{0, 0, 0}, B: mgl64.Vec3{0, 0, 4}}
	assert.True(t, s.Tangent().ApproxEqual(mgl64.Vec3{0, 0, 1}))

	zero := Segment{A: mgl64.Vec3{1, 1, 1}, B: mgl64.Vec3{1, 1, 1}}
	assert.Equal(t, mgl64.Vec3{}, zero.Tangent())
}

func TestLength(t *testing.T) {
	c := New(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{3, 0, 4}, mgl64.Vec3{3, 0, 14})
	assert.InDelta(t, 15.0, c.Length(), 1e-9)
}

func TestPoints_ReturnsCopy(t *testing.T) {
	c := New(mgl64.Vec3{1, 0, 0})
	pts := c.Points()
	pts[0] = mgl64.Vec3{9, 9, 9}
	assert.Equal(t, mgl64.Vec3{1, 0, 0}, c.Points()[0])
}

func TestLineString(t *testing.T) {
	c := New(mgl64.Vec3{0, 0, -500}, mgl64.Vec3{0, 0, 30}, mgl64.Vec3{-5, 0, 60})

	ls := c.LineString()
	require.False(t, ls.IsEmpty())
	assert.Equal(t, geom.DimXYZ, ls.CoordinatesType())
	assert.Equal(t, 3, ls.Coordinates().Length())

	assert.True(t, New(mgl64.Vec3{1, 1, 1}).LineString().IsEmpty())
}
