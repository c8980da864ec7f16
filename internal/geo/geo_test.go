package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject3857_Origin(t *testing.T) {
	x, y, err := Project3857(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
}

func TestProject3857_OneDegreeEast(t *testing.T) {
	x, _, err := Project3857(1, 0)
	require.NoError(t, err)
	// earth radius * 1 degree in radians
	assert.InDelta(t, 6378137*math.Pi/180, x, 1e-3)
}

func TestProject3857_Invalid(t *testing.T) {
	for _, c := range [][2]float64{{181, 0}, {0, 89}, {math.NaN(), 0}, {0, -86}} {
		_, _, err := Project3857(c[0], c[1])
		assert.ErrorIs(t, err, ErrInvalidCoordinates, "%v", c)
	}
}

func TestPoint3857(t *testing.T) {
	p, err := Point3857(0, 0, 12)
	require.NoError(t, err)
	c, ok := p.Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 0, c.X, 1e-6)
	assert.Equal(t, 12.0, c.Z)

	p, err = Point3857(200, 0, 0)
	assert.Error(t, err)
	assert.True(t, p.IsEmpty())
}

func TestLocalFrame(t *testing.T) {
	var f LocalFrame
	_, ok := f.Origin()
	assert.False(t, ok)

	first, err := f.Point(13.4, 52.5, 30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.Len())

	east, err := f.Point(13.401, 52.5, 30)
	require.NoError(t, err)
	assert.Greater(t, east.X(), 0.0)
	assert.InDelta(t, 0, east.Z(), 1e-6)

	north, err := f.Point(13.4, 52.501, 35)
	require.NoError(t, err)
	assert.Greater(t, north.Z(), 0.0)
	assert.InDelta(t, 5, north.Y(), 1e-9)

	origin, ok := f.Origin()
	require.True(t, ok)
	c, _ := origin.Coordinates()
	assert.Equal(t, 30.0, c.Z)

	_, err = f.Point(0, 90, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinates)
}
