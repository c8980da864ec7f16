// Package geo maps geographic course points onto the simulation plane.
//
// Points are projected to EPSG:3857 (web mercator) metres and then made
// relative to the first point of the course, so a geographic course lands
// near the world origin with east along +x and north along +z.
package geo

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned for coordinates outside the projection.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// MaxLatitude is the web mercator latitude limit.
const MaxLatitude = 85.05112878

func validate(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lon) > 180 || math.Abs(lat) > MaxLatitude {
		return ErrInvalidCoordinates
	}
	return nil
}

// Project3857 converts a WGS84 longitude/latitude to web mercator metres.
func Project3857(lon, lat float64) (x, y float64, err error) {
	if err := validate(lon, lat); err != nil {
		return 0, 0, err
	}
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(lon, lat, 0)
	return x, y, nil
}

// Point3857 returns the projected point with elevation as Z.
func Point3857(lon, lat, elev float64) (geom.Point, error) {
	x, y, err := Project3857(lon, lat)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), err
	}
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Z:    elev,
		Type: geom.DimXYZ,
	}), nil
}

// LocalFrame places geographic points relative to the first one it is given.
// The zero value is ready to use.
type LocalFrame struct {
	originX, originY, originElev float64
	set                          bool
}

// Point converts lon/lat/elev into world coordinates.
func (f *LocalFrame) Point(lon, lat, elev float64) (mgl64.Vec3, error) {
	x, y, err := Project3857(lon, lat)
	if err != nil {
		return mgl64.Vec3{}, err
	}
	if !f.set {
		f.originX, f.originY, f.originElev = x, y, elev
		f.set = true
	}
	return mgl64.Vec3{x - f.originX, elev - f.originElev, y - f.originY}, nil
}

// Origin returns the projected origin, or false before the first point.
func (f *LocalFrame) Origin() (geom.Point, bool) {
	if !f.set {
		return geom.NewEmptyPoint(geom.DimXYZ), false
	}
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: f.originX, Y: f.originY},
		Z:    f.originElev,
		Type: geom.DimXYZ,
	}), true
}
