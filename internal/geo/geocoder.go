// Package geo maps raster coordinates to geographic coordinates using the
// scene's declared bounding box. The mapping is a linear interpolation inside
// an axis-aligned box, not a geodetic transform.
package geo

import (
	"math"

	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// LinearGeocoder interpolates linearly within the declared bounding box.
type LinearGeocoder struct {
	logger *zap.Logger
}

// NewLinearGeocoder creates a new linear geocoder
func NewLinearGeocoder(logger *zap.Logger) *LinearGeocoder {
	return &LinearGeocoder{logger: logger}
}

// PixelToGeo maps a pixel coordinate to lat/lng. When the bounding box is
// missing or degenerate the tile's geometric center is mapped instead, so a
// caller always gets a stable coordinate for the scene.
func (g *LinearGeocoder) PixelToGeo(bbox core.GeoBBox, width, height int, p core.PixelPoint) core.GeoPoint {
	if !bbox.IsValid() {
		g.logger.Warn("Degenerate bounding box, falling back to tile center",
			zap.Float64("min_lon", bbox.MinLon),
			zap.Float64("max_lon", bbox.MaxLon),
			zap.Float64("min_lat", bbox.MinLat),
			zap.Float64("max_lat", bbox.MaxLat))
		p = core.PixelPoint{X: width / 2, Y: height / 2}
	}
	return core.GeoPoint{
		Lat: bbox.MinLat + float64(p.Y)/float64(height)*(bbox.MaxLat-bbox.MinLat),
		Lng: bbox.MinLon + float64(p.X)/float64(width)*(bbox.MaxLon-bbox.MinLon),
	}
}

// GeoToPixel is the inverse mapping of PixelToGeo for a valid bounding box.
func (g *LinearGeocoder) GeoToPixel(bbox core.GeoBBox, width, height int, pt core.GeoPoint) core.PixelPoint {
	if !bbox.IsValid() {
		return core.PixelPoint{X: width / 2, Y: height / 2}
	}
	return core.PixelPoint{
		X: int(math.Round((pt.Lng - bbox.MinLon) / (bbox.MaxLon - bbox.MinLon) * float64(width))),
		Y: int(math.Round((pt.Lat - bbox.MinLat) / (bbox.MaxLat - bbox.MinLat) * float64(height))),
	}
}

// PixelToGeoF is the continuous form of PixelToGeo for sub-pixel coordinates.
func (g *LinearGeocoder) PixelToGeoF(bbox core.GeoBBox, width, height int, cx, cy float64) core.GeoPoint {
	return core.GeoPoint{
		Lat: bbox.MinLat + cy/float64(height)*(bbox.MaxLat-bbox.MinLat),
		Lng: bbox.MinLon + cx/float64(width)*(bbox.MaxLon-bbox.MinLon),
	}
}

// GeoToPixelF is the exact inverse of PixelToGeoF for a valid bounding box.
func (g *LinearGeocoder) GeoToPixelF(bbox core.GeoBBox, width, height int, pt core.GeoPoint) (cx, cy float64) {
	cx = (pt.Lng - bbox.MinLon) / (bbox.MaxLon - bbox.MinLon) * float64(width)
	cy = (pt.Lat - bbox.MinLat) / (bbox.MaxLat - bbox.MinLat) * float64(height)
	return cx, cy
}

// GroundScale returns approximate meters per pixel on each axis, using
// latitude-corrected degree-to-meter coefficients.
func (g *LinearGeocoder) GroundScale(bbox core.GeoBBox, width, height int) (mx, my float64) {
	if !bbox.IsValid() || width <= 0 || height <= 0 {
		return 0, 0
	}
	latMid := (bbox.MinLat + bbox.MaxLat) / 2 * math.Pi / 180

	// Meters per degree of latitude and longitude at the tile's mid latitude.
	ky := 111132.92 - 559.82*math.Cos(2*latMid)
	kx := 111412.84 * math.Cos(latMid)

	mx = math.Abs(bbox.MaxLon-bbox.MinLon) * kx / float64(width)
	my = math.Abs(bbox.MaxLat-bbox.MinLat) * ky / float64(height)
	return mx, my
}
