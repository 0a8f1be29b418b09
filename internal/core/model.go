package core

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// Spectral band layout of a decoded scene. Matches the Sentinel-2 evalscript
// order B02, B03, B04, B08, B11.
const (
	BandBlue = iota
	BandGreen
	BandRed
	BandNIR
	BandSWIR

	// MinBands is the minimum channel count a scene payload must decode to.
	MinBands = 5
)

// ReflectanceScale converts raw digital numbers to reflectance fractions.
const ReflectanceScale = 10000.0

// GeoBBox is an axis-aligned geographic bounding box.
type GeoBBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// IsValid reports whether the box spans a positive extent on both axes.
func (b GeoBBox) IsValid() bool {
	return b.MaxLon > b.MinLon && b.MaxLat > b.MinLat
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Scene is one decoded multi-band capture resampled to the standard tile size.
type Scene struct {
	Width      int
	Height     int
	Bands      []*mat.Dense // indexed by the Band* constants
	CapturedAt time.Time
	BBox       GeoBBox
}

// Band returns the raster for the given band index.
func (s *Scene) Band(i int) *mat.Dense {
	return s.Bands[i]
}

// IndexDelta holds the pixelwise before/after differences of the two
// spectral indices, one value per pixel.
type IndexDelta struct {
	NDVI *mat.Dense
	NDBI *mat.Dense

	NDVIMean float64
	NDBIMean float64
}

// AnomalyMask is the scorer output reshaped to the raster grid. Flags and
// Scores are row-major, length Width*Height. Scores are in (0,1) with higher
// values marking stronger anomalies.
type AnomalyMask struct {
	Width  int
	Height int
	Flags  []bool
	Scores []float64
}

// AnomalyCount returns the number of flagged pixels.
func (m *AnomalyMask) AnomalyCount() int {
	n := 0
	for _, f := range m.Flags {
		if f {
			n++
		}
	}
	return n
}

// PixelPoint is a raster coordinate.
type PixelPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PixelRect is a raster bounding box, max-exclusive on both axes.
type PixelRect struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// IsDegenerate reports whether the rectangle has no positive extent.
func (r PixelRect) IsDegenerate() bool {
	return r.XMin >= r.XMax || r.YMin >= r.YMax
}

// AnomalyRegion is a connected anomalous area that survived the minimum-area
// filter. Geographic fields are filled by the geocoder after extraction.
type AnomalyRegion struct {
	Box      PixelRect    `json:"bbox"`
	Polygon  []PixelPoint `json:"polygon"`
	AreaPx   float64      `json:"area_px"`
	AreaM2   float64      `json:"area_m2"`
	Severity float64      `json:"severity"`

	Centroid GeoPoint   `json:"centroid"`
	GeoRing  []GeoPoint `json:"geo_ring,omitempty"`
}

// DetectionResult is the immutable outcome of one detection call.
type DetectionResult struct {
	Detected      bool            `json:"detected"`
	Regions       []AnomalyRegion `json:"regions"`
	Box           *PixelRect      `json:"bbox,omitempty"`
	Confidence    float64         `json:"confidence"`
	MaskArtifact  string          `json:"mask_artifact_ref,omitempty"`
	NDVIDeltaMean float64         `json:"ndvi_delta_mean"`
	NDBIDeltaMean float64         `json:"ndbi_delta_mean"`
	Aligned       bool            `json:"aligned"`
	AnalyzedAt    time.Time       `json:"analyzed_at"`
	ProcessingID  string          `json:"processing_id"`
}

// ScenePair is one (before, after) payload pair for batch detection.
type ScenePair struct {
	Before []byte
	After  []byte
}

// BatchItem is the positional outcome of one pair in a batch call.
type BatchItem struct {
	Result *DetectionResult
	Err    error
}

// CacheEntry is a stored detection result keyed by the pair fingerprint.
type CacheEntry struct {
	Fingerprint string
	Result      *DetectionResult
	StoredAt    time.Time
	ExpiresAt   time.Time
}
