package raster

import (
	"context"
	"image"

	"go.uber.org/zap"

	"gocv.io/x/gocv"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// Extractor implements core.RegionExtractor: morphological cleanup of the
// anomaly mask, external contour extraction, minimum-area filtering and
// perimeter-proportional polygon simplification.
type Extractor struct {
	minArea           float64
	kernelSize        int
	simplifyTolerance float64
	logger            *zap.Logger
}

// NewExtractor creates a region extractor. minArea is the primary
// false-positive suppressor and is measured in enclosed pixels.
func NewExtractor(minArea float64, kernelSize int, simplifyTolerance float64, logger *zap.Logger) *Extractor {
	if kernelSize <= 0 {
		kernelSize = 5
	}
	if simplifyTolerance <= 0 {
		simplifyTolerance = 0.01
	}
	return &Extractor{
		minArea:           minArea,
		kernelSize:        kernelSize,
		simplifyTolerance: simplifyTolerance,
		logger:            logger,
	}
}

// Extract returns the regions surviving the area filter together with the
// accumulated overall bounding box. An empty region list is a normal outcome.
func (e *Extractor) Extract(ctx context.Context, mask *core.AnomalyMask) ([]core.AnomalyRegion, core.PixelRect, error) {
	_ = ctx

	data := make([]byte, len(mask.Flags))
	for i, f := range mask.Flags {
		if f {
			data[i] = 255
		}
	}
	binary, err := gocv.NewMatFromBytes(mask.Height, mask.Width, gocv.MatTypeCV8U, data)
	if err != nil {
		return nil, core.PixelRect{}, err
	}
	defer binary.Close()

	// Closing merges near-adjacent anomalous pixels and suppresses salt noise.
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(e.kernelSize, e.kernelSize))
	defer kernel.Close()
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(binary, &closed, gocv.MorphClose, kernel)

	contours := gocv.FindContours(closed, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	overall := core.PixelRect{XMin: mask.Width, YMin: mask.Height, XMax: 0, YMax: 0}
	regions := make([]core.AnomalyRegion, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < e.minArea {
			continue
		}

		rect := gocv.BoundingRect(c)
		if rect.Min.X < overall.XMin {
			overall.XMin = rect.Min.X
		}
		if rect.Min.Y < overall.YMin {
			overall.YMin = rect.Min.Y
		}
		if rect.Max.X > overall.XMax {
			overall.XMax = rect.Max.X
		}
		if rect.Max.Y > overall.YMax {
			overall.YMax = rect.Max.Y
		}

		perimeter := gocv.ArcLength(c, true)
		approx := gocv.ApproxPolyDP(c, e.simplifyTolerance*perimeter, true)
		polygon := make([]core.PixelPoint, 0, approx.Size())
		for _, p := range approx.ToPoints() {
			polygon = append(polygon, core.PixelPoint{X: p.X, Y: p.Y})
		}
		approx.Close()

		box := core.PixelRect{
			XMin: rect.Min.X,
			YMin: rect.Min.Y,
			XMax: rect.Max.X,
			YMax: rect.Max.Y,
		}
		regions = append(regions, core.AnomalyRegion{
			Box:      box,
			Polygon:  polygon,
			AreaPx:   area,
			Severity: e.regionSeverity(mask, box),
		})
	}

	e.logger.Debug("Extracted regions",
		zap.Int("contours", contours.Size()),
		zap.Int("survived", len(regions)))

	return regions, overall, nil
}

// regionSeverity averages the anomaly scores inside the region's bounding box.
func (e *Extractor) regionSeverity(mask *core.AnomalyMask, box core.PixelRect) float64 {
	sum, n := 0.0, 0
	for y := box.YMin; y < box.YMax && y < mask.Height; y++ {
		for x := box.XMin; x < box.XMax && x < mask.Width; x++ {
			sum += mask.Scores[y*mask.Width+x]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	severity := sum / float64(n)
	if severity < 0 {
		return 0
	}
	if severity > 1 {
		return 1
	}
	return severity
}
