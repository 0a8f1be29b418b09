// Package raster implements the image-processing stages of the detection
// pipeline on top of OpenCV: scene decoding, feature-based co-registration
// and region extraction.
package raster

import (
	"bytes"
	"context"
	"image"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"gocv.io/x/gocv"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// Decoder implements core.SceneDecoder. It decodes raw multi-band payloads,
// enforces the standard tile size and splits the raster into per-band planes.
type Decoder struct {
	tileSize int
	logger   *zap.Logger
}

// NewDecoder creates a decoder normalizing scenes to tileSize x tileSize.
func NewDecoder(tileSize int, logger *zap.Logger) *Decoder {
	if tileSize <= 0 {
		tileSize = 512
	}
	return &Decoder{tileSize: tileSize, logger: logger}
}

// Decode validates and decodes a scene payload into band rasters. Truncated
// streams are classified transient; malformed payloads and band-count
// violations are structural and fail immediately.
func (d *Decoder) Decode(ctx context.Context, payload []byte, bbox core.GeoBBox) (*core.Scene, error) {
	_ = ctx
	if len(payload) == 0 {
		return nil, core.NewDecodeError("empty payload", false, core.ErrEmptyPayload)
	}

	img, err := gocv.IMDecode(payload, gocv.IMReadUnchanged)
	if err != nil {
		return nil, d.classifyDecodeFault(payload, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, d.classifyDecodeFault(payload, nil)
	}
	if img.Channels() < core.MinBands {
		return nil, core.NewDecodeError("insufficient band count", false, nil)
	}

	working := gocv.NewMat()
	defer working.Close()
	if img.Cols() != d.tileSize || img.Rows() != d.tileSize {
		gocv.Resize(img, &working, image.Pt(d.tileSize, d.tileSize), 0, 0, gocv.InterpolationArea)
	} else {
		img.CopyTo(&working)
	}

	// Light denoise before any index arithmetic.
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(working, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	asFloat := gocv.NewMat()
	defer asFloat.Close()
	blurred.ConvertTo(&asFloat, gocv.MatTypeCV64F)

	planes := gocv.Split(asFloat)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	bands := make([]*mat.Dense, core.MinBands)
	for i := 0; i < core.MinBands; i++ {
		band, err := denseFromMat(planes[i])
		if err != nil {
			return nil, core.NewDecodeError("band extraction failed", false, err)
		}
		bands[i] = band
	}

	d.logger.Debug("Decoded scene",
		zap.Int("width", d.tileSize),
		zap.Int("height", d.tileSize),
		zap.Int("channels", img.Channels()))

	return &core.Scene{
		Width:      d.tileSize,
		Height:     d.tileSize,
		Bands:      bands,
		CapturedAt: time.Now().UTC(),
		BBox:       bbox,
	}, nil
}

// classifyDecodeFault distinguishes plausibly-truncated streams from payloads
// that were never rasters. A recognizable container signature on an
// undecodable stream suggests a partial transfer and is worth retrying;
// anything else is structurally broken and fails immediately.
func (d *Decoder) classifyDecodeFault(payload []byte, cause error) error {
	if looksLikeRaster(payload) {
		return core.NewDecodeError("truncated stream", true, cause)
	}
	return core.NewDecodeError("unrecognized payload format", false, cause)
}

// looksLikeRaster reports whether the payload starts with a TIFF, PNG or JPEG
// container signature.
func looksLikeRaster(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	switch {
	case bytes.HasPrefix(payload, []byte("II*\x00")),
		bytes.HasPrefix(payload, []byte("MM\x00*")):
		return true
	case bytes.HasPrefix(payload, []byte("\x89PNG")):
		return true
	case bytes.HasPrefix(payload, []byte{0xff, 0xd8, 0xff}):
		return true
	}
	return false
}

// RenderPreview builds an 8-bit RGB composite PNG of a decoded scene for
// display, brightening reflectance the way the ingest path does.
func (d *Decoder) RenderPreview(scene *core.Scene) ([]byte, error) {
	const gain = 3.5

	rgb := gocv.NewMatWithSize(scene.Height, scene.Width, gocv.MatTypeCV8UC3)
	defer rgb.Close()

	red := scene.Band(core.BandRed)
	green := scene.Band(core.BandGreen)
	blue := scene.Band(core.BandBlue)
	for y := 0; y < scene.Height; y++ {
		for x := 0; x < scene.Width; x++ {
			// gocv stores color mats in BGR channel order.
			rgb.SetUCharAt(y, x*3+0, stretch(blue.At(y, x), gain))
			rgb.SetUCharAt(y, x*3+1, stretch(green.At(y, x), gain))
			rgb.SetUCharAt(y, x*3+2, stretch(red.At(y, x), gain))
		}
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, rgb)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

func stretch(v, gain float64) uint8 {
	scaled := v / core.ReflectanceScale * gain * 255
	return uint8(math.Max(0, math.Min(255, scaled)))
}
