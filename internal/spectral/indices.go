// Package spectral computes normalized spectral indices and their temporal
// deltas over decoded scene rasters.
package spectral

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// epsilon guards the index denominators against division by zero.
const epsilon = 1e-6

// Engine implements core.IndexEngine. All computation is deterministic and
// side-effect free.
type Engine struct{}

// NewEngine creates a new spectral index engine
func NewEngine() *Engine {
	return &Engine{}
}

// ComputeDelta computes the pixelwise NDVI and NDBI deltas between two scenes
// sharing the same pixel grid.
func (e *Engine) ComputeDelta(ctx context.Context, before, after *core.Scene) (*core.IndexDelta, error) {
	_ = ctx
	if before.Width != after.Width || before.Height != after.Height {
		return nil, fmt.Errorf("scene shapes differ: %dx%d vs %dx%d",
			before.Width, before.Height, after.Width, after.Height)
	}

	ndviBefore := NDVI(before.Band(core.BandNIR), before.Band(core.BandRed))
	ndviAfter := NDVI(after.Band(core.BandNIR), after.Band(core.BandRed))
	ndbiBefore := NDBI(before.Band(core.BandNIR), before.Band(core.BandSWIR))
	ndbiAfter := NDBI(after.Band(core.BandNIR), after.Band(core.BandSWIR))

	r, c := ndviBefore.Dims()
	ndviDelta := mat.NewDense(r, c, nil)
	ndviDelta.Sub(ndviAfter, ndviBefore)
	ndbiDelta := mat.NewDense(r, c, nil)
	ndbiDelta.Sub(ndbiAfter, ndbiBefore)

	return &core.IndexDelta{
		NDVI:     ndviDelta,
		NDBI:     ndbiDelta,
		NDVIMean: stat.Mean(ndviDelta.RawMatrix().Data, nil),
		NDBIMean: stat.Mean(ndbiDelta.RawMatrix().Data, nil),
	}, nil
}

// NDVI computes the vegetation index (NIR-RED)/(NIR+RED+eps).
func NDVI(nir, red *mat.Dense) *mat.Dense {
	r, c := nir.Dims()
	num := mat.NewDense(r, c, nil)
	num.Sub(nir, red)

	den := mat.NewDense(r, c, nil)
	den.Add(nir, red)
	shift(den, epsilon)

	out := mat.NewDense(r, c, nil)
	out.DivElem(num, den)
	return out
}

// NDBI computes the built-up index (SWIR'-NIR')/(SWIR'+NIR'+eps) over bands
// rescaled to reflectance fractions.
func NDBI(nir, swir *mat.Dense) *mat.Dense {
	r, c := nir.Dims()
	nirRef := mat.NewDense(r, c, nil)
	nirRef.Scale(1/core.ReflectanceScale, nir)
	swirRef := mat.NewDense(r, c, nil)
	swirRef.Scale(1/core.ReflectanceScale, swir)

	num := mat.NewDense(r, c, nil)
	num.Sub(swirRef, nirRef)

	den := mat.NewDense(r, c, nil)
	den.Add(swirRef, nirRef)
	shift(den, epsilon)

	out := mat.NewDense(r, c, nil)
	out.DivElem(num, den)
	return out
}

// shift adds a scalar to every element in place.
func shift(m *mat.Dense, v float64) {
	data := m.RawMatrix().Data
	for i := range data {
		data[i] += v
	}
}
