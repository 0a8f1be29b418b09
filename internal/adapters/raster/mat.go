package raster

import (
	"errors"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// denseFromMat copies a single-channel CV_64F Mat into a gonum Dense.
func denseFromMat(m gocv.Mat) (*mat.Dense, error) {
	if m.Empty() {
		return nil, errors.New("empty mat")
	}
	data, err := m.DataPtrFloat64()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	copy(out, data)
	return mat.NewDense(m.Rows(), m.Cols(), out), nil
}

// matFromDense copies a gonum Dense into a single-channel CV_64F Mat. The
// caller owns the returned Mat.
func matFromDense(d *mat.Dense) (gocv.Mat, error) {
	r, c := d.Dims()
	m := gocv.NewMatWithSize(r, c, gocv.MatTypeCV64F)
	data, err := m.DataPtrFloat64()
	if err != nil {
		m.Close()
		return gocv.Mat{}, err
	}
	copy(data, d.RawMatrix().Data)
	return m, nil
}

// gray8FromDense min-max normalizes a raster into an 8-bit grayscale Mat,
// the working representation for feature detection.
func gray8FromDense(d *mat.Dense) (gocv.Mat, error) {
	src, err := matFromDense(d)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer src.Close()

	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(src, &norm, 0, 255, gocv.NormMinMax)

	gray := gocv.NewMat()
	norm.ConvertTo(&gray, gocv.MatTypeCV8U)
	return gray, nil
}
