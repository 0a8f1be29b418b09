package raster

import (
	"context"
	"image"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"gocv.io/x/gocv"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// Aligner implements core.SceneAligner with ORB feature matching and a
// RANSAC-estimated planar homography. The reference scene is never warped.
type Aligner struct {
	minMatches      int
	maxMatches      int
	reprojThreshold float64
	logger          *zap.Logger
}

// NewAligner creates a feature-based co-registration stage.
func NewAligner(reprojThreshold float64, logger *zap.Logger) *Aligner {
	if reprojThreshold <= 0 {
		reprojThreshold = 5.0
	}
	return &Aligner{
		minMatches:      4,
		maxMatches:      50,
		reprojThreshold: reprojThreshold,
		logger:          logger,
	}
}

// Align warps target onto ref's pixel grid. Alignment is best-effort: when
// feature matching is too weak to estimate a homography, the target is passed
// through unchanged and the returned flag is false.
func (a *Aligner) Align(ctx context.Context, ref, target *core.Scene) (*core.Scene, bool, error) {
	_ = ctx

	grayRef, err := gray8FromDense(ref.Band(core.BandRed))
	if err != nil {
		return target, false, nil
	}
	defer grayRef.Close()
	grayTgt, err := gray8FromDense(target.Band(core.BandRed))
	if err != nil {
		return target, false, nil
	}
	defer grayTgt.Close()

	orb := gocv.NewORB()
	defer orb.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()
	kpRef, descRef := orb.DetectAndCompute(grayRef, noMask)
	defer descRef.Close()
	kpTgt, descTgt := orb.DetectAndCompute(grayTgt, noMask)
	defer descTgt.Close()

	if len(kpRef) < a.minMatches || len(kpTgt) < a.minMatches || descRef.Empty() || descTgt.Empty() {
		a.logger.Warn("Too few features for alignment, passing target through",
			zap.Int("ref_keypoints", len(kpRef)),
			zap.Int("target_keypoints", len(kpTgt)))
		return target, false, nil
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer matcher.Close()
	matches := matcher.Match(descTgt, descRef)
	if len(matches) < a.minMatches {
		a.logger.Warn("Too few cross-checked matches, passing target through",
			zap.Int("matches", len(matches)))
		return target, false, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > a.maxMatches {
		matches = matches[:a.maxMatches]
	}

	srcPts := gocv.NewMatWithSize(len(matches), 1, gocv.MatTypeCV64FC2)
	defer srcPts.Close()
	dstPts := gocv.NewMatWithSize(len(matches), 1, gocv.MatTypeCV64FC2)
	defer dstPts.Close()
	for i, m := range matches {
		srcPts.SetDoubleAt(i, 0, kpTgt[m.QueryIdx].X)
		srcPts.SetDoubleAt(i, 1, kpTgt[m.QueryIdx].Y)
		dstPts.SetDoubleAt(i, 0, kpRef[m.TrainIdx].X)
		dstPts.SetDoubleAt(i, 1, kpRef[m.TrainIdx].Y)
	}

	inliers := gocv.NewMat()
	defer inliers.Close()
	homography := gocv.FindHomography(srcPts, &dstPts, gocv.HomographyMethodRANSAC,
		a.reprojThreshold, &inliers, 2000, 0.995)
	defer homography.Close()
	if homography.Empty() {
		a.logger.Warn("Homography estimation failed, passing target through")
		return target, false, nil
	}

	warped := make([]*mat.Dense, len(target.Bands))
	for i, band := range target.Bands {
		w, err := a.warpBand(band, homography, ref.Width, ref.Height)
		if err != nil {
			a.logger.Warn("Band warp failed, passing target through", zap.Error(err))
			return target, false, nil
		}
		warped[i] = w
	}

	a.logger.Debug("Target co-registered",
		zap.Int("matches", len(matches)))

	return &core.Scene{
		Width:      ref.Width,
		Height:     ref.Height,
		Bands:      warped,
		CapturedAt: target.CapturedAt,
		BBox:       target.BBox,
	}, true, nil
}

func (a *Aligner) warpBand(band *mat.Dense, homography gocv.Mat, width, height int) (*mat.Dense, error) {
	src, err := matFromDense(band)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspective(src, &dst, homography, image.Pt(width, height))
	return denseFromMat(dst)
}
