package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mikey/satellite-change-detector/internal/adapters/cache"
	"github.com/mikey/satellite-change-detector/internal/core"
	"github.com/mikey/satellite-change-detector/internal/geo"
	"github.com/mikey/satellite-change-detector/internal/retry"
)

const tile = 8

func testScene(bbox core.GeoBBox) *core.Scene {
	bands := make([]*mat.Dense, core.MinBands)
	for i := range bands {
		bands[i] = mat.NewDense(tile, tile, nil)
	}
	return &core.Scene{Width: tile, Height: tile, Bands: bands, BBox: bbox}
}

type stubDecoder struct {
	mu        sync.Mutex
	calls     int
	failTimes int
	failWith  error
	bbox      core.GeoBBox
}

func (d *stubDecoder) Decode(ctx context.Context, payload []byte, bbox core.GeoBBox) (*core.Scene, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failTimes != 0 {
		if d.failTimes > 0 {
			d.failTimes--
		}
		return nil, d.failWith
	}
	return testScene(bbox), nil
}

type stubAligner struct{}

func (stubAligner) Align(ctx context.Context, ref, target *core.Scene) (*core.Scene, bool, error) {
	return target, true, nil
}

type stubIndexer struct{}

func (stubIndexer) ComputeDelta(ctx context.Context, before, after *core.Scene) (*core.IndexDelta, error) {
	return &core.IndexDelta{
		NDVI:     mat.NewDense(tile, tile, nil),
		NDBI:     mat.NewDense(tile, tile, nil),
		NDVIMean: -0.2,
		NDBIMean: 0.3,
	}, nil
}

type stubScorer struct {
	mu      sync.Mutex
	calls   int
	flagged int
	score   float64
}

func (s *stubScorer) Score(ctx context.Context, delta *core.IndexDelta) (*core.AnomalyMask, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	mask := &core.AnomalyMask{
		Width:  tile,
		Height: tile,
		Flags:  make([]bool, tile*tile),
		Scores: make([]float64, tile*tile),
	}
	for i := 0; i < s.flagged; i++ {
		mask.Flags[i] = true
		mask.Scores[i] = s.score
	}
	return mask, nil
}

func (s *stubScorer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubExtractor struct{ regions []core.AnomalyRegion }

func (e stubExtractor) Extract(ctx context.Context, mask *core.AnomalyMask) ([]core.AnomalyRegion, core.PixelRect, error) {
	if len(e.regions) == 0 {
		return nil, core.PixelRect{XMin: tile, YMin: tile}, nil
	}
	return e.regions, e.regions[0].Box, nil
}

type stubArtifacts struct{}

func (stubArtifacts) SaveMask(ctx context.Context, mask *core.AnomalyMask) (string, error) {
	return "masks/test.png", nil
}

func validBBox() core.GeoBBox {
	return core.GeoBBox{MinLon: 75.88, MinLat: 22.75, MaxLon: 75.91, MaxLat: 22.77}
}

func newService(t *testing.T, decoder core.SceneDecoder, scorer core.AnomalyScorer, extractor core.RegionExtractor) *core.DetectionService {
	t.Helper()
	logger := zap.NewNop()
	memCache := cache.NewMemoryCache(logger, 100, 0)
	policy := retry.NewPolicy(3, time.Millisecond, 5*time.Millisecond, core.IsTransientDecode, logger)
	return core.NewDetectionService(
		decoder, stubAligner{}, stubIndexer{}, scorer, extractor,
		geo.NewLinearGeocoder(logger), stubArtifacts{}, memCache, policy, logger,
		true, time.Hour, 2, core.GeoBBox{},
	)
}

func TestDetectNoAnomalies(t *testing.T) {
	scorer := &stubScorer{}
	svc := newService(t, &stubDecoder{}, scorer, stubExtractor{})

	result, err := svc.Detect(context.Background(), []byte("before"), []byte("after"), validBBox())
	require.NoError(t, err)
	require.False(t, result.Detected)
	require.Empty(t, result.Regions)
	require.Nil(t, result.Box)
	require.InEpsilon(t, -0.2, result.NDVIDeltaMean, 1e-12)
}

func TestDetectEmptyPayload(t *testing.T) {
	svc := newService(t, &stubDecoder{}, &stubScorer{}, stubExtractor{})

	_, err := svc.Detect(context.Background(), nil, []byte("after"), validBBox())
	require.ErrorIs(t, err, core.ErrEmptyPayload)
}

func TestDetectWithRegions(t *testing.T) {
	region := core.AnomalyRegion{
		Box:     core.PixelRect{XMin: 1, YMin: 1, XMax: 5, YMax: 5},
		Polygon: []core.PixelPoint{{X: 1, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 5}, {X: 1, Y: 5}},
		AreaPx:  16,
	}
	scorer := &stubScorer{flagged: 10, score: 0.8}
	svc := newService(t, &stubDecoder{}, scorer, stubExtractor{regions: []core.AnomalyRegion{region}})

	result, err := svc.Detect(context.Background(), []byte("before"), []byte("after"), validBBox())
	require.NoError(t, err)
	require.True(t, result.Detected)
	require.Len(t, result.Regions, 1)
	require.NotNil(t, result.Box)
	require.Equal(t, "masks/test.png", result.MaskArtifact)
	require.GreaterOrEqual(t, result.Confidence, 0.0)
	require.LessOrEqual(t, result.Confidence, 1.0)
	require.NotEmpty(t, result.ProcessingID)

	// Geocoded fields are derived from the declared bbox.
	got := result.Regions[0]
	require.Greater(t, got.Centroid.Lat, validBBox().MinLat)
	require.Less(t, got.Centroid.Lat, validBBox().MaxLat)
	require.Len(t, got.GeoRing, len(region.Polygon))
	require.Greater(t, got.AreaM2, 0.0)
}

func TestDetectConfidenceClamped(t *testing.T) {
	region := core.AnomalyRegion{Box: core.PixelRect{XMin: 0, YMin: 0, XMax: 4, YMax: 4}, AreaPx: 16}
	scorer := &stubScorer{flagged: 5, score: 7.5}
	svc := newService(t, &stubDecoder{}, scorer, stubExtractor{regions: []core.AnomalyRegion{region}})

	result, err := svc.Detect(context.Background(), []byte("b"), []byte("a"), validBBox())
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Confidence)
}

func TestDetectCacheIdempotence(t *testing.T) {
	scorer := &stubScorer{}
	svc := newService(t, &stubDecoder{}, scorer, stubExtractor{})

	first, err := svc.Detect(context.Background(), []byte("same"), []byte("pair"), validBBox())
	require.NoError(t, err)
	second, err := svc.Detect(context.Background(), []byte("same"), []byte("pair"), validBBox())
	require.NoError(t, err)

	require.Equal(t, 1, scorer.callCount())
	require.Equal(t, first.ProcessingID, second.ProcessingID)
}

func TestDetectRetriesTransientDecode(t *testing.T) {
	decoder := &stubDecoder{
		failTimes: 2,
		failWith:  core.NewDecodeError("undecodable stream", true, nil),
	}
	svc := newService(t, decoder, &stubScorer{}, stubExtractor{})

	_, err := svc.Detect(context.Background(), []byte("b"), []byte("a"), validBBox())
	require.NoError(t, err)
	// Two transient failures on the before scene plus the successes.
	require.Equal(t, 4, decoder.calls)
}

func TestDetectStructuralDecodeFailsFast(t *testing.T) {
	decoder := &stubDecoder{
		failTimes: -1,
		failWith:  core.NewDecodeError("insufficient band count", false, nil),
	}
	svc := newService(t, decoder, &stubScorer{}, stubExtractor{})

	_, err := svc.Detect(context.Background(), []byte("b"), []byte("a"), validBBox())
	require.Error(t, err)
	var de *core.DecodeError
	require.ErrorAs(t, err, &de)
	require.False(t, de.Transient)
	require.Equal(t, 1, decoder.calls)
}

func TestDetectBatchIsolatesFailures(t *testing.T) {
	decoder := &stubDecoder{}
	svc := newService(t, decoder, &stubScorer{}, stubExtractor{})

	pairs := []core.ScenePair{
		{Before: []byte("ok-b"), After: []byte("ok-a")},
		{Before: nil, After: []byte("broken")},
		{Before: []byte("ok-b2"), After: []byte("ok-a2")},
	}
	items := svc.DetectBatch(context.Background(), pairs, validBBox())
	require.Len(t, items, 3)
	require.NoError(t, items[0].Err)
	require.NotNil(t, items[0].Result)
	require.ErrorIs(t, items[1].Err, core.ErrEmptyPayload)
	require.NoError(t, items[2].Err)
}

func TestDetectUsesDefaultBBoxWhenInvalid(t *testing.T) {
	logger := zap.NewNop()
	memCache := cache.NewMemoryCache(logger, 100, 0)
	policy := retry.NewPolicy(1, time.Millisecond, time.Millisecond, core.IsTransientDecode, logger)
	region := core.AnomalyRegion{Box: core.PixelRect{XMin: 0, YMin: 0, XMax: 4, YMax: 4}, AreaPx: 16}
	svc := core.NewDetectionService(
		&stubDecoder{}, stubAligner{}, stubIndexer{}, &stubScorer{flagged: 3, score: 0.5},
		stubExtractor{regions: []core.AnomalyRegion{region}},
		geo.NewLinearGeocoder(logger), stubArtifacts{}, memCache, policy, logger,
		false, time.Hour, 2, validBBox(),
	)

	result, err := svc.Detect(context.Background(), []byte("b"), []byte("a"), core.GeoBBox{})
	require.NoError(t, err)
	require.True(t, result.Detected)
	// Centroid falls inside the configured default box.
	require.Greater(t, result.Regions[0].Centroid.Lng, validBBox().MinLon)
	require.Less(t, result.Regions[0].Centroid.Lng, validBBox().MaxLon)
}

func TestDetectDeterministicForIdenticalInputs(t *testing.T) {
	// Two services with identical stubs and separate caches must agree.
	run := func() *core.DetectionResult {
		region := core.AnomalyRegion{Box: core.PixelRect{XMin: 2, YMin: 2, XMax: 6, YMax: 6}, AreaPx: 16}
		svc := newService(t, &stubDecoder{}, &stubScorer{flagged: 4, score: 0.6},
			stubExtractor{regions: []core.AnomalyRegion{region}})
		result, err := svc.Detect(context.Background(), []byte("det-b"), []byte("det-a"), validBBox())
		require.NoError(t, err)
		return result
	}
	first := run()
	second := run()
	require.Equal(t, first.Detected, second.Detected)
	require.Equal(t, first.Regions[0].Box, second.Regions[0].Box)
	require.Equal(t, first.Confidence, second.Confidence)
}

func TestDecodeErrorClassification(t *testing.T) {
	transient := core.NewDecodeError("truncated", true, errors.New("eof"))
	structural := core.NewDecodeError("bad bands", false, nil)
	require.True(t, core.IsTransientDecode(transient))
	require.False(t, core.IsTransientDecode(structural))
	require.False(t, core.IsTransientDecode(errors.New("other")))
}
