package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Retryer runs an operation under a bounded retry policy.
type Retryer interface {
	Do(ctx context.Context, op func() error) error
}

// DetectionService is the core service for land-cover change detection. It
// orchestrates the full pipeline for one scene pair: decode, co-register,
// spectral index deltas, anomaly scoring, region extraction and geocoding,
// with fingerprint-keyed memoization in front.
type DetectionService struct {
	decoder   SceneDecoder
	aligner   SceneAligner
	indexer   IndexEngine
	scorer    AnomalyScorer
	extractor RegionExtractor
	geocoder  Geocoder
	artifacts ArtifactStore
	cache     CacheRepository
	retrier   Retryer
	logger    *zap.Logger

	cacheEnabled bool
	cacheTTL     time.Duration
	batchLimit   int
	defaultBBox  GeoBBox

	group singleflight.Group
}

// NewDetectionService creates a new detection service
func NewDetectionService(
	decoder SceneDecoder,
	aligner SceneAligner,
	indexer IndexEngine,
	scorer AnomalyScorer,
	extractor RegionExtractor,
	geocoder Geocoder,
	artifacts ArtifactStore,
	cache CacheRepository,
	retrier Retryer,
	logger *zap.Logger,
	cacheEnabled bool,
	cacheTTL time.Duration,
	batchLimit int,
	defaultBBox GeoBBox,
) *DetectionService {
	if batchLimit <= 0 {
		batchLimit = 4
	}
	return &DetectionService{
		decoder:      decoder,
		aligner:      aligner,
		indexer:      indexer,
		scorer:       scorer,
		extractor:    extractor,
		geocoder:     geocoder,
		artifacts:    artifacts,
		cache:        cache,
		retrier:      retrier,
		logger:       logger,
		cacheEnabled: cacheEnabled,
		cacheTTL:     cacheTTL,
		batchLimit:   batchLimit,
		defaultBBox:  defaultBBox,
	}
}

// Detect runs change detection for one (before, after) scene pair within the
// given geographic bounding box. Results are memoized by the pair fingerprint;
// concurrent misses on the same fingerprint share a single computation.
func (s *DetectionService) Detect(ctx context.Context, before, after []byte, bbox GeoBBox) (*DetectionResult, error) {
	if len(before) == 0 || len(after) == 0 {
		return nil, ErrEmptyPayload
	}
	if !bbox.IsValid() && s.defaultBBox.IsValid() {
		s.logger.Warn("Invalid bounding box, using configured default",
			zap.Float64("min_lon", bbox.MinLon),
			zap.Float64("max_lon", bbox.MaxLon))
		bbox = s.defaultBBox
	}

	fp := PairFingerprint(before, after)

	if s.cacheEnabled {
		if entry, err := s.cache.Get(ctx, fp); err == nil {
			s.logger.Debug("Cache hit for detection", zap.String("fingerprint", fp))
			return entry.Result, nil
		}
	}

	v, err, _ := s.group.Do(fp, func() (interface{}, error) {
		return s.runPipeline(ctx, before, after, bbox)
	})
	if err != nil {
		return nil, err
	}
	result := v.(*DetectionResult)

	if s.cacheEnabled {
		now := time.Now()
		entry := &CacheEntry{
			Fingerprint: fp,
			Result:      result,
			StoredAt:    now,
			ExpiresAt:   now.Add(s.cacheTTL),
		}
		if err := s.cache.Set(ctx, entry); err != nil {
			s.logger.Error("Failed to update cache", zap.Error(err))
		}
	}

	return result, nil
}

// DetectBatch runs Detect for each pair concurrently. Results are positional
// and per-pair failures are isolated: a failed pair is recorded in its slot
// and never aborts its siblings.
func (s *DetectionService) DetectBatch(ctx context.Context, pairs []ScenePair, bbox GeoBBox) []BatchItem {
	items := make([]BatchItem, len(pairs))

	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			result, err := s.Detect(ctx, pair.Before, pair.After, bbox)
			if err != nil {
				s.logger.Error("Batch pair failed",
					zap.Int("slot", i),
					zap.Error(err))
			}
			items[i] = BatchItem{Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// runPipeline executes the full detection pipeline for one pair.
func (s *DetectionService) runPipeline(ctx context.Context, before, after []byte, bbox GeoBBox) (*DetectionResult, error) {
	start := time.Now()

	beforeScene, err := s.decodeWithRetry(ctx, before, bbox)
	if err != nil {
		return nil, fmt.Errorf("before scene: %w", err)
	}
	afterScene, err := s.decodeWithRetry(ctx, after, bbox)
	if err != nil {
		return nil, fmt.Errorf("after scene: %w", err)
	}

	// Co-registration is best-effort: a degraded alignment proceeds with the
	// unaligned target raster.
	alignedAfter, aligned, err := s.aligner.Align(ctx, beforeScene, afterScene)
	if err != nil {
		s.logger.Warn("Alignment degraded, proceeding unaligned", zap.Error(err))
		alignedAfter, aligned = afterScene, false
	}

	delta, err := s.indexer.ComputeDelta(ctx, beforeScene, alignedAfter)
	if err != nil {
		return nil, fmt.Errorf("spectral indices: %w", err)
	}

	mask, err := s.scorer.Score(ctx, delta)
	if err != nil {
		return nil, fmt.Errorf("anomaly scoring: %w", err)
	}

	result := &DetectionResult{
		Regions:       []AnomalyRegion{},
		NDVIDeltaMean: delta.NDVIMean,
		NDBIDeltaMean: delta.NDBIMean,
		Aligned:       aligned,
		AnalyzedAt:    start,
		ProcessingID:  uuid.NewString(),
	}

	if mask.AnomalyCount() == 0 {
		s.logger.Info("No changes detected", zap.Duration("elapsed", time.Since(start)))
		return result, nil
	}

	regions, overall, err := s.extractor.Extract(ctx, mask)
	if err != nil {
		return nil, fmt.Errorf("region extraction: %w", err)
	}
	if len(regions) == 0 || overall.IsDegenerate() {
		s.logger.Info("No regions survived the area filter",
			zap.Int("anomalous_pixels", mask.AnomalyCount()))
		return result, nil
	}

	s.georeference(beforeScene, regions)

	result.Detected = true
	result.Regions = regions
	result.Box = &overall
	result.Confidence = clamp01(meanFlaggedScore(mask))

	if ref, err := s.artifacts.SaveMask(ctx, mask); err != nil {
		// Artifact writes are a side channel and never fail the detection.
		s.logger.Error("Failed to persist anomaly mask", zap.Error(err))
	} else {
		result.MaskArtifact = ref
	}

	s.logger.Info("Change detected",
		zap.Int("regions", len(regions)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// decodeWithRetry decodes one payload under the bounded retry policy.
// Structural decode faults are classified non-retryable by the policy.
func (s *DetectionService) decodeWithRetry(ctx context.Context, payload []byte, bbox GeoBBox) (*Scene, error) {
	var scene *Scene
	err := s.retrier.Do(ctx, func() error {
		var err error
		scene, err = s.decoder.Decode(ctx, payload, bbox)
		return err
	})
	if err != nil {
		return nil, err
	}
	return scene, nil
}

// georeference fills geographic coordinates and physical footprint areas
// for each extracted region.
func (s *DetectionService) georeference(scene *Scene, regions []AnomalyRegion) {
	mx, my := s.geocoder.GroundScale(scene.BBox, scene.Width, scene.Height)
	for i := range regions {
		r := &regions[i]
		center := PixelPoint{
			X: (r.Box.XMin + r.Box.XMax) / 2,
			Y: (r.Box.YMin + r.Box.YMax) / 2,
		}
		r.Centroid = s.geocoder.PixelToGeo(scene.BBox, scene.Width, scene.Height, center)
		r.AreaM2 = r.AreaPx * mx * my

		ring := make([]GeoPoint, 0, len(r.Polygon))
		for _, p := range r.Polygon {
			ring = append(ring, s.geocoder.PixelToGeo(scene.BBox, scene.Width, scene.Height, p))
		}
		r.GeoRing = ring
	}
}

// meanFlaggedScore averages the anomaly scores of flagged pixels.
func meanFlaggedScore(mask *AnomalyMask) float64 {
	sum, n := 0.0, 0
	for i, f := range mask.Flags {
		if f {
			sum += mask.Scores[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
