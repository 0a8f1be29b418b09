package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/adapters/raster"
	"github.com/mikey/satellite-change-detector/internal/anomaly"
	"github.com/mikey/satellite-change-detector/internal/config"
	"github.com/mikey/satellite-change-detector/internal/core"
	"github.com/mikey/satellite-change-detector/internal/geo"
	"github.com/mikey/satellite-change-detector/internal/retry"
	"github.com/mikey/satellite-change-detector/internal/spectral"
)

// PipelineFactory creates the detection pipeline stages from configuration
type PipelineFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewPipelineFactory creates a new pipeline factory
func NewPipelineFactory(cfg *config.Config, logger *zap.Logger) *PipelineFactory {
	return &PipelineFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDecoder creates the scene decoder
func (f *PipelineFactory) CreateDecoder() core.SceneDecoder {
	return raster.NewDecoder(f.cfg.GetInt("detection.tile_size"), f.logger)
}

// CreateAligner creates the co-registration stage
func (f *PipelineFactory) CreateAligner() core.SceneAligner {
	return raster.NewAligner(f.cfg.GetFloat64("detection.reproj_threshold"), f.logger)
}

// CreateIndexEngine creates the spectral index engine
func (f *PipelineFactory) CreateIndexEngine() core.IndexEngine {
	return spectral.NewEngine()
}

// CreateScorer creates the anomaly scorer
func (f *PipelineFactory) CreateScorer() core.AnomalyScorer {
	return anomaly.NewIsolationForest(
		f.cfg.GetInt("scorer.trees"),
		f.cfg.GetInt("scorer.sample_size"),
		f.cfg.GetFloat64("scorer.contamination"),
		f.cfg.GetInt64("scorer.seed"),
	)
}

// CreateExtractor creates the region extractor
func (f *PipelineFactory) CreateExtractor() core.RegionExtractor {
	return raster.NewExtractor(
		f.cfg.GetFloat64("detection.min_region_area"),
		f.cfg.GetInt("detection.morph_kernel_size"),
		f.cfg.GetFloat64("detection.simplify_tolerance"),
		f.logger,
	)
}

// CreateGeocoder creates the geocoder
func (f *PipelineFactory) CreateGeocoder() core.Geocoder {
	return geo.NewLinearGeocoder(f.logger)
}

// CreateRetryer creates the decode retry policy
func (f *PipelineFactory) CreateRetryer() (core.Retryer, error) {
	initial, err := f.cfg.GetDuration("retry.initial_backoff")
	if err != nil {
		return nil, fmt.Errorf("invalid retry initial backoff: %w", err)
	}
	max, err := f.cfg.GetDuration("retry.max_backoff")
	if err != nil {
		return nil, fmt.Errorf("invalid retry max backoff: %w", err)
	}
	return retry.NewPolicy(
		f.cfg.GetInt("retry.max_attempts"),
		initial,
		max,
		core.IsTransientDecode,
		f.logger,
	), nil
}

// GetBatchLimit returns the configured batch concurrency limit
func (f *PipelineFactory) GetBatchLimit() int {
	return f.cfg.GetInt("detection.batch_limit")
}

// GetDefaultBBox returns the configured fallback bounding box
func (f *PipelineFactory) GetDefaultBBox() core.GeoBBox {
	vals := f.cfg.GetFloat64Slice("geo.default_bbox")
	if len(vals) != 4 {
		return core.GeoBBox{}
	}
	return core.GeoBBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
}
