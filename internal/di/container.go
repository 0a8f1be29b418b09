package di

import (
	"time"

	"go.uber.org/dig"

	"github.com/mikey/satellite-change-detector/internal/config"
	"github.com/mikey/satellite-change-detector/internal/core"
	"github.com/mikey/satellite-change-detector/internal/factory"
	"github.com/mikey/satellite-change-detector/internal/logging"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := registerDetection(container); err != nil {
		return nil, err
	}

	return container, nil
}

// registerDetection registers the factories, pipeline stages and the detection
// service shared by both containers.
func registerDetection(container *dig.Container) error {
	// Register factories
	if err := container.Provide(factory.NewPipelineFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewArtifactFactory); err != nil {
		return err
	}

	// Register pipeline stages
	if err := container.Provide(func(f *factory.PipelineFactory) core.SceneDecoder {
		return f.CreateDecoder()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.SceneAligner {
		return f.CreateAligner()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.IndexEngine {
		return f.CreateIndexEngine()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.AnomalyScorer {
		return f.CreateScorer()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.RegionExtractor {
		return f.CreateExtractor()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.Geocoder {
		return f.CreateGeocoder()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) (core.Retryer, error) {
		return f.CreateRetryer()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) int {
		return f.GetBatchLimit()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.PipelineFactory) core.GeoBBox {
		return f.GetDefaultBBox()
	}); err != nil {
		return err
	}

	// Register artifact store
	if err := container.Provide(func(f *factory.ArtifactFactory) core.ArtifactStore {
		return f.CreateArtifactStore()
	}); err != nil {
		return err
	}

	// Register cache repository
	if err := container.Provide(func(f *factory.CacheFactory) (core.CacheRepository, error) {
		return f.CreateCacheRepository()
	}); err != nil {
		return err
	}

	// Register cache TTL and enabled flag
	if err := container.Provide(func(f *factory.CacheFactory) (time.Duration, error) {
		return f.GetCacheTTL()
	}); err != nil {
		return err
	}
	if err := container.Provide(func(f *factory.CacheFactory) bool {
		return f.IsCacheEnabled()
	}); err != nil {
		return err
	}

	// Register the detection service
	if err := container.Provide(core.NewDetectionService); err != nil {
		return err
	}

	return nil
}
