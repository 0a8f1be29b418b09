package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/config"
	"github.com/mikey/satellite-change-detector/internal/logging"
)

// CLIFlags contains the command line overrides for an interactive run
type CLIFlags struct {
	// Detection flags
	TileSize      int
	MinRegionArea float64
	BatchLimit    int

	// Scorer flags
	Contamination float64
	Seed          int64

	// Cache flags
	CacheEnabled bool

	// Artifact flags
	ArtifactDir string

	// Logging flags
	Verbose bool
	JSONLog bool
}

// BuildCLIContainer creates a dependency injection container for interactive
// runs: a console logger and configuration assembled from command line flags
// instead of a config file.
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags) *config.Config {
		return createConfigFromFlags(flags)
	}); err != nil {
		return nil, err
	}

	if err := registerDetection(container); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	v.Set("detection.tile_size", flags.TileSize)
	v.Set("detection.min_region_area", flags.MinRegionArea)
	v.Set("detection.batch_limit", flags.BatchLimit)

	v.Set("scorer.contamination", flags.Contamination)
	v.Set("scorer.seed", flags.Seed)

	v.Set("cache.enabled", flags.CacheEnabled)
	v.Set("cache.type", "memory")

	v.Set("artifact.dir", flags.ArtifactDir)

	v.Set("logging.level", "info")
	if flags.Verbose {
		v.Set("logging.level", "debug")
	}

	return config.NewFromViper(v)
}
