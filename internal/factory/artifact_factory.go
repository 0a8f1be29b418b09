package factory

import (
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/adapters/artifact"
	"github.com/mikey/satellite-change-detector/internal/config"
	"github.com/mikey/satellite-change-detector/internal/core"
)

// ArtifactFactory creates the mask artifact store
type ArtifactFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewArtifactFactory creates a new artifact factory
func NewArtifactFactory(cfg *config.Config, logger *zap.Logger) *ArtifactFactory {
	return &ArtifactFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateArtifactStore creates the filesystem-backed mask store
func (f *ArtifactFactory) CreateArtifactStore() core.ArtifactStore {
	return artifact.NewFsStore(afero.NewOsFs(), f.cfg.GetString("artifact.dir"), f.logger)
}
