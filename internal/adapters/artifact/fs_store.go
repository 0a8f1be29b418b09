// Package artifact persists rendered anomaly masks as a side channel. The
// returned reference is opaque to the rest of the engine.
package artifact

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/core"
)

// FsStore writes anomaly masks as PNG files under a base directory. The
// filesystem is abstracted so tests can run against an in-memory one.
type FsStore struct {
	fs     afero.Fs
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewFsStore creates a filesystem-backed mask store.
func NewFsStore(fs afero.Fs, dir string, logger *zap.Logger) *FsStore {
	return &FsStore{
		fs:     fs,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

// SaveMask renders the mask to an 8-bit PNG and returns its reference.
func (s *FsStore) SaveMask(ctx context.Context, mask *core.AnomalyMask) (string, error) {
	_ = ctx
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create mask directory: %w", err)
	}

	img := image.NewGray(image.Rect(0, 0, mask.Width, mask.Height))
	for i, f := range mask.Flags {
		if f {
			img.Pix[i] = 255
		}
	}

	name := fmt.Sprintf("mask_%s_%s.png",
		s.now().UTC().Format("20060102_150405"),
		uuid.NewString()[:8])
	ref := filepath.ToSlash(filepath.Join(s.dir, name))

	file, err := s.fs.Create(ref)
	if err != nil {
		return "", fmt.Errorf("failed to create mask file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return "", fmt.Errorf("failed to encode mask: %w", err)
	}

	s.logger.Info("Anomaly mask saved", zap.String("ref", ref))
	return ref, nil
}
