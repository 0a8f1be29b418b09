package artifact

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/core"
)

func testMask() *core.AnomalyMask {
	mask := &core.AnomalyMask{
		Width:  16,
		Height: 16,
		Flags:  make([]bool, 256),
		Scores: make([]float64, 256),
	}
	for i := 40; i < 60; i++ {
		mask.Flags[i] = true
	}
	return mask
}

func TestSaveMaskWritesPNG(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFsStore(fs, "static/masks", zap.NewNop())
	store.now = func() time.Time { return time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC) }

	ref, err := store.SaveMask(context.Background(), testMask())
	require.NoError(t, err)
	require.Contains(t, ref, "static/masks/mask_20250720_120000_")

	data, err := afero.ReadFile(fs, ref)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 16, img.Bounds().Dx())
	require.Equal(t, 16, img.Bounds().Dy())
}

func TestSaveMaskUniqueRefs(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFsStore(fs, "masks", zap.NewNop())

	first, err := store.SaveMask(context.Background(), testMask())
	require.NoError(t, err)
	second, err := store.SaveMask(context.Background(), testMask())
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
