package raster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/satellite-change-detector/internal/core"
)

func emptyMask(size int) *core.AnomalyMask {
	return &core.AnomalyMask{
		Width:  size,
		Height: size,
		Flags:  make([]bool, size*size),
		Scores: make([]float64, size*size),
	}
}

func fillBlock(mask *core.AnomalyMask, xMin, yMin, xMax, yMax int, score float64) {
	for y := yMin; y < yMax; y++ {
		for x := xMin; x < xMax; x++ {
			mask.Flags[y*mask.Width+x] = true
			mask.Scores[y*mask.Width+x] = score
		}
	}
}

func TestExtractSingleBlock(t *testing.T) {
	e := NewExtractor(50, 5, 0.01, zap.NewNop())
	mask := emptyMask(128)
	fillBlock(mask, 30, 40, 50, 60, 0.9)

	regions, overall, err := e.Extract(context.Background(), mask)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	require.False(t, overall.IsDegenerate())

	// The bounding box approximately covers the block; closing may pad it by
	// a couple of pixels.
	r := regions[0]
	require.InDelta(t, 30, r.Box.XMin, 3)
	require.InDelta(t, 40, r.Box.YMin, 3)
	require.InDelta(t, 50, r.Box.XMax, 3)
	require.InDelta(t, 60, r.Box.YMax, 3)
	require.Greater(t, r.AreaPx, 50.0)
	require.NotEmpty(t, r.Polygon)
	require.GreaterOrEqual(t, r.Severity, 0.0)
	require.LessOrEqual(t, r.Severity, 1.0)
}

func TestExtractAreaFilterDropsSpecks(t *testing.T) {
	e := NewExtractor(50, 5, 0.01, zap.NewNop())
	mask := emptyMask(128)
	// Isolated pixels well apart survive closing as specks below the filter.
	for _, p := range []core.PixelPoint{{X: 10, Y: 10}, {X: 60, Y: 90}, {X: 120, Y: 30}} {
		mask.Flags[p.Y*mask.Width+p.X] = true
	}

	regions, overall, err := e.Extract(context.Background(), mask)
	require.NoError(t, err)
	require.Empty(t, regions)
	require.True(t, overall.IsDegenerate())
}

func TestExtractEmptyMask(t *testing.T) {
	e := NewExtractor(50, 5, 0.01, zap.NewNop())

	regions, overall, err := e.Extract(context.Background(), emptyMask(64))
	require.NoError(t, err)
	require.Empty(t, regions)
	require.True(t, overall.IsDegenerate())
}

func TestExtractMergesNearbyFragments(t *testing.T) {
	e := NewExtractor(50, 5, 0.01, zap.NewNop())
	mask := emptyMask(128)
	// Two fragments separated by a 2px gap: closing bridges them into one
	// region.
	fillBlock(mask, 20, 20, 40, 40, 0.7)
	fillBlock(mask, 42, 20, 62, 40, 0.7)

	regions, _, err := e.Extract(context.Background(), mask)
	require.NoError(t, err)
	require.Len(t, regions, 1)
}

func TestExtractMultipleRegions(t *testing.T) {
	e := NewExtractor(50, 5, 0.01, zap.NewNop())
	mask := emptyMask(256)
	fillBlock(mask, 10, 10, 30, 30, 0.8)
	fillBlock(mask, 150, 180, 180, 210, 0.6)

	regions, overall, err := e.Extract(context.Background(), mask)
	require.NoError(t, err)
	require.Len(t, regions, 2)

	// The overall box spans both regions.
	require.LessOrEqual(t, overall.XMin, 12)
	require.GreaterOrEqual(t, overall.XMax, 178)
	require.LessOrEqual(t, overall.YMin, 12)
	require.GreaterOrEqual(t, overall.YMax, 208)
}
