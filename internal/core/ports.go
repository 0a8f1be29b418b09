package core

import (
	"context"
)

// SceneDecoder turns raw encoded scene bytes into a validated Scene at the
// standard tile size.
type SceneDecoder interface {
	// Decode validates and decodes a scene payload. Failures are reported as
	// *DecodeError with the transient flag set for retryable faults.
	Decode(ctx context.Context, payload []byte, bbox GeoBBox) (*Scene, error)
}

// SceneAligner co-registers a target scene onto a reference scene's pixel
// grid. Alignment is best-effort: when it cannot be estimated the target is
// returned unchanged and the returned flag is false.
type SceneAligner interface {
	Align(ctx context.Context, ref, target *Scene) (*Scene, bool, error)
}

// IndexEngine computes the spectral index deltas between two aligned scenes.
type IndexEngine interface {
	ComputeDelta(ctx context.Context, before, after *Scene) (*IndexDelta, error)
}

// AnomalyScorer fits an unsupervised outlier model on the per-pixel delta
// features of a single pair and flags the anomalous pixels.
type AnomalyScorer interface {
	Score(ctx context.Context, delta *IndexDelta) (*AnomalyMask, error)
}

// RegionExtractor cleans up an anomaly mask and extracts the surviving
// connected regions together with their accumulated overall bounding box.
type RegionExtractor interface {
	Extract(ctx context.Context, mask *AnomalyMask) ([]AnomalyRegion, PixelRect, error)
}

// Geocoder maps raster coordinates to geographic coordinates within a scene's
// declared bounding box, and back.
type Geocoder interface {
	PixelToGeo(bbox GeoBBox, width, height int, p PixelPoint) GeoPoint
	GeoToPixel(bbox GeoBBox, width, height int, g GeoPoint) PixelPoint
	// GroundScale returns the approximate meters covered by one pixel on each
	// axis for the given bbox and tile dimensions.
	GroundScale(bbox GeoBBox, width, height int) (mx, my float64)
}

// ArtifactStore persists the anomaly mask render as a side channel and
// returns an opaque reference to it.
type ArtifactStore interface {
	SaveMask(ctx context.Context, mask *AnomalyMask) (string, error)
}

// CacheRepository caches finished detection results keyed by fingerprint.
type CacheRepository interface {
	// Get retrieves a cached entry; expired entries are treated as absent.
	Get(ctx context.Context, fingerprint string) (*CacheEntry, error)

	// Set stores a cache entry, evicting the oldest entries when full.
	Set(ctx context.Context, entry *CacheEntry) error

	// Delete removes a cache entry
	Delete(ctx context.Context, fingerprint string) error

	// Cleanup removes expired entries
	Cleanup(ctx context.Context) error
}
