package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEmptyViperCarriesDefaults(t *testing.T) {
	v := NewEmptyViper()

	require.Equal(t, 512, v.GetInt("detection.tile_size"))
	require.Equal(t, 0.05, v.GetFloat64("scorer.contamination"))
	require.Equal(t, "memory", v.GetString("cache.type"))
	require.Equal(t, "2s", v.GetString("retry.initial_backoff"))
}

func TestNewFromViperHonorsOverrides(t *testing.T) {
	v := NewEmptyViper()
	v.Set("detection.tile_size", 128)
	v.Set("cache.enabled", false)

	cfg := NewFromViper(v)
	require.Equal(t, 128, cfg.GetInt("detection.tile_size"))
	require.False(t, cfg.GetBool("cache.enabled"))
	require.Same(t, v, cfg.GetViper())

	// Untouched keys keep their defaults.
	require.Equal(t, int64(42), cfg.GetInt64("scorer.seed"))
}

func TestGetFloat64Slice(t *testing.T) {
	v := NewEmptyViper()
	cfg := NewFromViper(v)

	bbox := cfg.GetFloat64Slice("geo.default_bbox")
	require.Len(t, bbox, 4)
	require.Equal(t, 75.8895, bbox[0])

	// Mixed numeric literals, as a YAML file would produce them.
	v.Set("geo.default_bbox", []interface{}{1, 2.5, 3, 4.5})
	require.Equal(t, []float64{1, 2.5, 3, 4.5}, cfg.GetFloat64Slice("geo.default_bbox"))

	require.Nil(t, cfg.GetFloat64Slice("geo.missing"))
}

func TestGetDuration(t *testing.T) {
	v := NewEmptyViper()
	cfg := NewFromViper(v)

	ttl, err := cfg.GetDuration("cache.ttl")
	require.NoError(t, err)
	require.Equal(t, time.Hour, ttl)

	v.Set("cache.ttl", "not-a-duration")
	_, err = cfg.GetDuration("cache.ttl")
	require.Error(t, err)
}
