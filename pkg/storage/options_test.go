package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, "buffered", o.Durability)
	assert.Equal(t, DefaultSegmentSize, o.SegmentSizeBytes)
	assert.Equal(t, DefaultMaxKeyLength, o.MaxKeyLength)
	assert.Equal(t, 3, o.RetryMaxAttempts)
}

func TestOptionsWithDefaultsPreservesExplicitValues(t *testing.T) {
	o := Options{Durability: "strict", SegmentSizeBytes: 100, MaxKeyLength: 10, RetryMaxAttempts: 1}.WithDefaults()
	assert.Equal(t, "strict", o.Durability)
	assert.Equal(t, int64(100), o.SegmentSizeBytes)
}

func TestOptionsDurabilityMode(t *testing.T) {
	strict, err := Options{Durability: "strict"}.DurabilityMode()
	require.NoError(t, err)
	assert.Equal(t, DurabilityStrict, strict)

	inMemory, err := Options{Durability: "in_memory"}.DurabilityMode()
	require.NoError(t, err)
	assert.Equal(t, DurabilityInMemory, inMemory)

	_, err = Options{Durability: "bogus"}.DurabilityMode()
	assert.Error(t, err)
}

func TestLoadOptionsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("durability: strict\nsegment_size_bytes: 1024\n"), 0o644))

	o, err := LoadOptionsFile(path)
	require.NoError(t, err)
	assert.Equal(t, "strict", o.Durability)
	assert.Equal(t, int64(1024), o.SegmentSizeBytes)
	assert.Equal(t, DefaultMaxKeyLength, o.MaxKeyLength) // default filled in
}
