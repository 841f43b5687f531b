package statcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonderfulspam/model-smith/pkg/stats"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

var fp = tensor.Fingerprint{Path: "/models/a.safetensors", Size: 128, ModTime: 1700000000}

func sample(name string) tensor.Stats {
	return tensor.Stats{
		Name:         name,
		Shape:        []int{2, 2},
		DType:        tensor.F32,
		Mean:         0.5,
		Std:          0.25,
		Min:          0,
		Max:          1,
		ElementCount: 4,
		ZeroCount:    1,
	}
}

func newCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := newCache(t)

	_, ok := c.Get(fp, "w")
	assert.False(t, ok)

	require.NoError(t, c.Put(fp, "w", sample("w")))
	got, ok := c.Get(fp, "w")
	require.True(t, ok)
	assert.Equal(t, sample("w"), got)

	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFingerprintInvalidates(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Put(fp, "w", sample("w")))

	touched := fp
	touched.ModTime++
	_, ok := c.Get(touched, "w")
	assert.False(t, ok, "modified file must miss")

	resized := fp
	resized.Size = 256
	_, ok = c.Get(resized, "w")
	assert.False(t, ok, "resized file must miss")
}

func TestAnonymousCatalogueNotCached(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Put(tensor.Fingerprint{}, "w", sample("w")))
	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurge(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Put(fp, "a", sample("a")))
	require.NoError(t, c.Put(fp, "b", sample("b")))
	require.NoError(t, c.Purge())
	n, err := c.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, c.Put(fp, "w", sample("w")))
	require.NoError(t, c.Close())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok := reopened.Get(fp, "w")
	require.True(t, ok)
	assert.Equal(t, 0.5, got.Mean)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open("", nil)
	assert.Error(t, err)
}

func TestEngineUsesCache(t *testing.T) {
	c := newCache(t)

	build := func(opens *int) *tensor.Catalogue {
		cat := tensor.NewCatalogue()
		cat.Fingerprint = fp
		cat.Add(&tensor.Handle{
			Name:  "w",
			Shape: []int{4},
			DType: tensor.F32,
			Open: func() (tensor.DataSource, error) {
				*opens++
				return tensor.NewSliceSource([]float64{0, 1, 0.5, 0.5}), nil
			},
		})
		return cat
	}

	var first, second int
	engine := stats.NewEngine(stats.WithCache(c))
	require.NoError(t, engine.Run(context.Background(), build(&first)))
	assert.Equal(t, 1, first)

	cat := build(&second)
	require.NoError(t, engine.Run(context.Background(), cat))
	assert.Zero(t, second, "cached tensors are not read again")
	s, ok := cat.Stats("w")
	require.True(t, ok)
	assert.Equal(t, 0.5, s.Mean)
}
