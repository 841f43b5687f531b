package stats

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// DefaultChunkSize is the number of values read per step and the split size
// for parallel reduction of materialized tensors.
const DefaultChunkSize = 1 << 16

// Compute drains src into an accumulator, checking ctx between chunks.
func Compute(ctx context.Context, src tensor.DataSource) (Accumulator, error) {
	return compute(ctx, src, DefaultChunkSize)
}

func compute(ctx context.Context, src tensor.DataSource, chunkSize int) (Accumulator, error) {
	var acc Accumulator
	buf := make([]float64, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return acc, err
		}
		n, err := src.Next(buf)
		acc.AddAll(buf[:n])
		if errors.Is(err, io.EOF) {
			return acc, nil
		}
		if err != nil {
			return acc, err
		}
	}
}

// ComputeSlice reduces vals in parallel chunks and merges the partial
// accumulators in chunk order, so the result does not depend on scheduling.
func ComputeSlice(ctx context.Context, vals []float64, workers, chunkSize int) (Accumulator, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(vals) <= chunkSize || workers == 1 {
		var acc Accumulator
		acc.AddAll(vals)
		return acc, ctx.Err()
	}

	chunks := (len(vals) + chunkSize - 1) / chunkSize
	parts := make([]Accumulator, chunks)

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := 0; i < chunks; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			lo := i * chunkSize
			hi := lo + chunkSize
			if hi > len(vals) {
				hi = len(vals)
			}
			parts[i].AddAll(vals[lo:hi])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Accumulator{}, err
	}

	var acc Accumulator
	for _, p := range parts {
		acc.Merge(p)
	}
	return acc, nil
}

// ComputeStats is the one-call form used for a single tensor handle.
func ComputeStats(ctx context.Context, h *tensor.Handle, workers int) (tensor.Stats, error) {
	return computeStats(ctx, h, workers, DefaultChunkSize)
}

func computeStats(ctx context.Context, h *tensor.Handle, workers, chunkSize int) (tensor.Stats, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if h.Open == nil {
		return tensor.Stats{}, tensor.ErrUnsupported
	}
	src, err := h.Open()
	if err != nil {
		return tensor.Stats{}, err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	var acc Accumulator
	if m, ok := src.(tensor.Materialized); ok {
		acc, err = ComputeSlice(ctx, m.Values(), workers, chunkSize)
	} else {
		acc, err = compute(ctx, src, chunkSize)
	}
	if err != nil {
		return tensor.Stats{}, err
	}
	return acc.Result(h.Name, h.Shape, h.DType)
}
