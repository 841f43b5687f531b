package stats

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wonderfulspam/model-smith/pkg/telemetry"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

var tracer = telemetry.Tracer("stats")

// Cache stores statistics across runs, keyed by file identity and tensor name.
type Cache interface {
	Get(fp tensor.Fingerprint, name string) (tensor.Stats, bool)
	Put(fp tensor.Fingerprint, name string, s tensor.Stats) error
}

// Engine computes statistics for every tensor of a catalogue with a bounded
// worker pool.
type Engine struct {
	workers   int
	chunkSize int
	logger    *zap.Logger
	cache     Cache
	metrics   *telemetry.Metrics
}

type Option func(*Engine)

// WithWorkers bounds concurrent tensors. Zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithChunkSize sets the values read per step. Zero keeps DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers:   runtime.GOMAXPROCS(0),
		chunkSize: DefaultChunkSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run attaches statistics to every tensor in cat. Per-tensor failures become
// annotations on the catalogue; only cancellation is returned as an error.
func (e *Engine) Run(ctx context.Context, cat *tensor.Catalogue) error {
	ctx, span := tracer.Start(ctx, "stats.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("tensors", cat.Len()))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	// a lone tensor gets the whole pool for its chunks
	inner := 1
	if cat.Len() == 1 {
		inner = e.workers
	}
	for _, name := range cat.Names() {
		h, _ := cat.Get(name)
		g.Go(func() error {
			return e.one(gctx, cat, h, inner)
		})
	}
	return g.Wait()
}

func (e *Engine) one(ctx context.Context, cat *tensor.Catalogue, h *tensor.Handle, workers int) error {
	if e.cache != nil && cat.Fingerprint.Path != "" {
		s, ok := e.cache.Get(cat.Fingerprint, h.Name)
		e.metrics.ObserveCacheLookup(ok)
		if ok {
			cat.SetStats(h.Name, s)
			e.metrics.ObserveTensor("cached", 0)
			return nil
		}
	}

	start := time.Now()
	s, err := computeStats(ctx, h, workers, e.chunkSize)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrEmpty):
		e.logger.Debug("tensor has no elements", zap.String("tensor", h.Name))
		cat.Annotate(h.Name, "empty tensor, statistics unavailable")
		e.metrics.ObserveTensor("empty", 0)
		return nil
	default:
		e.logger.Warn("computing tensor statistics", zap.String("tensor", h.Name), zap.Error(err))
		cat.Annotate(h.Name, "statistics unavailable: "+err.Error())
		e.metrics.ObserveTensor("failed", 0)
		return nil
	}

	cat.SetStats(h.Name, s)
	e.metrics.ObserveTensor("computed", time.Since(start))
	if s.HasNonFinite {
		e.logger.Debug("tensor contains non-finite values",
			zap.String("tensor", h.Name), zap.Uint64("count", s.NonFiniteCount))
	}
	if e.cache != nil && cat.Fingerprint.Path != "" {
		if err := e.cache.Put(cat.Fingerprint, h.Name, s); err != nil {
			e.logger.Debug("caching tensor statistics", zap.String("tensor", h.Name), zap.Error(err))
		}
	}
	return nil
}
