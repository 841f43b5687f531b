// Package analyzer runs the registered model analyses over a pair of tensor
// catalogues and reports their findings as diff records.
package analyzer

import (
	"context"
	"fmt"
	"runtime"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/telemetry"
)

var tracer = telemetry.Tracer("analyzer")

// Engine selects the analyses that apply to a file kind and runs them
// concurrently against read-only inputs.
type Engine struct {
	registry *AnalysisRegistry
	workers  int
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

type Option func(*Engine)

func WithRegistry(r *AnalysisRegistry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
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

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers: runtime.GOMAXPROCS(0),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = DefaultRegistry()
	}
	return e
}

func (e *Engine) Registry() *AnalysisRegistry {
	return e.registry
}

// Applicable returns the enabled analyses for a file kind. Tensor-bearing
// formats get every enabled analysis; structured data gets none.
func (e *Engine) Applicable(kind parser.Kind) []Analysis {
	if kind != parser.KindTensor {
		return nil
	}
	var out []Analysis
	for _, a := range e.registry.GetAnalyses() {
		if a.Enabled() {
			out = append(out, a)
		}
	}
	return out
}

// Run evaluates the applicable analyses and returns one record per finding
// in registration order. A panicking analysis is logged and dropped.
func (e *Engine) Run(ctx context.Context, kind parser.Kind, in *Input) []differ.Record {
	analyses := e.Applicable(kind)
	if len(analyses) == 0 || in == nil || in.Old == nil || in.New == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "analyzer.Run")
	defer span.End()

	results := make([]differ.Payload, len(analyses))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, a := range analyses {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = e.runOne(a, in)
			return nil
		})
	}
	_ = g.Wait()

	var records []differ.Record
	for _, p := range results {
		if p != nil {
			records = append(records, differ.Analysis(p))
		}
	}
	span.SetAttributes(
		attribute.Int("analyses.run", len(analyses)),
		attribute.Int("analyses.emitted", len(records)),
	)
	return records
}

func (e *Engine) runOne(a Analysis, in *Input) (payload differ.Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("analysis panicked",
				zap.String("analysis", a.Name()),
				zap.Error(fmt.Errorf("%v", r)))
			e.metrics.ObserveAnalysis(a.Name(), "panic")
			payload = nil
		}
	}()

	p, ok := a.Analyze(in)
	if !ok || p == nil {
		e.logger.Debug("analysis skipped", zap.String("analysis", a.Name()))
		e.metrics.ObserveAnalysis(a.Name(), "skipped")
		return nil
	}
	e.metrics.ObserveAnalysis(a.Name(), "emitted")
	return p
}
