// Package comparer runs a whole comparison: it reads both inputs, computes
// tensor statistics, diffs the value trees, runs the model analyses and
// orders the result.
package comparer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wonderfulspam/model-smith/pkg/analyzer"
	"github.com/wonderfulspam/model-smith/pkg/differ"
	"github.com/wonderfulspam/model-smith/pkg/formats"
	"github.com/wonderfulspam/model-smith/pkg/parser"
	"github.com/wonderfulspam/model-smith/pkg/stats"
	"github.com/wonderfulspam/model-smith/pkg/telemetry"
	"github.com/wonderfulspam/model-smith/pkg/tensor"
	"github.com/wonderfulspam/model-smith/pkg/value"
)

var tracer = telemetry.Tracer("comparer")

// ErrMixedFormats is returned when the two files of a pair differ in format.
var ErrMixedFormats = errors.New("cannot compare files with different formats")

// Annotation is a non-fatal note about one tensor, e.g. missing statistics.
type Annotation struct {
	Side   string `json:"side" yaml:"side"`
	Tensor string `json:"tensor" yaml:"tensor"`
	Note   string `json:"note" yaml:"note"`
}

// Report is everything a renderer needs about one comparison.
type Report struct {
	ID          uuid.UUID       `json:"id" yaml:"id"`
	OldPath     string          `json:"old_path" yaml:"old_path"`
	NewPath     string          `json:"new_path" yaml:"new_path"`
	Format      parser.Format   `json:"format,omitempty" yaml:"format,omitempty"`
	Records     []differ.Record `json:"records" yaml:"records"`
	HasChanges  bool            `json:"has_changes" yaml:"has_changes"`
	Summary     string          `json:"summary" yaml:"summary"`
	OldTensors  []tensor.Stats  `json:"old_tensors,omitempty" yaml:"old_tensors,omitempty"`
	NewTensors  []tensor.Stats  `json:"new_tensors,omitempty" yaml:"new_tensors,omitempty"`
	Annotations []Annotation    `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

func (r *Report) finish() {
	r.HasChanges = len(r.Records) > 0
	r.Summary = differ.Summarize(r.Records)
}

type Comparer struct {
	policy    *differ.Policy
	format    parser.Format
	workers   int
	chunkSize int
	cache     stats.Cache
	analyzer  *analyzer.Engine
	history   []string
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

type Option func(*Comparer)

func WithPolicy(p *differ.Policy) Option {
	return func(c *Comparer) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithFormat forces the format of both inputs instead of detecting it from
// the file extension.
func WithFormat(f parser.Format) Option {
	return func(c *Comparer) { c.format = f }
}

func WithWorkers(n int) Option {
	return func(c *Comparer) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithChunkSize(n int) Option {
	return func(c *Comparer) { c.chunkSize = n }
}

func WithCache(cache stats.Cache) Option {
	return func(c *Comparer) { c.cache = cache }
}

func WithAnalyzer(e *analyzer.Engine) Option {
	return func(c *Comparer) { c.analyzer = e }
}

// WithHistory supplies earlier checkpoints, oldest first, for analyses that
// look at a training trajectory.
func WithHistory(paths ...string) Option {
	return func(c *Comparer) { c.history = append(c.history, paths...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Comparer) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Comparer) { c.metrics = m }
}

func New(opts ...Option) *Comparer {
	c := &Comparer{
		policy:  differ.DefaultPolicy(),
		workers: runtime.GOMAXPROCS(0),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.analyzer == nil {
		c.analyzer = analyzer.NewEngine(
			analyzer.WithWorkers(c.workers),
			analyzer.WithLogger(c.logger),
			analyzer.WithMetrics(c.metrics),
		)
	}
	return c
}

// Compare dispatches on the input types: two directories are compared
// recursively, two files directly. Mixing a file and a directory is an error.
func (c *Comparer) Compare(ctx context.Context, oldPath, newPath string) (*Report, error) {
	oldInfo, err := os.Stat(oldPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", oldPath, err)
	}
	newInfo, err := os.Stat(newPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", newPath, err)
	}

	switch {
	case oldInfo.IsDir() && newInfo.IsDir():
		return c.CompareDirs(ctx, oldPath, newPath)
	case oldInfo.IsDir() != newInfo.IsDir():
		return nil, fmt.Errorf("cannot compare a file with a directory: %s and %s", oldPath, newPath)
	}
	return c.CompareFiles(ctx, oldPath, newPath)
}

// Detect returns the format both files are read as.
func (c *Comparer) Detect(oldPath, newPath string) (parser.Format, error) {
	if c.format != "" {
		return c.format, nil
	}
	oldFormat, err := parser.DetectFormat(oldPath)
	if err != nil {
		return "", err
	}
	newFormat, err := parser.DetectFormat(newPath)
	if err != nil {
		return "", err
	}
	if oldFormat != newFormat {
		return "", fmt.Errorf("%w: %s (%s) and %s (%s)", ErrMixedFormats, oldPath, oldFormat, newPath, newFormat)
	}
	return oldFormat, nil
}

// CompareFiles compares two files of the same format.
func (c *Comparer) CompareFiles(ctx context.Context, oldPath, newPath string) (*Report, error) {
	format, err := c.Detect(oldPath, newPath)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "comparer.CompareFiles")
	defer span.End()
	span.SetAttributes(
		attribute.String("format", string(format)),
		attribute.String("old", oldPath),
		attribute.String("new", newPath),
	)

	report := &Report{ID: uuid.New(), OldPath: oldPath, NewPath: newPath, Format: format}
	if format.Kind() == parser.KindTensor {
		err = c.compareTensors(ctx, report)
	} else {
		err = c.compareStructured(report)
	}
	if err != nil {
		return nil, err
	}

	report.finish()
	c.observe(report)
	span.SetAttributes(attribute.Int("records", len(report.Records)))
	c.logger.Debug("compared files",
		zap.String("old", oldPath),
		zap.String("new", newPath),
		zap.String("format", string(format)),
		zap.Int("records", len(report.Records)))
	return report, nil
}

func (c *Comparer) compareStructured(report *Report) error {
	oldRoot, err := parser.ParseFile(report.OldPath, report.Format)
	if err != nil {
		return err
	}
	newRoot, err := parser.ParseFile(report.NewPath, report.Format)
	if err != nil {
		return err
	}
	report.Records = c.differ().Compare(differ.Input{Root: oldRoot}, differ.Input{Root: newRoot}).Records
	return nil
}

func (c *Comparer) compareTensors(ctx context.Context, report *Report) error {
	oldCat, err := c.Catalogue(ctx, report.OldPath, report.Format)
	if err != nil {
		return err
	}
	defer oldCat.Close()

	newCat, err := c.Catalogue(ctx, report.NewPath, report.Format)
	if err != nil {
		return err
	}
	defer newCat.Close()

	history, err := c.loadHistory(ctx, report.Format)
	defer func() {
		for _, h := range history {
			_ = h.Close()
		}
	}()
	if err != nil {
		return err
	}

	base := c.differ().Compare(
		differ.Input{Root: oldCat.Root(), Tensors: oldCat},
		differ.Input{Root: newCat.Root(), Tensors: newCat},
	)
	findings := c.analyzer.Run(ctx, parser.KindTensor, &analyzer.Input{
		Old:     oldCat,
		New:     newCat,
		Diffs:   base.Records,
		History: history,
	})

	report.Records = append(base.Records, findings...)
	if c.policy.SortByMagnitude {
		differ.SortByMagnitude(report.Records)
	}
	report.OldTensors = oldCat.AllStats()
	report.NewTensors = newCat.AllStats()
	report.Annotations = append(annotations("old", oldCat), annotations("new", newCat)...)
	return nil
}

// Catalogue opens a tensor file and attaches statistics to every tensor.
// The caller closes the catalogue.
func (c *Comparer) Catalogue(ctx context.Context, path string, format parser.Format) (*tensor.Catalogue, error) {
	if format == "" {
		f, err := parser.DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = f
	}
	cat, err := formats.Open(ctx, path, format)
	if err != nil {
		return nil, err
	}
	if err := c.statsEngine().Run(ctx, cat); err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("computing statistics for %s: %w", path, err)
	}
	return cat, nil
}

func (c *Comparer) loadHistory(ctx context.Context, format parser.Format) ([]*tensor.Catalogue, error) {
	if len(c.history) == 0 {
		return nil, nil
	}
	cats := make([]*tensor.Catalogue, len(c.history))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range c.history {
		g.Go(func() error {
			cat, err := c.Catalogue(gctx, path, format)
			if err != nil {
				return fmt.Errorf("loading history checkpoint: %w", err)
			}
			cats[i] = cat
			return nil
		})
	}
	err := g.Wait()

	out := cats[:0]
	for _, cat := range cats {
		if cat != nil {
			out = append(out, cat)
		}
	}
	return out, err
}

func (c *Comparer) differ() *differ.Differ {
	return differ.New(c.policy, differ.WithWorkers(c.workers))
}

func (c *Comparer) statsEngine() *stats.Engine {
	opts := []stats.Option{
		stats.WithWorkers(c.workers),
		stats.WithChunkSize(c.chunkSize),
		stats.WithLogger(c.logger),
		stats.WithMetrics(c.metrics),
	}
	if c.cache != nil {
		opts = append(opts, stats.WithCache(c.cache))
	}
	return stats.NewEngine(opts...)
}

func (c *Comparer) observe(report *Report) {
	c.metrics.IncComparisons()
	for _, r := range report.Records {
		c.metrics.ObserveRecord(string(r.Kind))
	}
}

// CompareValues diffs two in-memory trees under the comparer's policy.
func (c *Comparer) CompareValues(old, new value.Value) *Report {
	report := &Report{ID: uuid.New()}
	report.Records = c.differ().Compare(differ.Input{Root: old}, differ.Input{Root: new}).Records
	report.finish()
	c.observe(report)
	return report
}

func annotations(side string, cat *tensor.Catalogue) []Annotation {
	notes := cat.Annotations()
	var out []Annotation
	for _, name := range cat.AnnotatedNames() {
		out = append(out, Annotation{Side: side, Tensor: name, Note: notes[name]})
	}
	return out
}

func sortAnnotations(a []Annotation) {
	sort.SliceStable(a, func(i, j int) bool {
		if a[i].Tensor != a[j].Tensor {
			return a[i].Tensor < a[j].Tensor
		}
		return a[i].Side > a[j].Side
	})
}
