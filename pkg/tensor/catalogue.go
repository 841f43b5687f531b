package tensor

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/wonderfulspam/model-smith/pkg/value"
)

// ErrUnsupported marks a tensor layout or dtype an adapter cannot decode.
var ErrUnsupported = errors.New("unsupported tensor encoding")

// Handle is one named tensor exposed by an adapter.
type Handle struct {
	Name  string
	Shape []int
	DType DType
	// Open returns a fresh single-pass reader over the tensor's elements.
	Open func() (DataSource, error)
}

func (h *Handle) NumElements() uint64 { return NumElements(h.Shape) }

func (h *Handle) Bytes() uint64 { return h.NumElements() * uint64(h.DType.Size()) }

// Fingerprint identifies the file a catalogue was read from, for caching.
type Fingerprint struct {
	Path    string
	Size    int64
	ModTime int64
}

// Catalogue is the ordered set of tensors found in one file plus any
// non-tensor metadata stored alongside them. Statistics are attached by the
// stats engine once computed.
type Catalogue struct {
	Metadata    value.Value
	Fingerprint Fingerprint

	names   []string
	handles map[string]*Handle
	tree    *value.Value

	mu          sync.RWMutex
	stats       map[string]Stats
	annotations map[string]string

	closers []io.Closer
}

func NewCatalogue() *Catalogue {
	return &Catalogue{
		Metadata:    value.MapValue(nil),
		handles:     make(map[string]*Handle),
		stats:       make(map[string]Stats),
		annotations: make(map[string]string),
	}
}

// Add appends h. A handle with an existing name replaces the old one in place.
func (c *Catalogue) Add(h *Handle) {
	if _, ok := c.handles[h.Name]; !ok {
		c.names = append(c.names, h.Name)
	}
	c.handles[h.Name] = h
}

func (c *Catalogue) Get(name string) (*Handle, bool) {
	if c == nil {
		return nil, false
	}
	h, ok := c.handles[name]
	return h, ok
}

// Names returns tensor names in adapter order.
func (c *Catalogue) Names() []string {
	if c == nil {
		return nil
	}
	return c.names
}

func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

func (c *Catalogue) SetStats(name string, s Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[name] = s
}

func (c *Catalogue) Stats(name string) (Stats, bool) {
	if c == nil {
		return Stats{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stats[name]
	return s, ok
}

// AllStats returns the computed statistics in catalogue order. Tensors
// without statistics are omitted.
func (c *Catalogue) AllStats() []Stats {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Stats, 0, len(c.stats))
	for _, n := range c.names {
		if s, ok := c.stats[n]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Annotate records a non-fatal note about a tensor, e.g. why it has no stats.
func (c *Catalogue) Annotate(name, note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.annotations[name] = note
}

func (c *Catalogue) Annotations() map[string]string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.annotations))
	for k, v := range c.annotations {
		out[k] = v
	}
	return out
}

// AnnotatedNames returns the annotated tensor names sorted.
func (c *Catalogue) AnnotatedNames() []string {
	notes := c.Annotations()
	names := make([]string, 0, len(notes))
	for n := range notes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetTree records the document layout of a container whose tensors live
// inside a nested structure. Tensor leaves must be value.TensorRef values
// named like their handles.
func (c *Catalogue) SetTree(v value.Value) {
	c.tree = &v
}

// Root is the value tree compared by the differ. Without a recorded tree the
// tensor names are nested on their dots (see value.Nest), so that
// encoder.weight is reachable as a path, plus "__metadata__" when the
// container carries metadata.
func (c *Catalogue) Root() value.Value {
	if c == nil {
		return value.MapValue(nil)
	}
	if c.tree != nil {
		return *c.tree
	}
	refs := make([]value.Value, len(c.names))
	for i, n := range c.names {
		refs[i] = value.TensorRef(n)
	}
	m := value.Nest(c.names, refs)
	if c.Metadata.Len() > 0 {
		m.Set("__metadata__", c.Metadata)
	}
	return value.MapValue(m)
}

// AddCloser registers a resource released by Close.
func (c *Catalogue) AddCloser(cl io.Closer) {
	c.closers = append(c.closers, cl)
}

func (c *Catalogue) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Source is implemented by every tensor container adapter.
type Source interface {
	Catalogue(ctx context.Context) (*Catalogue, error)
}
