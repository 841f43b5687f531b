// Package statcache persists computed tensor statistics in BadgerDB so that
// re-comparing an unchanged file skips the data pass.
package statcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/wonderfulspam/model-smith/pkg/tensor"
)

// keyPrefix namespaces entries so the format can change without clashing
// with older caches.
const keyPrefix = "stats/v1/"

// Cache implements stats.Cache. It is safe for concurrent use.
type Cache struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerLogger adapts zap to BadgerDB's Logger interface. Badger's own
// chatter is demoted one level.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {}

// Open opens or creates a cache in dir.
func Open(dir string, logger *zap.Logger) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
	}
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens a cache that lives for the process only.
func OpenInMemory(logger *zap.Logger) (*Cache, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{sugar: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open stats cache: %w", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

// Key identifies one tensor of one file version. The modification time and
// size invalidate entries when the file changes.
func Key(fp tensor.Fingerprint, name string) []byte {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteString(fp.Path)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(fp.Size, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(fp.ModTime, 10))
	b.WriteByte('|')
	b.WriteString(name)
	return []byte(b.String())
}

// Get returns cached statistics. Files without a fingerprint are never
// cached.
func (c *Cache) Get(fp tensor.Fingerprint, name string) (tensor.Stats, bool) {
	if fp.Path == "" {
		return tensor.Stats{}, false
	}
	var s tensor.Stats
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(fp, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Debug("stats cache read failed", zap.String("tensor", name), zap.Error(err))
		}
		return tensor.Stats{}, false
	}
	return s, true
}

func (c *Cache) Put(fp tensor.Fingerprint, name string, s tensor.Stats) error {
	if fp.Path == "" {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode stats for %s: %w", name, err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(fp, name), data)
	})
}

// Len counts cached entries.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Purge drops every cached entry.
func (c *Cache) Purge() error {
	return c.db.DropPrefix([]byte(keyPrefix))
}

func (c *Cache) Close() error {
	return c.db.Close()
}
