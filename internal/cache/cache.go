// Package cache is the durable read-through/write-through key-value layer in front of every
// external lookup. A cache never expires; deleting it is the only way to invalidate it.
//
// A Manager is built once per run and handed to each resolver. It is not safe for concurrent
// use and two processes must not share a cache directory.
package cache

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrCorrupt marks on-disk content that is not valid for its cache. It is
	// logged and treated as a miss.
	ErrCorrupt = eris.New("cache: corrupt content")

	// ErrMiss is returned by an offline Manager when a key is not cached.
	ErrMiss = eris.New("cache: miss")
)

// Observer receives one event per lookup; result is "hit" or "miss".
type Observer interface {
	CacheResult(cache, result string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithOffline makes every miss return ErrMiss instead of calling the fetch function.
func WithOffline() Option {
	return func(m *Manager) {
		m.offline = true
	}
}

// WithObserver reports hits and misses to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// Manager owns the in-memory copy of every named cache and writes through to a Store.
type Manager struct {
	store    Store
	tables   map[string]map[string]json.RawMessage
	offline  bool
	observer Observer
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		tables: make(map[string]map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Offline reports whether misses skip the fetch.
func (m *Manager) Offline() bool {
	return m.offline
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// GetOrFetch returns the value cached under name/key, or calls fetch, stores its
// result and persists the cache before returning it. A fetch error is returned
// as is and nothing is stored.
func GetOrFetch[T any](ctx context.Context, m *Manager, name, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	tbl := m.table(ctx, name)

	if raw, ok := tbl[key]; ok {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			m.observe(name, "hit")
			zap.L().Debug("cache hit", zap.String("cache", name), zap.String("key", key))
			return v, nil
		}
		zap.L().Warn("cache entry does not match its schema, refetching",
			zap.String("cache", name),
			zap.String("key", key),
			zap.Error(eris.Wrap(ErrCorrupt, err.Error())),
		)
		delete(tbl, key)
	}

	m.observe(name, "miss")
	if m.offline {
		return zero, eris.Wrapf(ErrMiss, "%s/%s", name, key)
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return zero, eris.Wrapf(err, "cache: encode %s/%s", name, key)
	}
	tbl[key] = raw

	if err := m.store.Persist(ctx, name, key, tbl); err != nil {
		// The value is good; only resumability suffers.
		zap.L().Error("cache: persist failed",
			zap.String("cache", name),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return v, nil
}

// Len returns the number of entries in the named cache.
func (m *Manager) Len(ctx context.Context, name string) int {
	return len(m.table(ctx, name))
}

// Names lists the caches present in the store.
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	return m.store.Names(ctx)
}

// Drop deletes a cache from memory and from the store.
func (m *Manager) Drop(ctx context.Context, name string) error {
	delete(m.tables, name)
	return m.store.Drop(ctx, name)
}

// table lazily loads a cache once per process. Unreadable content yields an
// empty table so the run refetches instead of failing.
func (m *Manager) table(ctx context.Context, name string) map[string]json.RawMessage {
	if tbl, ok := m.tables[name]; ok {
		return tbl
	}

	tbl, err := m.store.Load(ctx, name)
	if err != nil {
		zap.L().Warn("cache unreadable, starting empty",
			zap.String("cache", name),
			zap.Error(err),
		)
		tbl = nil
	}
	if tbl == nil {
		tbl = make(map[string]json.RawMessage)
	}
	zap.L().Debug("cache loaded", zap.String("cache", name), zap.Int("entries", len(tbl)))
	m.tables[name] = tbl
	return tbl
}

func (m *Manager) observe(name, result string) {
	if m.observer != nil {
		m.observer.CacheResult(name, result)
	}
}
