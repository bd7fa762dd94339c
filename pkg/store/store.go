// Package store provides the persisted key-value areas shared by the filter
// and the popup, with change notification.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Area names.
const (
	SyncArea  = "sync"
	LocalArea = "local"
)

// Well-known keys.
const (
	KeyBlockedAuthors = "blockedAuthors"
	KeyHiddenUsers    = "hiddenUsers"
	KeyFilterCounts   = "filterCounts"
	KeyRefreshStamp   = "filterRefreshTimestamp"
)

const maxUpdateAttempts = 5

// ErrClosed is returned by operations on a closed area.
var ErrClosed = errors.New("store closed")

// Change describes one committed write.
type Change struct {
	Area string
	Keys []string
}

// Has reports whether key was part of the change.
func (c Change) Has(key string) bool {
	return slices.Contains(c.Keys, key)
}

// Listener receives change notifications.
type Listener func(Change)

// UpdateFunc computes the new value of a key from its current one. get
// decodes the current value and reports false when the key is missing.
// Returning changed=false leaves the key untouched and notifies nobody.
type UpdateFunc func(get func(dest any) (bool, error)) (value any, changed bool, err error)

// Options configures Open.
type Options struct {
	// Dir holds the sync area. Empty keeps it in memory.
	Dir string
	Log *slog.Logger
}

// Store bundles the durable sync area and the ephemeral local area.
type Store struct {
	Sync  *Area
	Local *Area
}

// Open opens both areas.
func Open(opts Options) (*Store, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	syncArea, err := openArea(SyncArea, opts.Dir, log)
	if err != nil {
		return nil, err
	}
	localArea, err := openArea(LocalArea, "", log)
	if err != nil {
		_ = syncArea.Close()
		return nil, err
	}
	return &Store{Sync: syncArea, Local: localArea}, nil
}

// Close closes both areas.
func (s *Store) Close() error {
	return errors.Join(s.Sync.Close(), s.Local.Close())
}

// Area is one Badger-backed key-value partition.
type Area struct {
	name string
	db   *badger.DB
	log  *slog.Logger

	mu        sync.RWMutex
	listeners map[string]Listener
	closed    bool

	// updates serialises read-modify-write cycles within the process.
	updates sync.Mutex
}

func openArea(name, dir string, log *slog.Logger) (*Area, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = dir != ""

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s area: %w", name, err)
	}
	log.Debug("store area opened", "area", name, "dir", dir)
	return &Area{
		name:      name,
		db:        db,
		log:       log,
		listeners: make(map[string]Listener),
	}, nil
}

// Name returns the area name.
func (a *Area) Name() string {
	return a.name
}

// Get decodes the JSON value stored under key into dest.
// A missing key reports false without error.
func (a *Area) Get(ctx context.Context, key string, dest any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if a.isClosed() {
		return false, ErrClosed
	}
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", a.name, key, err)
	}
	return true, nil
}

// Set writes all values in one transaction and then notifies listeners.
func (a *Area) Set(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.isClosed() {
		return ErrClosed
	}
	keys := make([]string, 0, len(values))
	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		keys = append(keys, key)
		encoded[key] = data
	}
	slices.Sort(keys)

	err := a.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Set([]byte(key), encoded[key]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", a.name, err)
	}
	a.notify(Change{Area: a.name, Keys: keys})
	return nil
}

// Update reads key, passes it to fn and writes the result in one
// transaction. Concurrent updates of the same area run one at a time, and a
// transaction that conflicts with a plain Set is retried.
func (a *Area) Update(ctx context.Context, key string, fn UpdateFunc) error {
	a.updates.Lock()
	defer a.updates.Unlock()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.isClosed() {
			return ErrClosed
		}
		changed := false
		err := a.db.Update(func(txn *badger.Txn) error {
			get := func(dest any) (bool, error) {
				item, err := txn.Get([]byte(key))
				if errors.Is(err, badger.ErrKeyNotFound) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return true, item.Value(func(val []byte) error {
					return json.Unmarshal(val, dest)
				})
			}
			value, ok, err := fn(get)
			if err != nil || !ok {
				return err
			}
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", key, err)
			}
			changed = true
			return txn.Set([]byte(key), data)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxUpdateAttempts {
			a.log.Debug("store update conflict, retrying", "area", a.name, "key", key, "attempt", attempt)
			continue
		}
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", a.name, key, err)
		}
		if changed {
			a.notify(Change{Area: a.name, Keys: []string{key}})
		}
		return nil
	}
}

// Remove deletes keys and notifies listeners.
func (a *Area) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.isClosed() {
		return ErrClosed
	}
	err := a.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", a.name, err)
	}
	a.notify(Change{Area: a.name, Keys: slices.Sorted(slices.Values(keys))})
	return nil
}

// Subscribe registers fn for every subsequent change. The returned function
// removes the subscription.
func (a *Area) Subscribe(fn Listener) func() {
	id := uuid.NewString()
	a.mu.Lock()
	a.listeners[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// Close closes the underlying database. Listeners are dropped.
func (a *Area) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.listeners = make(map[string]Listener)
	a.mu.Unlock()
	return a.db.Close()
}

func (a *Area) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// notify runs listeners outside the lock so they may write back to the store.
func (a *Area) notify(change Change) {
	a.mu.RLock()
	listeners := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.RUnlock()

	a.log.Debug("store change", "area", change.Area, "keys", change.Keys)
	for _, fn := range listeners {
		fn(change)
	}
}
