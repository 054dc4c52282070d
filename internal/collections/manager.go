// Package collections manages named vector collections: their lifecycle in
// the vector backend and their rows in the registry.
//
// The Manager keeps no handle cache. Every call re-reads the registry and the
// backend, so collections created or deleted by another process are seen
// immediately.
package collections

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/registry"
	"github.com/fyrsmithlabs/corpora/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateCollection indicates the name is already registered or
	// already exists in the backend.
	ErrDuplicateCollection = errors.New("collection already exists")

	// ErrCollectionNotFound is shared with the vector store.
	ErrCollectionNotFound = vectorstore.ErrCollectionNotFound

	// ErrInvalidCollectionName is shared with the vector store.
	ErrInvalidCollectionName = vectorstore.ErrInvalidCollectionName
)

// Collection describes one named collection.
type Collection struct {
	Name           string    `json:"name"`
	StorageLocator string    `json:"storage_locator"`
	VectorCount    int       `json:"vector_count"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Registry is the subset of registry.Store the Manager needs.
type Registry interface {
	Register(ctx context.Context, e registry.Entry) error
	Get(ctx context.Context, name string) (*registry.Entry, error)
	List(ctx context.Context) ([]registry.Entry, error)
	ListEnabled(ctx context.Context) ([]registry.Entry, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	Touch(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) (bool, error)

	AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	RenewLock(ctx context.Context, name, owner string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, name, owner string) error
}

// Manager owns the name to backend collection mapping.
type Manager struct {
	store    vectorstore.Store
	registry Registry
	locks    *keyedMutex
	lease    leaseConfig
	owner    string
	logger   *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLease sets the writer lease TTL and the poll interval used while
// waiting on a lease held by another process.
func WithLease(ttl, poll time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lease.ttl = ttl
		}
		if poll > 0 {
			m.lease.poll = poll
		}
	}
}

// NewManager creates a Manager.
func NewManager(store vectorstore.Store, reg Registry, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:    store,
		registry: reg,
		locks:    newKeyedMutex(),
		lease:    defaultLease,
		owner:    newLeaseOwner(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock takes the writer lock for name. Writers (ingestion, Create, Delete)
// serialize on it across goroutines and processes; readers never take it.
// It blocks until the lock is free or ctx is done.
func (m *Manager) Lock(ctx context.Context, name string) (unlock func(), err error) {
	release := m.locks.Lock(name)
	leaseUnlock, err := m.acquireLease(ctx, name)
	if err != nil {
		release()
		return nil, err
	}
	return func() {
		leaseUnlock()
		release()
	}, nil
}

// Create creates a new, enabled collection.
func (m *Manager) Create(ctx context.Context, name string) (*Collection, error) {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	unlock, err := m.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := m.registry.Get(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCollection, name)
	} else if !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}

	if err := m.store.CreateCollection(ctx, name); err != nil {
		if errors.Is(err, vectorstore.ErrCollectionExists) {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateCollection, err)
		}
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	if err := m.register(ctx, name); err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCollection, name)
		}
		return nil, err
	}

	m.logger.Info("collection created", zap.String("collection", name))
	return m.Get(ctx, name)
}

// OpenOrCreate returns the named collection, creating it if needed. existed
// reports whether it was registered or present in the backend before the
// call. A registered collection whose backend storage vanished is recreated.
//
// Callers writing to the collection must hold Lock(name).
func (m *Manager) OpenOrCreate(ctx context.Context, name string) (c *Collection, existed bool, err error) {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return nil, false, err
	}

	_, regErr := m.registry.Get(ctx, name)
	registered := regErr == nil
	if regErr != nil && !errors.Is(regErr, registry.ErrNotFound) {
		return nil, false, regErr
	}

	inBackend, err := m.store.CollectionExists(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if !inBackend {
		if err := m.store.CreateCollection(ctx, name); err != nil && !errors.Is(err, vectorstore.ErrCollectionExists) {
			return nil, false, fmt.Errorf("creating collection %s: %w", name, err)
		}
		if registered {
			m.logger.Warn("registered collection missing from backend, recreated",
				zap.String("collection", name))
		}
	}
	if !registered {
		if err := m.register(ctx, name); err != nil && !errors.Is(err, registry.ErrAlreadyRegistered) {
			return nil, false, err
		}
	}

	c, err = m.Get(ctx, name)
	if err != nil {
		return nil, false, err
	}
	return c, registered || inBackend, nil
}

// Get returns the registered collection with its current vector count.
func (m *Manager) Get(ctx context.Context, name string) (*Collection, error) {
	entry, err := m.registry.Get(ctx, name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, err
	}
	c := fromEntry(*entry)
	n, err := m.store.Count(ctx, name)
	switch {
	case err == nil:
		c.VectorCount = n
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		c.VectorCount = 0
	default:
		return nil, err
	}
	return &c, nil
}

// Delete drops the backend collection and the registry row, removing the
// collection from the active set. It reports whether anything existed.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return false, err
	}
	unlock, err := m.Lock(ctx, name)
	if err != nil {
		return false, err
	}
	defer unlock()

	inBackend := true
	if err := m.store.DeleteCollection(ctx, name); err != nil {
		if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			return false, fmt.Errorf("deleting collection %s: %w", name, err)
		}
		inBackend = false
	}
	removed, err := m.registry.Remove(ctx, name)
	if err != nil {
		return inBackend, err
	}

	existed := inBackend || removed
	if existed {
		m.logger.Info("collection deleted", zap.String("collection", name))
	}
	return existed, nil
}

// Count returns the number of vectors in the backend collection.
func (m *Manager) Count(ctx context.Context, name string) (int, error) {
	return m.store.Count(ctx, name)
}

// List returns every registered collection in name order with vector counts.
func (m *Manager) List(ctx context.Context) ([]Collection, error) {
	entries, err := m.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Collection, 0, len(entries))
	for _, e := range entries {
		c := fromEntry(e)
		if n, err := m.store.Count(ctx, e.Name); err == nil {
			c.VectorCount = n
		}
		out = append(out, c)
	}
	return out, nil
}

// Active returns the enabled collections in name order. It always reads the
// registry; VectorCount is not populated.
func (m *Manager) Active(ctx context.Context) ([]Collection, error) {
	entries, err := m.registry.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Collection, len(entries))
	for i, e := range entries {
		out[i] = fromEntry(e)
	}
	return out, nil
}

// SetEnabled adds or removes a collection from the active set.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if err := m.registry.SetEnabled(ctx, name, enabled); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return err
	}
	m.logger.Info("collection enabled flag changed",
		zap.String("collection", name),
		zap.Bool("enabled", enabled))
	return nil
}

// Reset empties a collection by dropping and recreating its backend storage.
// The registry row, including its enabled flag, is kept; a missing row is
// created enabled.
//
// Callers must hold Lock(name).
func (m *Manager) Reset(ctx context.Context, name string) (*Collection, error) {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if err := m.store.DeleteCollection(ctx, name); err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil, fmt.Errorf("resetting collection %s: %w", name, err)
	}
	if err := m.store.CreateCollection(ctx, name); err != nil {
		return nil, fmt.Errorf("resetting collection %s: %w", name, err)
	}

	if _, err := m.registry.Get(ctx, name); errors.Is(err, registry.ErrNotFound) {
		if err := m.register(ctx, name); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if err := m.registry.Touch(ctx, name); err != nil {
		return nil, err
	}

	m.logger.Info("collection reset", zap.String("collection", name))
	return m.Get(ctx, name)
}

// Touch records a write to the collection.
func (m *Manager) Touch(ctx context.Context, name string) error {
	return m.registry.Touch(ctx, name)
}

// Sync registers, enabled, every backend collection that has no registry
// row and returns the adopted names in sorted order.
func (m *Manager) Sync(ctx context.Context) ([]string, error) {
	names, err := m.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var adopted []string
	for _, name := range names {
		if vectorstore.ValidateCollectionName(name) != nil {
			continue
		}
		_, err := m.registry.Get(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, registry.ErrNotFound) {
			return adopted, err
		}
		if err := m.register(ctx, name); err != nil {
			if errors.Is(err, registry.ErrAlreadyRegistered) {
				continue
			}
			return adopted, err
		}
		adopted = append(adopted, name)
	}
	if len(adopted) > 0 {
		m.logger.Info("adopted backend collections", zap.Strings("collections", adopted))
	}
	return adopted, nil
}

func (m *Manager) register(ctx context.Context, name string) error {
	return m.registry.Register(ctx, registry.Entry{
		Name:           name,
		StorageLocator: m.store.Locator(name),
		Enabled:        true,
	})
}

func fromEntry(e registry.Entry) Collection {
	return Collection{
		Name:           e.Name,
		StorageLocator: e.StorageLocator,
		Enabled:        e.Enabled,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
