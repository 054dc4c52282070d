package collections

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/registry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// leaseConfig controls the registry-backed writer lease that serializes
// writers running in different processes.
type leaseConfig struct {
	ttl  time.Duration
	poll time.Duration
}

var defaultLease = leaseConfig{
	ttl:  30 * time.Second,
	poll: 100 * time.Millisecond,
}

const releaseTimeout = 5 * time.Second

func newLeaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// acquireLease polls the registry until this manager holds the lease on name.
// The lease is renewed every ttl/3 until the returned func is called.
func (m *Manager) acquireLease(ctx context.Context, name string) (func(), error) {
	waited := false
	for {
		ok, err := m.registry.AcquireLock(ctx, name, m.owner, m.lease.ttl)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("waiting for writer lock on %s: %w", name, ctxErr)
			}
			return nil, err
		}
		if ok {
			break
		}
		if !waited {
			m.logger.Debug("waiting for writer lock held by another process", zap.String("collection", name))
			waited = true
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for writer lock on %s: %w", name, ctx.Err())
		case <-time.After(m.lease.poll):
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.renewLease(ctx, name, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := m.registry.ReleaseLock(rctx, name, m.owner); err != nil {
				m.logger.Warn("releasing writer lock", zap.String("collection", name), zap.Error(err))
			}
		})
	}, nil
}

func (m *Manager) renewLease(ctx context.Context, name string, stop <-chan struct{}) {
	ticker := time.NewTicker(m.lease.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lease.ttl/3)
			err := m.registry.RenewLock(rctx, name, m.owner, m.lease.ttl)
			cancel()
			if errors.Is(err, registry.ErrLockLost) {
				m.logger.Error("writer lock lost", zap.String("collection", name))
				return
			}
			if err != nil {
				m.logger.Warn("renewing writer lock", zap.String("collection", name), zap.Error(err))
			}
		}
	}
}
