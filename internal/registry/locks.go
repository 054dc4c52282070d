package registry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockLost indicates the lease expired and another owner took it.
var ErrLockLost = errors.New("writer lock lost")

// AcquireLock takes the writer lease for name on behalf of owner. It reports
// false when another owner holds an unexpired lease. Expired leases are taken
// over, so a crashed process blocks writers for at most ttl.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO writer_locks (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE writer_locks.expires_at <= ?
	`, name, owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("acquiring writer lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RenewLock extends owner's lease on name by ttl.
func (s *Store) RenewLock(ctx context.Context, name, owner string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE writer_locks SET expires_at = ? WHERE name = ? AND owner = ?
	`, s.now().Add(ttl).UnixNano(), name, owner)
	if err != nil {
		return fmt.Errorf("renewing writer lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, name)
	}
	return nil
}

// ReleaseLock drops owner's lease on name. Releasing a lease owner no longer
// holds is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM writer_locks WHERE name = ? AND owner = ?
	`, name, owner); err != nil {
		return fmt.Errorf("releasing writer lock %s: %w", name, err)
	}
	return nil
}
