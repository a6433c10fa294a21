package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*LeaseLock)(nil)

// LeaseLock implements DistributedLock with rows in the leases table.
//
// A lease is taken by inserting its row, or by overwriting a row whose
// expiry has passed. Unlike session advisory locks it survives pooled
// connections being recycled and honors the TTL, so a crashed holder
// frees the lease on expiry. Redis locks remain the preferred backend.
type LeaseLock struct {
	db      *DB
	ownerID string
}

// NewLeaseLock creates a lease lock with a random owner token
func NewLeaseLock(db *DB) *LeaseLock {
	return &LeaseLock{db: db, ownerID: uuid.NewString()}
}

// Acquire takes the named lease for ttl unless a live holder has it
func (l *LeaseLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO leases (name, owner, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE leases.expires_at < NOW()
		RETURNING owner
	`, name, l.ownerID, ttl.Milliseconds()).Scan(&owner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return owner == l.ownerID, nil
}

// Release drops the lease if this instance holds it
func (l *LeaseLock) Release(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM leases WHERE name = $1 AND owner = $2`, name, l.ownerID)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Extend pushes out the expiry of a live lease held by this instance
func (l *LeaseLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE leases
		SET expires_at = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE name = $1 AND owner = $2 AND expires_at >= NOW()
	`, name, l.ownerID, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lease %s not held by this instance", name)
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy
func (l *LeaseLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
