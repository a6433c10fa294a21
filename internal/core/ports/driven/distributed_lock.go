package driven

import (
	"context"
	"time"
)

// DistributedLock provides named leases shared by every instance.
// It guards scheduled jobs and keeps generation of any one outline or
// paragraph to a single in-flight call.
type DistributedLock interface {
	// Acquire attempts to take a named lease for ttl.
	// Returns false if another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops a lease held by this instance.
	// Safe to call when the lease was lost or has expired.
	Release(ctx context.Context, name string) error

	// Extend pushes out the expiry of a lease held by this instance
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
