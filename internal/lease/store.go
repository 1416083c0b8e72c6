// Package lease implements the fleet-wide mutual-exclusion primitive.
//
// A lease is a time-bounded exclusive claim on an agent_id. The store is the
// only synchronization point between runners: acquisition is atomic
// check-and-set, release and renewal verify holder identity first, and an
// expired lease is reclaimable by anyone. No other coordination channel is
// trusted.
package lease

import (
	"context"
	"time"
)

// Store is the Lease Store contract. All operations are safe for concurrent
// use from any number of runners.
type Store interface {
	// Acquire atomically claims key for holder with the given TTL. It returns
	// false if an unexpired lease for key already exists.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Release deletes the lease if and only if holder still owns it. It
	// returns false on holder mismatch or when no lease exists, so a runner
	// can never free a lease that was reclaimed after TTL expiry.
	Release(ctx context.Context, key, holder string) (bool, error)

	// Renew re-arms the TTL if and only if holder still owns the lease.
	// Returns false if the lease expired or changed hands.
	Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)

	// Holder returns the current holder of key, or empty string when no
	// unexpired lease exists. Diagnostic only; never used for exclusion.
	Holder(ctx context.Context, key string) (string, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
