package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: not found")

// Store is the agent's persistence interface. The only durable state is
// the pseudonymous user-id cache; everything else lives and dies with a
// flow.
type Store interface {
	UserIDs() UserIDs

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

type UserIDs interface {
	// Ensure returns the stable pseudonym for a card, creating it on
	// first sight. The key is derived from the ICCSN by hashing; the
	// raw ICCSN is never stored.
	Ensure(ctx context.Context, iccsn string) (string, error)
}
