package state

import "context"

// Repository stores at most one snapshot.
type Repository interface {
	// Load retrieves the last saved snapshot.
	// Returns an empty snapshot and nil error if none exists.
	Load(ctx context.Context) (Snapshot, error)

	// Save replaces the stored snapshot atomically.
	Save(ctx context.Context, snap Snapshot) error

	// Clear removes the stored snapshot. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
