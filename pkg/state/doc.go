// Package state persists the relay's suspend snapshot.
//
// When a relay is suspended it records which requests were forwarded but
// not yet answered, and which were still queued, so that a resumed relay
// can keep tracking them. Snapshots are short-lived: a snapshot older
// than its TTL is treated as absent.
//
// # Usage
//
//	repo := state.NewFileRepository("/path/to/state/dir")
//
//	// On suspend
//	if err := repo.Save(ctx, snap); err != nil {
//	    return err
//	}
//
//	// On resume
//	snap, err := repo.Load(ctx)
//	if err != nil {
//	    return err
//	}
//	if snap.Fresh(time.Now(), 5*time.Minute) {
//	    // restore snap.InFlight and snap.Queued
//	}
//	_ = repo.Clear(ctx)
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package state
