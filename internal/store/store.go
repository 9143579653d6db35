// Package store defines the persistence contract shared by every
// resource backend and its common errors. Concrete backends live in the
// memory, file, rollover and dbstore subpackages.
package store

import (
	"context"
	"errors"

	"github.com/fghso/camps-dct/internal/resource"
)

// ErrDuplicateResourceID is returned by Insert when uniqueResourceId is
// enabled, onDuplicateUpdate is disabled, and the ID already exists.
var ErrDuplicateResourceID = errors.New("store: duplicate resource id")

// ErrAborted is returned by every operation on a file-backed store once a
// background dump has failed, so the store fails fast instead of
// silently losing further updates.
var ErrAborted = errors.New("store: aborted after a failed durable dump")

// NewResource is one entry of an Insert bulk-append call: a user-supplied
// ID plus its info map.
type NewResource struct {
	ID   any
	Info map[string]any
}

// Store is the persistence contract every backend (memory, file, rollover,
// database) satisfies. Select/Update/Insert/Count/Reset operate on the
// shared inventory; Setup/Finish bracket one connection's use of the
// store, Shutdown tears the store down for the whole process.
type Store interface {
	// Setup performs per-connection initialization (e.g. opening a
	// dedicated database connection for this handler goroutine).
	Setup(ctx context.Context) error

	// Select atomically leases one AVAILABLE resource, transitioning it
	// to IN_PROGRESS before returning. It returns a zero Record with a
	// nil Key when no AVAILABLE resource exists.
	Select(ctx context.Context) (resource.Record, error)

	// Update sets the resource's new status. If info is non-empty it is
	// shallow-merged into the resource's existing info (collisions are
	// overwritten by the new values); an empty info leaves it untouched.
	Update(ctx context.Context, key any, status resource.Status, info map[string]any) error

	// Insert bulk-appends new resources. With uniqueResourceId enabled
	// and onDuplicateUpdate disabled, any duplicate ID fails the whole
	// call with ErrDuplicateResourceID; with onDuplicateUpdate enabled,
	// duplicates have their info merged into the existing record instead.
	Insert(ctx context.Context, resources []NewResource) error

	// Count returns the six-way status breakdown of the inventory.
	Count(ctx context.Context) (resource.Counts, error)

	// Reset moves every resource currently at status back to AVAILABLE
	// and returns how many were affected.
	Reset(ctx context.Context, status resource.Status) (int, error)

	// Finish releases per-connection resources acquired by Setup.
	Finish(ctx context.Context) error

	// Shutdown releases process-wide resources. Called once, by the
	// coordinator, during the shutdown sequence.
	Shutdown(ctx context.Context) error
}
