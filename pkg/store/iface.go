// iface.go defines the Interface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface. Code that depends on
// the store (e.g., the dispatcher, the cmd layer) can accept Interface
// instead of *Store, enabling mock injection in tests.
package store

import (
	"time"

	"github.com/daviddao/beacon/pkg/model"
)

// Interface defines the full set of store operations.
// The concrete *Store type implements this interface.
type Interface interface {
	// Close closes the database connection.
	Close() error

	// --- Events ---

	// InsertEvent queues an event. Empty Data is a silent no-op.
	InsertEvent(e *model.Event) error

	// EventCount returns the number of queued events.
	EventCount() (int, error)

	// DatabaseSize returns the cumulative event size in bytes.
	DatabaseSize() (int, error)

	// BatchEvents returns the oldest-first batch within maxBytes,
	// at least one event when the queue is non-empty.
	BatchEvents(maxBytes int) ([]model.Event, error)

	// DeleteEvents removes exactly the listed ids.
	DeleteEvents(ids []string) error

	// DeleteAllEvents purges the queue.
	DeleteAllEvents() error

	// TrimToSize evicts oldest events down to maxBytes.
	TrimToSize(maxBytes int) (int, error)

	// --- Adaptive config ---

	// Limits returns the persisted limits (defaults if unset).
	Limits() (model.Limits, error)

	// SaveLimits persists a renegotiated limit set.
	SaveLimits(l model.Limits) error

	// LastSendTime returns the last successful upload time (zero if none).
	LastSendTime() (time.Time, error)

	// SetLastSendTime persists the last successful upload time.
	SetLastSendTime(t time.Time) error
}

// Compile-time check that *Store implements Interface.
var _ Interface = (*Store)(nil)
