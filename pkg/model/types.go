// Package model defines the core domain types for beacon.
//
// Beacon is a device-side analytics pipeline built around two contracts:
//
//   - Events are durably queued before anything else happens. An event is
//     a small immutable record (type, unique id, serialized payload,
//     session id, timestamp) written to local storage the moment it is
//     recorded, so a crash or a dead network never loses it.
//
//   - The collector renegotiates throughput on every successful upload.
//     Each response carries four limits (total store size, batch size,
//     max wait, min batch interval) that replace the local ones wholesale.
//     Until the first response arrives, conservative defaults apply.
package model

// EventTypeRegion marks region (geofence) transition events. Region
// events are latency-sensitive: the dispatcher uploads them immediately
// instead of waiting out the minimum batch interval.
const EventTypeRegion = "region_event"

// Event is a single analytics occurrence queued for upload.
//
// Data is the fully serialized payload body — the exact string shipped to
// the collector. The pipeline treats it as opaque; an Event with empty
// Data is never admitted to the store.
type Event struct {
	Type      string `json:"type"`
	ID        string `json:"event_id"`
	Data      string `json:"data"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"time"` // epoch millis as decimal text
}

// Size returns the serialized row size of an event in bytes: the sum of
// the byte lengths of its five string fields. All store accounting
// (database size, batch budgets, eviction) uses this measure.
func (e *Event) Size() int {
	return len(e.Type) + len(e.ID) + len(e.Data) + len(e.SessionID) + len(e.Timestamp)
}

// Default limits assumed until the collector's first response.
const (
	DefaultMaxTotalSize     = 5 * 1024 * 1024 // bytes of queued events kept on device
	DefaultMaxBatchSize     = 500 * 1024      // bytes per upload attempt
	DefaultMaxWait          = 600_000         // ms upper bound between sends
	DefaultMinBatchInterval = 60_000          // ms lower bound between sends
)

// Limits is the adaptive config: the locally cached, server-renegotiated
// throughput limits governing batching and scheduling. Sizes are bytes,
// waits are milliseconds. Mutated only by the dispatcher, only from a
// successful upload response, and persisted across restarts.
type Limits struct {
	MaxTotalSize     int `json:"max_total_size"`
	MaxBatchSize     int `json:"max_batch_size"`
	MaxWait          int `json:"max_wait"`
	MinBatchInterval int `json:"min_batch_interval"`
}

// DefaultLimits returns the limit set assumed before the collector has
// ever responded.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalSize:     DefaultMaxTotalSize,
		MaxBatchSize:     DefaultMaxBatchSize,
		MaxWait:          DefaultMaxWait,
		MinBatchInterval: DefaultMinBatchInterval,
	}
}

// UploadResponse is the collector's answer to a batch upload: an
// HTTP-style status plus the renegotiated limits. Absence of a response
// (transport failure) is a distinct outcome, not a response with an
// error status.
type UploadResponse struct {
	Status           int
	MaxTotalSize     int
	MaxBatchSize     int
	MaxWait          int
	MinBatchInterval int
}

// Limits returns the renegotiated limit set carried by the response.
func (r *UploadResponse) Limits() Limits {
	return Limits{
		MaxTotalSize:     r.MaxTotalSize,
		MaxBatchSize:     r.MaxBatchSize,
		MaxWait:          r.MaxWait,
		MinBatchInterval: r.MinBatchInterval,
	}
}
