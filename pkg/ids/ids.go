// Package ids builds immutable associated-identifier maps: device or
// custom identifiers (advertising id, CRM id, install id) that ride along
// with analytics events as opaque payload data.
//
// Validation is deliberately minimal — keys and values must be non-empty
// and at most MaxLength bytes, and a map holds at most MaxIDs entries.
// Semantics of individual identifiers are the collector's business.
package ids

import (
	"fmt"

	json "github.com/goccy/go-json"
)

const (
	// MaxLength is the maximum byte length for an identifier key or value.
	MaxLength = 255

	// MaxIDs is the maximum number of identifiers in one map.
	MaxIDs = 100

	// advertisingIDKey is the reserved key for the device advertising id.
	advertisingIDKey = "com.daviddao.beacon.adid"
)

// AssociatedIdentifiers is an immutable key→value identifier map.
type AssociatedIdentifiers struct {
	ids map[string]string
}

// IDs returns a copy of the identifier map.
func (a AssociatedIdentifiers) IDs() map[string]string {
	out := make(map[string]string, len(a.ids))
	for k, v := range a.ids {
		out[k] = v
	}
	return out
}

// Payload serializes the identifiers as a JSON object, suitable for use
// as event payload data.
func (a AssociatedIdentifiers) Payload() (string, error) {
	b, err := json.Marshal(a.ids)
	if err != nil {
		return "", fmt.Errorf("encode identifiers: %w", err)
	}
	return string(b), nil
}

// Builder accumulates identifiers before validation. The zero value is
// ready to use.
type Builder struct {
	ids map[string]string
}

func (b *Builder) set(key, value string) *Builder {
	if b.ids == nil {
		b.ids = make(map[string]string)
	}
	b.ids[key] = value
	return b
}

// SetAdvertisingID sets the device advertising identifier.
func (b *Builder) SetAdvertisingID(adID string) *Builder {
	return b.set(advertisingIDKey, adID)
}

// SetIdentifier sets a custom identifier.
func (b *Builder) SetIdentifier(key, value string) *Builder {
	return b.set(key, value)
}

// Create validates the accumulated identifiers and returns the immutable
// map. Every key and value must be non-empty and at most MaxLength
// bytes, and the map may hold at most MaxIDs entries.
func (b *Builder) Create() (AssociatedIdentifiers, error) {
	if len(b.ids) > MaxIDs {
		return AssociatedIdentifiers{}, fmt.Errorf("too many identifiers: %d exceeds limit of %d", len(b.ids), MaxIDs)
	}
	out := make(map[string]string, len(b.ids))
	for k, v := range b.ids {
		if k == "" || len(k) > MaxLength {
			return AssociatedIdentifiers{}, fmt.Errorf("identifier key %q must be 1-%d bytes", k, MaxLength)
		}
		if v == "" || len(v) > MaxLength {
			return AssociatedIdentifiers{}, fmt.Errorf("identifier %q value must be 1-%d bytes", k, MaxLength)
		}
		out[k] = v
	}
	return AssociatedIdentifiers{ids: out}, nil
}
