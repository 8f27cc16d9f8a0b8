package model

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// EncodePayload serializes a set of payload fields into the Data body of
// an event. The pipeline never looks inside Data again; this is the one
// place beacon produces it rather than carrying it through.
func EncodePayload(fields map[string]any) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// MillisString formats a time as epoch milliseconds in decimal text, the
// wire format for event timestamps.
func MillisString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
