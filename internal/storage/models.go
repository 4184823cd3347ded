package storage

import (
	"errors"
	"time"
)

// ErrStorage marks failures of the underlying database. Callers treat it as fatal.
var ErrStorage = errors.New("storage unavailable")

// QueryRecord is one asked question together with the answer that was returned for it.
type QueryRecord struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// timestampLayout is fixed width so that stored values sort lexically in time order.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}
