// Package id generates the identifiers used for persisted rows and jobs.
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mutex   sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewRowIDFromTime returns a lexicographically sortable ULID for t. IDs generated
// within the same millisecond are strictly increasing.
func NewRowIDFromTime(t time.Time) (string, error) {
	mutex.Lock()
	defer mutex.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

// NewRowID returns a ULID for the current time.
func NewRowID() (string, error) {
	return NewRowIDFromTime(time.Now())
}

// IsValidRowID reports whether s is a strictly encoded ULID.
func IsValidRowID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// NewJobID returns a random (v4) UUID string for a root job.
func NewJobID() string {
	return uuid.NewString()
}

// IsValidJobID reports whether s parses as a UUID.
func IsValidJobID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
