package storage

import (
	"encoding/json"
	"errors"
)

var (
	// ErrCollision if an item already exists within the store.
	ErrCollision = errors.New("item already exists")

	// ErrNotFound if the requested item, or the job a write refers to, does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidJob if a root job is missing required fields.
	ErrInvalidJob = errors.New("invalid root job")

	// ErrInvalidIncrement if progress is advanced by a non-positive amount.
	ErrInvalidIncrement = errors.New("progress increment must be positive")

	// ErrInvalidResult if a mapping result is not valid JSON.
	ErrInvalidResult = errors.New("mapping result is not valid json")
)

// ValidateResult checks that a mapping result is a JSON document.
func ValidateResult(result []byte) error {
	if !json.Valid(result) {
		return ErrInvalidResult
	}
	return nil
}
