// Package kvstore provides the persisted document store used by the
// coordination layer. Values are JSON documents addressed by string keys;
// readers see nil for absent keys rather than an error.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidJSON is returned by Set when the value is not valid JSON.
// The store never persists a document it could not hand back to json.Unmarshal.
var ErrInvalidJSON = errors.New("kvstore: value is not valid JSON")

// Store is the synchronous key/value contract the scheduler and transaction
// layers are written against. Implementations must be safe for concurrent use.
//
// Get returns (nil, nil) when the key is absent; a non-nil error indicates
// an I/O or storage failure, never a missing key.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// NormalizeKey applies NFC normalization so that logically identical keys
// (for example exercise names typed with combining characters) address the
// same physical document.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}

// checkValue rejects documents the store could not faithfully round-trip.
func checkValue(value json.RawMessage) error {
	if !json.Valid(value) {
		return ErrInvalidJSON
	}
	return nil
}
