package store

import "context"

// Substrate is a key-value persistence backend for token values.
type Substrate interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// BatchSubstrate is implemented by substrates that can write several keys in
// one all-or-nothing step. An empty value deletes its key.
type BatchSubstrate interface {
	Substrate
	SetMany(ctx context.Context, kv map[string]string) error
}
