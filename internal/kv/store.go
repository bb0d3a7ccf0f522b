// Package kv is the key-value collaborator the session registry and
// attendance ledger persist through. Values are opaque JSON blobs; a missing
// key reads back as (nil, nil).
package kv

import "context"

// Store is the minimal surface the core needs from persistence.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
