// Package kvslot provides small string key/value slots used as the
// fallback persistence area when the primary store is unavailable.
package kvslot

import "context"

// Slot is a tiny string keyed store. Values are opaque JSON documents.
type Slot interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
