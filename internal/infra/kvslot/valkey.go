package kvslot

import (
	"context"

	"github.com/valkey-io/valkey-go"
)

// ValkeySlot stores values as plain string keys in a Valkey-compatible server.
type ValkeySlot struct {
	client valkey.Client
	prefix string
}

// NewValkeySlot wraps an existing client. Keys are namespaced with prefix.
func NewValkeySlot(client valkey.Client, prefix string) *ValkeySlot {
	if prefix == "" {
		prefix = "riskdash"
	}
	return &ValkeySlot{client: client, prefix: prefix}
}

func (s *ValkeySlot) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *ValkeySlot) Set(ctx context.Context, key, value string) error {
	return s.client.Do(ctx, s.client.B().Set().Key(s.key(key)).Value(value).Build()).Error()
}

func (s *ValkeySlot) Remove(ctx context.Context, key string) error {
	return s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error()
}

func (s *ValkeySlot) key(key string) string {
	return s.prefix + ":" + key
}
