package exportstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cardiopredict/riskdash/internal/domain/prediction"
)

// Object is an archived export held by MemoryStorage.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStorage keeps archived exports in memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStorage constructs an empty archive.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]Object)}
}

func (s *MemoryStorage) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := append([]byte(nil), data...)
	s.objects[key] = Object{Data: copied, ContentType: contentType}
	return nil
}

// Keys lists archived keys in lexical order.
func (s *MemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Object returns the archived export under key.
func (s *MemoryStorage) Object(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}

var _ prediction.ExportArchive = (*MemoryStorage)(nil)
