package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps objects in a map. It backs tests and local runs without
// cloud credentials.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = memObject{data: cp, contentType: contentType}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *MemoryStore) Delete(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.objects, p)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) PublicURL(path string) string {
	return "https://storage.local/" + path
}

func (s *MemoryStore) Check(ctx context.Context) error {
	return nil
}

// Len reports the number of stored objects. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
