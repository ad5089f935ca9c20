// Package storage provides the slot stores the capture pipeline persists
// into. A slot is a named string value: the tab-scoped store lives for the
// process (one process models one browser tab), the profile-scoped store
// survives restarts.
package storage

import (
	gocache "github.com/patrickmn/go-cache"
)

// Store is a flat key/value slot store.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// MemoryStore is the tab-scoped store. Values never expire on their own;
// they end with the process, the way sessionStorage ends with the tab.
type MemoryStore struct {
	cache *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}
	value, ok := v.(string)
	return value, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.cache.Set(key, value, gocache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.cache.Delete(key)
	return nil
}
