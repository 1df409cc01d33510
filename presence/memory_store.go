package presence

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps presence entries in process memory using go-cache.
// Entries never expire; they are removed by Offline or Clear.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

// Online implements Store.
func (s *MemoryStore) Online(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Set(entry.Alias, entry, cache.NoExpiration)
	return nil
}

// Offline implements Store.
func (s *MemoryStore) Offline(ctx context.Context, alias string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Delete(alias)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := s.cache.Items()
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if entry, ok := item.Object.(Entry); ok {
			entries = append(entries, entry)
		}
	}

	return sortEntries(entries), nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Flush()
	return nil
}
