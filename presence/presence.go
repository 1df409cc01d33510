// Package presence mirrors the chat room membership into a store that
// external observers can read. The relay only writes to it; routing never
// depends on what a Store returns.
package presence

import (
	"context"
	"sort"
	"time"
)

// Entry describes one alias currently in the room.
type Entry struct {
	Alias      string    `json:"alias"`
	SessionID  uint32    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Store records which aliases are in the room. Implementations must be safe
// for concurrent use.
type Store interface {
	// Online records that entry.Alias joined the room, replacing any previous
	// entry for the alias.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - entry: The member that joined
	//
	// Returns:
	//   - An error if the store could not be updated
	Online(ctx context.Context, entry Entry) error

	// Offline removes alias. Removing an unknown alias is not an error.
	Offline(ctx context.Context, alias string) error

	// List returns every entry sorted by alias.
	List(ctx context.Context) ([]Entry, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

func sortEntries(entries []Entry) []Entry {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Alias < entries[j].Alias
	})

	return entries
}

// NopStore discards all updates.
type NopStore struct{}

// Online implements Store.
func (NopStore) Online(context.Context, Entry) error { return nil }

// Offline implements Store.
func (NopStore) Offline(context.Context, string) error { return nil }

// List implements Store.
func (NopStore) List(context.Context) ([]Entry, error) { return nil, nil }

// Clear implements Store.
func (NopStore) Clear(context.Context) error { return nil }
