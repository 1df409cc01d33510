// Package chatroom tracks which sessions are present in the chat room and
// which aliases are in use. It performs no I/O: callers take snapshots here
// and deliver messages after the registry lock has been released.
package chatroom

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrAliasTaken is returned by Join when another member holds the alias.
	ErrAliasTaken = errors.New("alias already in the room")

	// ErrAlreadyJoined is returned by Join when the session is already a member.
	ErrAlreadyJoined = errors.New("session already in the room")
)

// Member is a session that can be addressed inside the room.
type Member interface {
	// ID returns the server-assigned session identifier.
	ID() uint32

	// Alias returns the alias bound during negotiation.
	Alias() string

	// SendLine delivers one line of text to the member's connection.
	SendLine(text string) error
}

// Registry is the room membership set. It keeps an alias→member view and a
// session→alias view that are only ever changed together under one lock.
type Registry struct {
	mu        sync.Mutex
	byAlias   map[string]Member
	bySession map[uint32]string
}

// NewRegistry returns an empty room.
func NewRegistry() *Registry {
	return &Registry{
		byAlias:   make(map[string]Member),
		bySession: make(map[uint32]string),
	}
}

// Join adds m to the room under m.Alias(). The aliases that were present
// before the join are returned, captured atomically with the insertion, so
// the joining session can be told who is already there.
//
// Parameters:
//   - m: The member to add
//
// Returns:
//   - The sorted aliases present before the join
//   - ErrAlreadyJoined or ErrAliasTaken if the join was refused
func (r *Registry) Join(m Member) ([]string, error) {
	alias := m.Alias()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySession[m.ID()]; ok {
		return nil, ErrAlreadyJoined
	}

	if _, ok := r.byAlias[alias]; ok {
		return nil, ErrAliasTaken
	}

	before := r.aliasesLocked()
	r.byAlias[alias] = m
	r.bySession[m.ID()] = alias
	return before, nil
}

// Leave removes the session from the room. Leaving when not a member is a
// no-op, so racing disconnect paths are harmless.
//
// Returns:
//   - The alias the session held and true if it was a member
func (r *Registry) Leave(id uint32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alias, ok := r.bySession[id]
	if !ok {
		return "", false
	}

	delete(r.bySession, id)
	delete(r.byAlias, alias)
	return alias, true
}

// Resolve looks up the member holding alias.
func (r *Registry) Resolve(alias string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byAlias[alias]
	return m, ok
}

// IsAliasTaken reports whether a room member holds alias.
func (r *Registry) IsAliasTaken(alias string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byAlias[alias]
	return ok
}

// Contains reports whether the session is in the room.
func (r *Registry) Contains(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySession[id]
	return ok
}

// SnapshotMembers returns the aliases currently in the room, sorted.
func (r *Registry) SnapshotMembers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aliasesLocked()
}

// Members returns the current members sorted by alias. The slice is a copy;
// sending to its entries does not hold the registry lock.
func (r *Registry) Members() []Member {
	r.mu.Lock()
	members := make([]Member, 0, len(r.byAlias))
	for _, m := range r.byAlias {
		members = append(members, m)
	}
	r.mu.Unlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].Alias() < members[j].Alias()
	})

	return members
}

// Len returns the number of members.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAlias)
}

// aliasesLocked returns the sorted alias list; caller must hold r.mu.
func (r *Registry) aliasesLocked() []string {
	aliases := make([]string, 0, len(r.byAlias))
	for alias := range r.byAlias {
		aliases = append(aliases, alias)
	}

	sort.Strings(aliases)
	return aliases
}
