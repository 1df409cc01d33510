package chatroom

import "github.com/cyberinferno/chatrelay/safemap"

// AliasTable records every alias bound by a live session, whether or not the
// session has joined the room. Claims are atomic so two sessions negotiating
// the same alias at once cannot both win.
type AliasTable struct {
	owners *safemap.SafeMap[string, uint32]
}

// NewAliasTable returns an empty table.
func NewAliasTable() *AliasTable {
	return &AliasTable{owners: safemap.NewSafeMap[string, uint32]()}
}

// Claim binds alias to the session if nobody holds it.
//
// Parameters:
//   - alias: The alias to bind
//   - id: The claiming session
//
// Returns:
//   - true if the session now owns alias
func (t *AliasTable) Claim(alias string, id uint32) bool {
	owner, loaded := t.owners.LoadOrStore(alias, id)
	return !loaded || owner == id
}

// Release frees alias if it is held by the session. Releasing an alias held
// by someone else does nothing.
//
// Returns:
//   - true if the alias was released
func (t *AliasTable) Release(alias string, id uint32) bool {
	return t.owners.CompareAndDelete(alias, id)
}

// Owner returns the session holding alias.
func (t *AliasTable) Owner(alias string) (uint32, bool) {
	return t.owners.Load(alias)
}

// Len returns the number of bound aliases.
func (t *AliasTable) Len() int {
	return t.owners.Len()
}
