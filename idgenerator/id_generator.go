// Package idgenerator hands out the numeric identifiers the relay uses to tell
// connections apart.
package idgenerator

import "sync/atomic"

// IdGenerator issues increasing uint32 IDs and is safe for concurrent use.
// The zero value is ready and its first ID is 1, so 0 never names a session.
type IdGenerator struct {
	last atomic.Uint32
}

// NewIdGenerator returns a generator whose first Id is after+1.
//
// Parameters:
//   - after: The last ID considered already used
//
// Returns:
//   - A new IdGenerator
func NewIdGenerator(after uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.last.Store(after)
	return gen
}

// Id returns the next ID. After 2^32 calls the sequence wraps.
func (g *IdGenerator) Id() uint32 {
	return g.last.Add(1)
}

// Last returns the most recently issued ID, or the starting value if none has
// been issued yet.
func (g *IdGenerator) Last() uint32 {
	return g.last.Load()
}
