// Package safemap provides a type-safe concurrent map built on sync.Map.
// Besides plain loads and stores it exposes the atomic claim operations
// (LoadOrStore, CompareAndDelete) that ownership tables such as the alias
// table need.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// Keys must be comparable; values must be comparable too so that
// CompareAndDelete can check ownership.
//
// SafeMap must not be copied after first use.
type SafeMap[K comparable, V comparable] struct {
	m sync.Map
}

// NewSafeMap returns an empty SafeMap ready for use.
func NewSafeMap[K comparable, V comparable]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for key k, overwriting any existing value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value for key k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// LoadOrStore stores v under k unless k is already present. It returns the
// value now held for k and whether it was already there. The check and the
// store happen atomically.
//
// Parameters:
//   - k: The key to claim
//   - v: The value to store if k is absent
//
// Returns:
//   - The existing value if loaded, otherwise v
//   - true if the value was loaded, false if v was stored
func (m *SafeMap[K, V]) LoadOrStore(k K, v V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(k, v)
	return actual.(V), loaded
}

// Delete removes the entry for key k. Deleting a missing key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// CompareAndDelete removes the entry for k only if it currently holds old.
//
// Returns:
//   - true if the entry was removed
func (m *SafeMap[K, V]) CompareAndDelete(k K, old V) bool {
	return m.m.CompareAndDelete(k, old)
}

// Range calls f for each entry until f returns false. The map may be
// modified concurrently; Range does not observe a consistent snapshot.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len returns the number of entries. It is O(n).
func (m *SafeMap[K, V]) Len() int {
	length := 0
	m.Range(func(K, V) bool {
		length++
		return true
	})

	return length
}

// Has reports whether key k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, found := m.m.Load(k)
	return found
}
