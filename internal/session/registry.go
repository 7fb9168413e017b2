package session

import (
	"errors"
	"sync"
)

// Capacity is the max number of concurrent sessions. user ids travel as a
// single byte on the wire.
const Capacity = 128

var ErrNoCapacity = errors.New("all session ids are taken")

// Conn is whatever a session id points at. a registered Conn may die before
// it is released; Resolve treats it as gone from that moment on.
type Conn interface {
	Alive() bool
}

// Registry hands out the lowest free id in [0, Capacity) and maps ids back to
// their connections.
type Registry[T Conn] struct {
	mu    sync.RWMutex
	slots [Capacity]T
	used  [Capacity]bool
	n     int
}

func NewRegistry[T Conn]() *Registry[T] {
	return &Registry[T]{}
}

func (r *Registry[T]) Allocate(conn T) (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < Capacity; i++ {
		if !r.used[i] {
			r.used[i] = true
			r.slots[i] = conn
			r.n++
			return uint8(i), nil
		}
	}
	return 0, ErrNoCapacity
}

// Release frees id for a future Allocate. releasing a free id does nothing.
func (r *Registry[T]) Release(id uint8) {
	if int(id) >= Capacity {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.used[id] {
		return
	}
	var zero T
	r.used[id] = false
	r.slots[id] = zero
	r.n--
}

// Resolve returns the live connection behind id. false when the id is free or
// its connection has already gone away.
func (r *Registry[T]) Resolve(id uint8) (T, bool) {
	var zero T
	if int(id) >= Capacity {
		return zero, false
	}

	r.mu.RLock()
	conn, used := r.slots[id], r.used[id]
	r.mu.RUnlock()

	if !used || !conn.Alive() {
		return zero, false
	}
	return conn, true
}

// Each calls fn for every live session in id order. fn runs without the
// registry lock held, so it may call back into the registry.
func (r *Registry[T]) Each(fn func(id uint8, conn T)) {
	type entry struct {
		id   uint8
		conn T
	}

	r.mu.RLock()
	entries := make([]entry, 0, r.n)
	for i := 0; i < Capacity; i++ {
		if r.used[i] {
			entries = append(entries, entry{id: uint8(i), conn: r.slots[i]})
		}
	}
	r.mu.RUnlock()

	for _, e := range entries {
		if e.conn.Alive() {
			fn(e.id, e.conn)
		}
	}
}

// Len is the number of allocated ids, dead or alive.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}
