// Package reduxstore is a small Redux-style state container that can serve
// as the local store of a firesync.Adapter.
package reduxstore

import (
	"sync"

	"github.com/c0deZ3R0/firesync"
)

// Reducer returns the state that results from applying action to state. It
// must not modify state in place.
type Reducer[S any] func(state S, action firesync.Action) S

// Listener is called after every dispatch with the new state.
type Listener[S any] func(state S, action firesync.Action)

// Store holds state of type S and applies dispatched actions to it.
type Store[S any] struct {
	reducer Reducer[S]

	mu        sync.Mutex
	state     S
	listeners map[int]Listener[S]
	nextID    int
}

var _ firesync.Dispatcher = (*Store[int])(nil)

// New returns a store holding initial.
func New[S any](reducer Reducer[S], initial S) *Store[S] {
	return &Store[S]{
		reducer:   reducer,
		state:     initial,
		listeners: make(map[int]Listener[S]),
	}
}

// Dispatch applies action synchronously, then notifies listeners outside the
// lock so they may dispatch again.
func (s *Store[S]) Dispatch(action firesync.Action) {
	s.mu.Lock()
	s.state = s.reducer(s.state, action)
	state := s.state
	listeners := make([]Listener[S], 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(state, action)
	}
}

// State returns the current state.
func (s *Store[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers l and returns a function that removes it. Listeners
// are called in registration order.
func (s *Store[S]) Subscribe(l Listener[S]) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// CountByType is a reducer that tallies actions by their type. Actions
// without a string type are counted under "".
func CountByType(state map[string]int, action firesync.Action) map[string]int {
	next := make(map[string]int, len(state)+1)
	for k, v := range state {
		next[k] = v
	}
	next[action.Type()]++
	return next
}
