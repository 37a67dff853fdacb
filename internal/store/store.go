// Package store holds the current immutable state snapshot and applies
// actions to it.
//
// Every action builds a new *model.State. Sub-states an action does not touch
// are carried over by pointer, which is what lets the selectors' memo cells
// recognize unchanged inputs. Nothing reachable from a published snapshot is
// ever mutated.
package store

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tobert/traceview/internal/model"
)

// Store is the single owner of state snapshots. It is safe for concurrent
// use; readers always see a complete snapshot.
type Store struct {
	mu    sync.RWMutex
	state *model.State

	// Generation counter for change detection.
	generation atomic.Uint64

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64
}

// New returns a store holding model.NewState().
func New() *Store {
	return NewWithState(model.NewState())
}

// NewWithState returns a store starting from an existing snapshot.
func NewWithState(state *model.State) *Store {
	return &Store{
		state:       state,
		subscribers: make(map[uint64]chan struct{}),
	}
}

// State returns the current snapshot. Callers must treat it as read-only.
func (s *Store) State() *model.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generation returns a counter that increases with every applied action.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel receives a signal (non-blocking) after every action.
// The channel is buffered with capacity 1 to coalesce rapid updates.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	id := s.nextSubscriberID
	s.nextSubscriberID++

	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	unsubscribe := func() {
		s.subscriberMu.Lock()
		defer s.subscriberMu.Unlock()
		delete(s.subscribers, id)
	}
	return ch, unsubscribe
}

func (s *Store) notifySubscribers() {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Pending notification already queued.
		}
	}
}

// update swaps in reduce(current). Returning the input unchanged is a no-op
// that neither bumps the generation nor notifies.
func (s *Store) update(reduce func(*model.State) *model.State) *model.State {
	s.mu.Lock()
	prev := s.state
	next := reduce(prev)
	s.state = next
	s.mu.Unlock()

	if next != prev {
		s.generation.Add(1)
		s.notifySubscribers()
	}
	return next
}

// copyTraces returns a trace sub-state that can be modified without affecting
// cur. The record map is cloned; records themselves are replaced, never
// edited.
func copyTraces(cur *model.TraceState) *model.TraceState {
	next := *cur
	next.Traces = maps.Clone(cur.Traces)
	if next.Traces == nil {
		next.Traces = make(map[string]*model.TraceRecord)
	}
	return &next
}

func copyServices(cur *model.ServicesState) *model.ServicesState {
	next := *cur
	next.OperationsForService = maps.Clone(cur.OperationsForService)
	if next.OperationsForService == nil {
		next.OperationsForService = make(map[string][]string)
	}
	return &next
}

func withTrace(st *model.State, ts *model.TraceState) *model.State {
	next := *st
	next.Trace = ts
	return &next
}

func withCohort(st *model.State, ids []string) *model.State {
	next := *st
	next.TraceDiff = &model.CohortState{Cohort: ids}
	return &next
}

func withServices(st *model.State, ss *model.ServicesState) *model.State {
	next := *st
	next.Services = ss
	return &next
}

func withDependencies(st *model.State, ds *model.DependenciesState) *model.State {
	next := *st
	next.Dependencies = ds
	return &next
}

func cloneIDs(ids []string) []string {
	return slices.Clip(slices.Clone(ids))
}
