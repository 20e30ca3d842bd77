package store

import (
	"slices"
	"sync"

	"github.com/roach88/graphcache/internal/ir"
)

// Source says which stage of the mutation lifecycle produced a change.
type Source string

const (
	SourceServer     Source = "server"
	SourceOptimistic Source = "optimistic"
	SourceReconcile  Source = "reconcile"
	SourceRollback   Source = "rollback"
)

// Change is the notification emitted after a successful Apply. It is scoped
// to the records and connections the patch touched so views can re-render
// only the affected subtrees.
type Change struct {
	Source      Source
	Records     []string
	Connections []ir.ConnKey
}

// TouchesRecord reports whether id is in the change scope.
func (c Change) TouchesRecord(id string) bool {
	return slices.Contains(c.Records, id)
}

// TouchesConnection reports whether key is in the change scope.
func (c Change) TouchesConnection(key ir.ConnKey) bool {
	return slices.Contains(c.Connections, key)
}

// Listener receives change events.
type Listener func(Change)

type subscriptions struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	fn Listener
}

func (s *subscriptions) add(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscription) bool { return sub.id == id })
	}
}

func (s *subscriptions) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listener, len(s.subs))
	for i, sub := range s.subs {
		out[i] = sub.fn
	}
	return out
}

// delivery queues change events while a Hold is active and delivers them, in
// apply order, once the last hold is released. Only one goroutine drains the
// queue at a time; events emitted by a listener are delivered after it
// returns.
type delivery struct {
	mu       sync.Mutex
	holds    int
	queue    []Change
	draining bool
}

// push queues c and reports whether the caller must drain.
func (d *delivery) push(c Change) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, c)
	return d.claim()
}

func (d *delivery) hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holds++
}

// release drops one hold and reports whether the caller must drain.
func (d *delivery) release() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holds--
	return d.claim()
}

// CRITICAL: caller holds d.mu.
func (d *delivery) claim() bool {
	if d.holds > 0 || d.draining || len(d.queue) == 0 {
		return false
	}
	d.draining = true
	return true
}

// next pops the oldest event. It returns false, and gives up the drain,
// when the queue is empty or a new hold started.
func (d *delivery) next() (Change, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.holds > 0 || len(d.queue) == 0 {
		d.draining = false
		return Change{}, false
	}
	c := d.queue[0]
	d.queue[0] = Change{}
	d.queue = d.queue[1:]
	return c, true
}

// scope accumulates the touched set of one Apply in first-touched order.
type scope struct {
	records []string
	conns   []ir.ConnKey
}

func (s *scope) record(id string) {
	if id != "" && !slices.Contains(s.records, id) {
		s.records = append(s.records, id)
	}
}

func (s *scope) conn(k ir.ConnKey) {
	if !slices.Contains(s.conns, k) {
		s.conns = append(s.conns, k)
	}
}
