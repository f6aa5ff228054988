// Package harness verifies message delivery between two peers: it runs a
// sending peer's workers against a receiving peer's listeners over a real
// transport and renders the shared outcome into a pass/fail verdict.
package harness

import (
	"sync"
	"time"

	"parcelnet/internal/proto"
)

// Parcel is the unit test payload exchanged between the peers.
type Parcel = proto.Parcel

// Data is the record shared by every concurrently running task of one run.
type Data struct {
	// Failures grows only; each wrapped task appends at most one entry.
	Failures []string
	// Expected shrinks only; receivers remove parcels as they arrive.
	Expected map[Parcel]struct{}
	// ActiveWorkers counts registered worker tasks that have not finished.
	ActiveWorkers int
}

// State owns the shared record. Every mutation goes through Mutate, which is
// the single atomic read-modify-write entry point; compound updates ("remove
// this parcel and check emptiness") are therefore observed as one step.
// Every mutation wakes blocked waiters so they can re-check their predicate.
type State struct {
	mu   sync.Mutex
	cond *sync.Cond
	data Data
}

func NewState() *State {
	s := &State{data: Data{Expected: make(map[Parcel]struct{})}}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Mutate applies fn atomically and broadcasts to waiters.
func (s *State) Mutate(fn func(*Data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
	s.cond.Broadcast()
}

// RecordFailure appends one failure description.
func (s *State) RecordFailure(desc string) {
	s.Mutate(func(d *Data) {
		d.Failures = append(d.Failures, desc)
	})
}

// Expect seeds the set of parcels the run must deliver.
func (s *State) Expect(parcels ...Parcel) {
	s.Mutate(func(d *Data) {
		for _, p := range parcels {
			d.Expected[p] = struct{}{}
		}
	})
}

// MarkDelivered removes p from the expected set, reporting whether it was
// still outstanding.
func (s *State) MarkDelivered(p Parcel) bool {
	var was bool
	s.Mutate(func(d *Data) {
		_, was = d.Expected[p]
		delete(d.Expected, p)
	})
	return was
}

// AddWorkers registers n worker tasks. Each must be finished exactly once by
// RunTask's deferred decrement.
func (s *State) AddWorkers(n int) {
	s.Mutate(func(d *Data) {
		d.ActiveWorkers += n
	})
}

// Wait blocks until pred holds. pred must be a pure read over the data.
func (s *State) Wait(pred func(Data) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !pred(s.data) {
		s.cond.Wait()
	}
}

// WaitTimeout blocks until pred holds or timeout elapses, whichever first,
// and reports whether pred held. A timeout is not an error: the caller
// decides what the post-timeout state means. The timer fires under the same
// lock the predicate is checked under, so a wakeup never observes a
// half-evaluated check.
func (s *State) WaitTimeout(timeout time.Duration, pred func(Data) bool) bool {
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		timedOut = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if pred(s.data) {
			return true
		}
		if timedOut {
			return false
		}
		s.cond.Wait()
	}
}

// Snapshot returns a deep copy of the current data.
func (s *State) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

func (d Data) clone() Data {
	out := Data{
		Failures:      append([]string(nil), d.Failures...),
		Expected:      make(map[Parcel]struct{}, len(d.Expected)),
		ActiveWorkers: d.ActiveWorkers,
	}
	for p := range d.Expected {
		out.Expected[p] = struct{}{}
	}
	return out
}
