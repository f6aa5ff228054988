package harness

import "fmt"

// RunTask executes one registered worker task. A non-nil error or a panic
// becomes exactly one failure entry naming the task; neither propagates.
// The active-worker count is decremented exactly once whatever the outcome,
// which is what makes the orchestrator's worker drain race-free.
func RunTask(s *State, name string, fn func() error) {
	defer s.Mutate(func(d *Data) {
		d.ActiveWorkers--
	})

	defer func() {
		if r := recover(); r != nil {
			s.RecordFailure(fmt.Sprintf("Error thrown in %s: %v", name, r))
		}
	}()

	if err := fn(); err != nil {
		s.RecordFailure(fmt.Sprintf("Error thrown in %s: %v", name, err))
	}
}
