package harness

import (
	"fmt"
	"sort"
	"strings"
)

// Verdict is the pass/fail classification of the shared state at run end.
type Verdict struct {
	// Failures in insertion order.
	Failures []string
	// Missing lists expected parcels that never arrived, ordered by ID.
	Missing []Parcel
}

// Verdict snapshots the state and classifies it: a pass needs both an empty
// failure list and an empty expected set.
func (s *State) Verdict() Verdict {
	snap := s.Snapshot()

	v := Verdict{Failures: snap.Failures}
	for p := range snap.Expected {
		v.Missing = append(v.Missing, p)
	}
	sort.Slice(v.Missing, func(i, j int) bool {
		return v.Missing[i].ID < v.Missing[j].ID
	})
	return v
}

func (v Verdict) Passed() bool {
	return len(v.Failures) == 0 && len(v.Missing) == 0
}

func (v Verdict) String() string {
	if v.Passed() {
		return "pass"
	}

	var b strings.Builder
	b.WriteString("fail")
	for _, f := range v.Failures {
		fmt.Fprintf(&b, "\n  failure: %s", f)
	}
	if len(v.Missing) > 0 {
		fmt.Fprintf(&b, "\n  undelivered (%d):", len(v.Missing))
		for _, p := range v.Missing {
			fmt.Fprintf(&b, " {id=%d process=%v}", p.ID, p.ShouldProcess)
		}
	}
	return b.String()
}
