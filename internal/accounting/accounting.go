// Package accounting tracks admitted count and per-attribute progress
// against a scenario's quotas. It is the sole authority on game progress;
// policies read it but never own or mutate it directly.
package accounting

import (
	"fmt"

	"github.com/berghain-agent/berghain/internal/scenario"
)

// State is the live admission bookkeeping for one game.
type State struct {
	capacity    int
	minCount    map[scenario.Attribute]int
	admitted    int
	countByAttr map[scenario.Attribute]int
}

// New builds accounting state for a scenario. All counts start at zero.
func New(s scenario.Scenario) *State {
	st := &State{
		capacity:    s.Capacity,
		minCount:    s.MinCounts(),
		countByAttr: make(map[scenario.Attribute]int, len(s.Constraints)),
	}
	for a := range st.minCount {
		st.countByAttr[a] = 0
	}
	return st
}

// Restore rebuilds accounting state with explicit admitted/countByAttr
// values. The reconstructor does not use it: it replays each logged
// accept onto a fresh New state.
func Restore(s scenario.Scenario, admitted int, countByAttr map[scenario.Attribute]int) *State {
	st := New(s)
	st.admitted = admitted
	for a, n := range countByAttr {
		st.countByAttr[a] = n
	}
	return st
}

// Capacity returns the fixed capacity C.
func (s *State) Capacity() int { return s.capacity }

// Admitted returns the number of candidates accepted so far.
func (s *State) Admitted() int { return s.admitted }

// CountByAttr returns the admitted count for attribute a.
func (s *State) CountByAttr(a scenario.Attribute) int { return s.countByAttr[a] }

// Remaining returns R = C - admitted.
func (s *State) Remaining() int { return s.capacity - s.admitted }

// Need returns need[a] = max(0, minCount[a] - countByAttr[a]) for every
// constrained attribute.
func (s *State) Need() map[scenario.Attribute]int {
	need := make(map[scenario.Attribute]int, len(s.minCount))
	for a, min := range s.minCount {
		n := min - s.countByAttr[a]
		if n < 0 {
			n = 0
		}
		need[a] = n
	}
	return need
}

// NeedOf returns need[a] for a single attribute.
func (s *State) NeedOf(a scenario.Attribute) int {
	n := s.minCount[a] - s.countByAttr[a]
	if n < 0 {
		return 0
	}
	return n
}

// Slack returns S, the sum of need[a] over all constrained attributes.
func (s *State) Slack() int {
	var slack int
	for a := range s.minCount {
		slack += s.NeedOf(a)
	}
	return slack
}

// Helpful reports whether the candidate has at least one attribute with
// need[a] > 0, evaluated against the current accounting state.
func (s *State) Helpful(c scenario.Candidate) bool {
	for a := range s.minCount {
		if s.NeedOf(a) > 0 && c.HasAttribute(a) {
			return true
		}
	}
	return false
}

// Complete reports whether capacity has been filled and every constraint met.
func (s *State) Complete() bool {
	return s.admitted == s.capacity && s.Slack() == 0
}

// Accept applies an accept decision for candidate c. It is a programming
// error to call Accept once admitted == capacity; callers must check
// Remaining() first.
func (s *State) Accept(c scenario.Candidate) error {
	if s.admitted >= s.capacity {
		return fmt.Errorf("accounting: capacity overflow: admitted=%d capacity=%d", s.admitted, s.capacity)
	}
	s.admitted++
	for a := range s.minCount {
		if c.HasAttribute(a) {
			s.countByAttr[a]++
		}
	}
	return nil
}

// CheckFeasible reports an error if S > R — infeasibility detected
// locally. It should never occur under the reserve policy; the
// controller calls this defensively after every accept and treats a
// non-nil result as fatal.
func (s *State) CheckFeasible() error {
	if slack, rem := s.Slack(), s.Remaining(); slack > rem {
		return fmt.Errorf("accounting: infeasible: slack=%d > remaining=%d", slack, rem)
	}
	return nil
}

// Snapshot is an immutable copy of accounting state for logging/metrics,
// grounded on the teacher's pattern of passing plain value structs to the
// log and to NATS rather than exposing the live mutable state.
type Snapshot struct {
	Admitted    int
	Rejected    int
	CountByAttr map[scenario.Attribute]int
}

// Snapshot captures the current state plus an externally-tracked rejected
// count (accounting itself does not track rejections — only the controller
// needs that number, and only for logging/metrics purposes).
func (s *State) Snapshot(rejected int) Snapshot {
	cp := make(map[scenario.Attribute]int, len(s.countByAttr))
	for a, n := range s.countByAttr {
		cp[a] = n
	}
	return Snapshot{Admitted: s.admitted, Rejected: rejected, CountByAttr: cp}
}
