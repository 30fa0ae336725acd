// Package policy implements the admission-decision family: a conservative
// quota-reserving baseline and three relaxed streaming-estimator variants
// that admit more non-helpful candidates when future arrivals look
// favorable. The family is a closed set of variants (no external extension
// point) dispatched by Kind, mirroring the teacher's weighted-factor
// Scorer in shape: construct once with parameters, then call repeatedly
// with per-candidate inputs.
package policy

import (
	"fmt"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// Policy is the uniform decide/observe/update contract every variant
// implements. Decide is not a pure function of its arguments: relaxed
// policies mutate streaming estimates before returning a verdict, so
// callers must invoke Decide exactly once per candidate and never memoize
// its result.
type Policy interface {
	// Decide consults (and may update) the policy's internal state and
	// returns the admission verdict for candidate c.
	Decide(c scenario.Candidate, acc *accounting.State) scenario.Decision

	// RecordObservation performs the same streaming-estimator update as
	// Decide without rendering a decision. Used by the reconstructor to
	// replay history without re-deciding already-resolved candidates.
	//
	// It takes the full candidate rather than a bare helpful flag: the
	// per-attribute EWMA variant needs each attribute bit, not just
	// aggregate helpfulness. acc is the accounting state as of immediately
	// before this candidate, the same state Decide would have seen live.
	RecordObservation(c scenario.Candidate, acc *accounting.State)

	// OnAccept is called after an accept has been applied to accounting.
	// Most policies have nothing to do here since accounting already
	// reflects the change.
	OnAccept(c scenario.Candidate)

	// RemainingNeeded mirrors accounting's need map.
	RemainingNeeded() map[scenario.Attribute]int
}

// Kind identifies one of the four closed policy variants.
type Kind string

const (
	KindReserve    Kind = "reserve"
	KindWindow     Kind = "window"
	KindGlobalEWMA Kind = "ewma"
	KindAttrEWMA   Kind = "attr-ewma"
)

// New constructs the policy variant named by kind over the given scenario
// and accounting state.
func New(kind Kind, sc scenario.Scenario, acc *accounting.State, p Params) (Policy, error) {
	switch kind {
	case KindReserve:
		return newReservePolicy(acc), nil
	case KindWindow:
		return newWindowPolicy(acc, p), nil
	case KindGlobalEWMA:
		return newGlobalEWMAPolicy(acc, p), nil
	case KindAttrEWMA:
		return newAttrEWMAPolicy(sc, acc, p), nil
	default:
		return nil, fmt.Errorf("policy: unknown kind %q", kind)
	}
}

// reserveDecide is the feasibility-preserving fallback rule every relaxed
// policy falls back to during warmup and whenever a candidate is helpful.
func reserveDecide(acc *accounting.State, helpful bool) scenario.Decision {
	if helpful {
		return scenario.Accept
	}
	if acc.Slack() < acc.Remaining() {
		return scenario.Accept
	}
	return scenario.Reject
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
