package policy

import (
	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// reservePolicy is the feasibility-preserving baseline: it never admits
// a non-helpful candidate once doing so would make the remaining slack
// exceed the remaining seats.
type reservePolicy struct {
	acc *accounting.State
}

func newReservePolicy(acc *accounting.State) *reservePolicy {
	return &reservePolicy{acc: acc}
}

func (p *reservePolicy) Decide(c scenario.Candidate, acc *accounting.State) scenario.Decision {
	return reserveDecide(acc, acc.Helpful(c))
}

func (p *reservePolicy) RecordObservation(c scenario.Candidate, acc *accounting.State) {
	// Pure reserve has no streaming state to update.
}

func (p *reservePolicy) OnAccept(c scenario.Candidate) {}

func (p *reservePolicy) RemainingNeeded() map[scenario.Attribute]int {
	return p.acc.Need()
}
