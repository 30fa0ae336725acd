package policy

import (
	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// globalEWMAPolicy tracks a single exponentially-weighted helpful rate
// across all attributes.
type globalEWMAPolicy struct {
	acc *accounting.State

	alpha  float64
	margin float64
	warmup int

	phat float64
	n    int
}

func newGlobalEWMAPolicy(acc *accounting.State, p Params) *globalEWMAPolicy {
	prior := p.GlobalPrior
	if prior == 0 {
		prior = 0.5
	}
	alpha := p.Alpha
	if alpha <= 0 {
		alpha = 0.03
	}
	warmup := p.Warmup
	if warmup <= 0 {
		warmup = 100
	}
	return &globalEWMAPolicy{
		acc:    acc,
		alpha:  alpha,
		margin: p.Margin,
		warmup: warmup,
		phat:   prior,
	}
}

func (p *globalEWMAPolicy) updateEstimate(helpful bool) {
	p.phat = (1-p.alpha)*p.phat + p.alpha*boolToFloat(helpful)
	p.phat = clamp01(p.phat)
}

func (p *globalEWMAPolicy) Decide(c scenario.Candidate, acc *accounting.State) scenario.Decision {
	helpful := acc.Helpful(c)
	p.updateEstimate(helpful)

	var d scenario.Decision
	if p.n < p.warmup || helpful {
		d = reserveDecide(acc, helpful)
	} else {
		d = p.relaxedDecide(acc)
	}
	p.n++
	return d
}

func (p *globalEWMAPolicy) relaxedDecide(acc *accounting.State) scenario.Decision {
	s, r := acc.Slack(), acc.Remaining()
	if s >= r {
		return scenario.Reject
	}
	denom := r - 1
	if denom < 1 {
		denom = 1
	}
	threshold := float64(s) / float64(denom) * (1 + p.margin)
	if p.phat >= threshold {
		return scenario.Accept
	}
	return scenario.Reject
}

func (p *globalEWMAPolicy) RecordObservation(c scenario.Candidate, acc *accounting.State) {
	p.updateEstimate(acc.Helpful(c))
	p.n++
}

func (p *globalEWMAPolicy) OnAccept(c scenario.Candidate) {}

func (p *globalEWMAPolicy) RemainingNeeded() map[scenario.Attribute]int {
	return p.acc.Need()
}
