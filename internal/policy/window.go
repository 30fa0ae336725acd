package policy

import (
	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// windowPolicy estimates the helpful rate from a fixed-capacity ring
// buffer of recent helpfulness observations.
type windowPolicy struct {
	acc *accounting.State

	w      int
	minObs int
	margin float64

	ring   []bool
	pos    int
	filled bool
	n      int
	h      int
}

func newWindowPolicy(acc *accounting.State, p Params) *windowPolicy {
	w := p.WindowSize
	if w <= 0 {
		w = 500
	}
	minObs := p.MinObservations
	if minObs <= 0 {
		minObs = 80
	}
	return &windowPolicy{
		acc:    acc,
		w:      w,
		minObs: minObs,
		margin: p.Margin,
		ring:   make([]bool, w),
	}
}

// update pushes a new helpfulness observation into the ring, evicting the
// oldest entry once the ring is full. This is the estimator update shared
// by Decide and RecordObservation.
func (p *windowPolicy) update(helpful bool) {
	if p.filled && p.ring[p.pos] {
		p.h--
	}
	p.ring[p.pos] = helpful
	if helpful {
		p.h++
	}
	p.pos++
	if p.pos == p.w {
		p.pos = 0
		p.filled = true
	}
	p.n++
}

func (p *windowPolicy) rate() float64 {
	denom := p.n
	if denom > p.w {
		denom = p.w
	}
	if denom == 0 {
		return 0
	}
	return float64(p.h) / float64(denom)
}

func (p *windowPolicy) Decide(c scenario.Candidate, acc *accounting.State) scenario.Decision {
	helpful := acc.Helpful(c)
	p.update(helpful)

	if p.n < p.minObs || helpful {
		return reserveDecide(acc, helpful)
	}

	s, r := acc.Slack(), acc.Remaining()
	if s >= r {
		return scenario.Reject
	}
	denom := r - 1
	if denom < 1 {
		denom = 1
	}
	threshold := float64(s) / float64(denom) * (1 + p.margin)
	if p.rate() >= threshold {
		return scenario.Accept
	}
	return scenario.Reject
}

func (p *windowPolicy) RecordObservation(c scenario.Candidate, acc *accounting.State) {
	p.update(acc.Helpful(c))
}

func (p *windowPolicy) OnAccept(c scenario.Candidate) {}

func (p *windowPolicy) RemainingNeeded() map[scenario.Attribute]int {
	return p.acc.Need()
}
