package policy

import (
	"sort"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// attrEWMAPolicy tracks a per-attribute helpful-rate estimate, optionally
// inflated by correlated attributes, and optionally gates its coverage
// check to only the top-K most at-risk attributes.
type attrEWMAPolicy struct {
	acc   *accounting.State
	attrs []scenario.Attribute // constrained attributes, declaration order

	correlations map[scenario.Attribute]map[scenario.Attribute]float64

	alpha    float64
	margin   float64
	warmup   int
	corrAware bool
	corrBeta float64
	gateTopK int

	phat map[scenario.Attribute]float64
	n    int
}

func newAttrEWMAPolicy(sc scenario.Scenario, acc *accounting.State, p Params) *attrEWMAPolicy {
	alpha := p.Alpha
	if alpha <= 0 {
		alpha = 0.04
	}
	warmup := p.Warmup
	if warmup <= 0 {
		warmup = 120
	}
	corrBeta := p.CorrBeta
	if corrBeta == 0 {
		corrBeta = 0.25
	}

	attrs := sc.Attributes()
	phat := make(map[scenario.Attribute]float64, len(attrs))
	for _, a := range attrs {
		if v, ok := sc.RelativeFrequencies[a]; ok {
			phat[a] = clamp01(v)
		} else {
			phat[a] = 0.5
		}
	}

	corr := make(map[scenario.Attribute]map[scenario.Attribute]float64, len(sc.Correlations))
	for a, row := range sc.Correlations {
		r := make(map[scenario.Attribute]float64, len(row))
		for b, v := range row {
			r[b] = v
		}
		corr[a] = r
	}

	return &attrEWMAPolicy{
		acc:          acc,
		attrs:        attrs,
		correlations: corr,
		alpha:        alpha,
		margin:       p.Margin,
		warmup:       warmup,
		corrAware:    p.CorrAware,
		corrBeta:     corrBeta,
		gateTopK:     p.GateTopK,
		phat:         phat,
	}
}

// updateEstimates updates p̂[a] for every constrained attribute from
// whether the candidate carries it.
func (p *attrEWMAPolicy) updateEstimates(c scenario.Candidate) {
	for _, a := range p.attrs {
		p.phat[a] = clamp01((1-p.alpha)*p.phat[a] + p.alpha*boolToFloat(c.HasAttribute(a)))
	}
}

func (p *attrEWMAPolicy) Decide(c scenario.Candidate, acc *accounting.State) scenario.Decision {
	p.updateEstimates(c)

	helpful := acc.Helpful(c)
	need := acc.Need()
	s, r := acc.Slack(), acc.Remaining()

	var d scenario.Decision
	switch {
	case helpful:
		d = reserveDecide(acc, true)
	case p.n < p.warmup || s >= r:
		d = reserveDecide(acc, false)
	default:
		d = p.gatedDecide(acc, need, r)
	}
	p.n++
	return d
}

// effectiveRate computes q[a], the per-attribute helpful rate used for
// the gating check, optionally inflated by correlated attributes still
// under quota.
func (p *attrEWMAPolicy) effectiveRate(a scenario.Attribute, need map[scenario.Attribute]int) float64 {
	if !p.corrAware {
		return p.phat[a]
	}
	var sum float64
	for _, b := range p.attrs {
		if b == a || need[b] <= 0 {
			continue
		}
		sum += p.correlations[a][b] * p.phat[b]
	}
	if sum < 0 {
		sum = 0
	}
	return clamp01(p.phat[a] + p.corrBeta*sum)
}

// gatedDecide computes q[a], picks the gating set G, and accepts iff
// every attribute in G is still on track to meet its quota from the
// remaining seats.
func (p *attrEWMAPolicy) gatedDecide(acc *accounting.State, need map[scenario.Attribute]int, r int) scenario.Decision {
	var under []scenario.Attribute
	for _, a := range p.attrs {
		if need[a] > 0 {
			under = append(under, a)
		}
	}

	q := make(map[scenario.Attribute]float64, len(under))
	for _, a := range under {
		q[a] = p.effectiveRate(a, need)
	}

	gate := under
	if p.gateTopK > 0 && len(under) > p.gateTopK {
		denom := r - 1
		if denom < 0 {
			denom = 0
		}
		type scored struct {
			a        scenario.Attribute
			coverage float64
		}
		scoredAttrs := make([]scored, len(under))
		for i, a := range under {
			scoredAttrs[i] = scored{a: a, coverage: q[a] * float64(denom) / float64(need[a])}
		}
		sort.Slice(scoredAttrs, func(i, j int) bool {
			if scoredAttrs[i].coverage != scoredAttrs[j].coverage {
				return scoredAttrs[i].coverage < scoredAttrs[j].coverage
			}
			if q[scoredAttrs[i].a] != q[scoredAttrs[j].a] {
				return q[scoredAttrs[i].a] < q[scoredAttrs[j].a]
			}
			return scoredAttrs[i].a < scoredAttrs[j].a
		})
		gate = make([]scenario.Attribute, p.gateTopK)
		for i := 0; i < p.gateTopK; i++ {
			gate[i] = scoredAttrs[i].a
		}
	}

	rMinus1 := r - 1
	if rMinus1 < 0 {
		rMinus1 = 0
	}
	for _, a := range gate {
		minCount := need[a] + p.acc.CountByAttr(a)
		expected := float64(p.acc.CountByAttr(a)) + q[a]*float64(rMinus1)
		if expected < float64(minCount)*(1+p.margin) {
			return scenario.Reject
		}
	}
	return scenario.Accept
}

func (p *attrEWMAPolicy) RecordObservation(c scenario.Candidate, acc *accounting.State) {
	p.updateEstimates(c)
	p.n++
}

func (p *attrEWMAPolicy) OnAccept(c scenario.Candidate) {}

func (p *attrEWMAPolicy) RemainingNeeded() map[scenario.Attribute]int {
	return p.acc.Need()
}
