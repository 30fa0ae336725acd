package policy

import (
	"testing"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

func trivialScenario() scenario.Scenario {
	return scenario.Scenario{
		Capacity:    3,
		Constraints: []scenario.Constraint{{Attribute: "x", MinCount: 1}},
	}
}

func cand(idx int, x bool) scenario.Candidate {
	return scenario.Candidate{Index: idx, Attributes: map[scenario.Attribute]bool{"x": x}}
}

// TestReservePolicyE1 reproduces the worked example: capacity 3, a single
// constraint needing 1, and a stream of unhelpful/helpful/unhelpful
// candidates is admitted in full, since slack stays below remaining.
func TestReservePolicyE1(t *testing.T) {
	sc := trivialScenario()
	acc := accounting.New(sc)
	pol := newReservePolicy(acc)

	// Not helpful, but remaining (3) > slack (1), so the reserve still
	// accepts — admitting it can't make the quota infeasible.
	if d := pol.Decide(cand(0, false), acc); d != scenario.Accept {
		t.Fatalf("expected accept for candidate 0, got %s", d)
	}
	acc.Accept(cand(0, false))

	// Slack (1) is still below remaining (2), and this candidate is helpful
	// anyway: accept again.
	if d := pol.Decide(cand(1, true), acc); d != scenario.Accept {
		t.Fatalf("expected accept for helpful candidate 1, got %s", d)
	}
	acc.Accept(cand(1, true))

	if acc.NeedOf("x") != 0 {
		t.Fatalf("expected need[x]=0 after the helpful accept, got %d", acc.NeedOf("x"))
	}
	if d := pol.Decide(cand(2, false), acc); d != scenario.Accept {
		t.Fatalf("expected accept for candidate 2, got %s", d)
	}
}

func TestReservePolicyRejectsWhenSlackWouldExceedRemaining(t *testing.T) {
	sc := scenario.Scenario{Capacity: 1, Constraints: []scenario.Constraint{{Attribute: "x", MinCount: 1}}}
	acc := accounting.New(sc)
	pol := newReservePolicy(acc)

	// Slack=1, remaining=1: not helpful and slack is not strictly less than
	// remaining, so admitting would risk infeasibility.
	if d := pol.Decide(cand(0, false), acc); d != scenario.Reject {
		t.Fatalf("expected reject, got %s", d)
	}
}

func TestGlobalEWMAWarmupFallsBackToReserve(t *testing.T) {
	sc := trivialScenario()
	acc := accounting.New(sc)
	pol := newGlobalEWMAPolicy(acc, Params{Warmup: 5})

	// During warmup the relaxed threshold never engages; behavior matches
	// the reserve baseline for every non-helpful candidate.
	for i := 0; i < 5; i++ {
		pol.Decide(cand(i, false), acc)
	}
	if pol.n != 5 {
		t.Fatalf("expected 5 observations recorded during warmup, got %d", pol.n)
	}
}

func TestGlobalEWMARejectsWhenSlackMeetsRemaining(t *testing.T) {
	sc := scenario.Scenario{Capacity: 1, Constraints: []scenario.Constraint{{Attribute: "x", MinCount: 1}}}
	acc := accounting.New(sc)
	pol := newGlobalEWMAPolicy(acc, Params{Warmup: 0})
	if d := pol.Decide(cand(0, false), acc); d != scenario.Reject {
		t.Fatalf("expected reject once slack>=remaining regardless of phat, got %s", d)
	}
}

func TestWindowPolicyRespectsMinObservations(t *testing.T) {
	sc := trivialScenario()
	acc := accounting.New(sc)
	pol := newWindowPolicy(acc, Params{WindowSize: 10, MinObservations: 3})

	for i := 0; i < 3; i++ {
		pol.Decide(cand(i, false), acc)
	}
	if pol.n != 3 {
		t.Fatalf("expected 3 recorded observations, got %d", pol.n)
	}
}

func TestWindowPolicyRingEviction(t *testing.T) {
	pol := newWindowPolicy(accounting.New(trivialScenario()), Params{WindowSize: 2, MinObservations: 0})
	pol.update(true)
	pol.update(true)
	if pol.rate() != 1 {
		t.Fatalf("expected rate 1 with two helpful observations, got %v", pol.rate())
	}
	pol.update(false) // evicts the oldest "true"
	if pol.rate() != 0.5 {
		t.Fatalf("expected rate 0.5 after eviction, got %v", pol.rate())
	}
}

func TestAttrEWMARecordObservationUpdatesWithoutDeciding(t *testing.T) {
	sc := trivialScenario()
	acc := accounting.New(sc)
	pol := newAttrEWMAPolicy(sc, acc, Params{Alpha: 0.5, Warmup: 0})

	before := pol.phat["x"]
	pol.RecordObservation(cand(0, true), acc)
	after := pol.phat["x"]
	if after <= before {
		t.Fatalf("expected phat[x] to increase after observing x=true, before=%v after=%v", before, after)
	}
	if pol.n != 1 {
		t.Fatalf("expected n=1 after one RecordObservation, got %d", pol.n)
	}
}

func TestAttrEWMAGateTopKOrdersByCoverageThenRate(t *testing.T) {
	sc := scenario.Scenario{
		Capacity: 10,
		Constraints: []scenario.Constraint{
			{Attribute: "a", MinCount: 5},
			{Attribute: "b", MinCount: 5},
		},
	}
	acc := accounting.New(sc)
	pol := newAttrEWMAPolicy(sc, acc, Params{Alpha: 0.1, Warmup: 0, GateTopK: 1, Margin: 0})
	pol.phat["a"] = 0.9 // well covered, should not be in the gated set
	pol.phat["b"] = 0.1 // under covered, should dominate the gate

	need := acc.Need()
	d := pol.gatedDecide(acc, need, acc.Remaining())
	// With b's low rate gating alone, the expected count for b falls well
	// short of its minimum, so the gated decision must reject.
	if d != scenario.Reject {
		t.Fatalf("expected reject driven by the under-covered attribute, got %s", d)
	}
}

func TestKindRoundTripThroughNew(t *testing.T) {
	sc := trivialScenario()
	acc := accounting.New(sc)
	for _, k := range []Kind{KindReserve, KindWindow, KindGlobalEWMA, KindAttrEWMA} {
		p, err := New(k, sc, acc, DefaultParams(k))
		if err != nil {
			t.Fatalf("New(%s): %v", k, err)
		}
		if p == nil {
			t.Fatalf("New(%s) returned a nil policy", k)
		}
	}
	if _, err := New(Kind("bogus"), sc, acc, Params{}); err == nil {
		t.Error("expected an error for an unknown policy kind")
	}
}
