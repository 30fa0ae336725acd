// Package reconstruct rebuilds accounting and policy state from a prior
// event log so an interrupted game can resume at the exact decision
// stream it would have produced live.
package reconstruct

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/eventlog"
	"github.com/berghain-agent/berghain/internal/policy"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// Result is everything the controller needs to resume: ready-to-use
// accounting and policy state, the scenario they were built from, and the
// index the next fetched candidate should carry.
type Result struct {
	Scenario   scenario.Scenario
	Accounting *accounting.State
	Policy     policy.Policy
	PolicyKind policy.Kind
	GameID     string
	NextIndex  int
}

// FromFile scans path's NDJSON event log and replays it into a Result.
//
// Fidelity is exact except for two documented limitations: real
// wall-clock updates are replaced by sequential replay, and scenario
// priors absent from the log (an old log predating this build, say) fall
// back to policy defaults rather than whatever the live run actually saw.
func FromFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reconstruct: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		started   bool
		sc        scenario.Scenario
		kind      policy.Kind
		params    policy.Params
		acc       *accounting.State
		pol       policy.Policy
		pending   scenario.Candidate
		havePending bool
		nextIndex int
		gameID    string
	)

	for scanner.Scan() {
		var ev eventlog.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("reconstruct: decode line: %w", err)
		}

		switch ev.Kind {
		case eventlog.KindStart:
			sc = scenario.Scenario{
				GameID:              ev.GameID,
				Capacity:            ev.Capacity,
				Constraints:         ev.Constraints,
				RelativeFrequencies: ev.RelativeFrequencies,
				Correlations:        ev.Correlations,
			}
			gameID = ev.GameID
			kind = policy.Kind(ev.Policy)
			if len(ev.PolicyParams) > 0 {
				if err := json.Unmarshal(ev.PolicyParams, &params); err != nil {
					return nil, fmt.Errorf("reconstruct: decode policyParams: %w", err)
				}
			}
			acc = accounting.New(sc)
			pol, err = policy.New(kind, sc, acc, params)
			if err != nil {
				return nil, fmt.Errorf("reconstruct: build policy: %w", err)
			}
			started = true

		case eventlog.KindRequest:
			if !started {
				return nil, fmt.Errorf("reconstruct: request event before start event")
			}
			pending = scenario.Candidate{Index: ev.PersonIndex, Attributes: ev.Attributes}
			havePending = true
			pol.RecordObservation(pending, acc)
			if ev.PersonIndex+1 > nextIndex {
				nextIndex = ev.PersonIndex + 1
			}

		case eventlog.KindResponse:
			if !havePending || pending.Index != ev.PersonIndex {
				return nil, fmt.Errorf("reconstruct: response for %d without matching request", ev.PersonIndex)
			}
			if ev.Decision == scenario.Accept {
				if err := acc.Accept(pending); err != nil {
					return nil, fmt.Errorf("reconstruct: replay accept at index %d: %w", ev.PersonIndex, err)
				}
				pol.OnAccept(pending)
			}
			havePending = false

		case eventlog.KindProgress, eventlog.KindResync, eventlog.KindCompleted, eventlog.KindFailed:
			// Diagnostic/audit records; no accounting or policy state to replay.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reconstruct: scan %s: %w", path, err)
	}
	if !started {
		return nil, fmt.Errorf("reconstruct: %s has no start event", path)
	}

	return &Result{
		Scenario:   sc,
		Accounting: acc,
		Policy:     pol,
		PolicyKind: kind,
		GameID:     gameID,
		NextIndex:  nextIndex,
	}, nil
}
