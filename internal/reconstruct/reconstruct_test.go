package reconstruct

import (
	"path/filepath"
	"testing"

	"github.com/berghain-agent/berghain/internal/eventlog"
	"github.com/berghain-agent/berghain/internal/policy"
	"github.com/berghain-agent/berghain/internal/scenario"
)

func writeLog(t *testing.T, events []eventlog.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.ndjson")
	log, err := eventlog.Open(path)
	if err != nil {
		t.Fatalf("eventlog.Open: %v", err)
	}
	for _, ev := range events {
		if err := log.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	return path
}

// TestFromFileReplaysAcceptsAndIndex checks reconstruction fidelity: the
// rebuilt accounting and next-index must match what a live run would
// have reached at the same point.
func TestFromFileReplaysAcceptsAndIndex(t *testing.T) {
	path := writeLog(t, []eventlog.Event{
		{
			Kind:        eventlog.KindStart,
			GameID:      "g1",
			Capacity:    3,
			Constraints: []scenario.Constraint{{Attribute: "x", MinCount: 1}},
			Policy:      string(policy.KindReserve),
		},
		{Kind: eventlog.KindRequest, GameID: "g1", PersonIndex: 0, Attributes: map[scenario.Attribute]bool{"x": false}},
		{Kind: eventlog.KindResponse, GameID: "g1", PersonIndex: 0, Decision: scenario.Accept},
		{Kind: eventlog.KindRequest, GameID: "g1", PersonIndex: 1, Attributes: map[scenario.Attribute]bool{"x": true}},
		{Kind: eventlog.KindResponse, GameID: "g1", PersonIndex: 1, Decision: scenario.Reject},
	})

	res, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}

	if res.GameID != "g1" {
		t.Errorf("expected gameId g1, got %s", res.GameID)
	}
	if res.PolicyKind != policy.KindReserve {
		t.Errorf("expected reserve policy kind, got %s", res.PolicyKind)
	}
	if res.Accounting.Admitted() != 1 {
		t.Errorf("expected 1 admitted (only index 0 accepted), got %d", res.Accounting.Admitted())
	}
	if res.NextIndex != 2 {
		t.Errorf("expected next index 2, got %d", res.NextIndex)
	}
}

func TestFromFileMissingStartEventFails(t *testing.T) {
	path := writeLog(t, []eventlog.Event{
		{Kind: eventlog.KindRequest, GameID: "g1", PersonIndex: 0},
	})
	if _, err := FromFile(path); err == nil {
		t.Error("expected an error when the log has no start event")
	}
}

func TestFromFileResponseWithoutRequestFails(t *testing.T) {
	path := writeLog(t, []eventlog.Event{
		{Kind: eventlog.KindStart, GameID: "g1", Capacity: 1, Policy: string(policy.KindReserve)},
		{Kind: eventlog.KindResponse, GameID: "g1", PersonIndex: 0, Decision: scenario.Accept},
	})
	if _, err := FromFile(path); err == nil {
		t.Error("expected an error replaying a response with no matching pending request")
	}
}

func TestFromFileNonexistentPath(t *testing.T) {
	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.ndjson")); err == nil {
		t.Error("expected an error for a nonexistent log path")
	}
}
