package eventlog

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/berghain-agent/berghain/internal/scenario"
)

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.ndjson")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if log.Path() != path {
		t.Fatalf("expected Path() to return %s, got %s", path, log.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the log file to exist: %v", err)
	}
}

func TestAppendWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.ndjson")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	log.clock = func() time.Time { return time.Unix(0, 0).UTC() }

	if err := log.Append(Event{Kind: KindStart, GameID: "g1", Capacity: 3}); err != nil {
		t.Fatalf("Append start: %v", err)
	}
	if err := log.Append(Event{Kind: KindRequest, GameID: "g1", PersonIndex: 0, Attributes: map[scenario.Attribute]bool{"x": true}}); err != nil {
		t.Fatalf("Append request: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open for reading: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 NDJSON lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"kind":"start"`) {
		t.Errorf("expected first line to be a start event, got %s", lines[0])
	}
	if !strings.Contains(lines[1], `"personIndex":0`) {
		t.Errorf("expected second line to carry personIndex 0, got %s", lines[1])
	}
}

func TestAppendResumesOnExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.ndjson")
	log1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log1.Append(Event{Kind: KindStart, GameID: "g1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	log2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := log2.Append(Event{Kind: KindCompleted, GameID: "g1"}); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected reopening to append rather than truncate, got %d lines", len(lines))
	}
}
