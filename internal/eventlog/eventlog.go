// Package eventlog implements the append-only NDJSON event stream that
// makes a game replayable: each candidate's arrival and decision is
// flushed and fsync'd before the controller submits that decision to the
// server, so a crash leaves a log a reconstructor can resume from exactly.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/berghain-agent/berghain/internal/scenario"
)

// Kind names one of the seven event record types.
type Kind string

const (
	KindStart     Kind = "start"
	KindRequest   Kind = "request"
	KindResponse  Kind = "response"
	KindProgress  Kind = "progress"
	KindResync    Kind = "resync"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Event is the union of every event-record shape. Fields unused by a
// given Kind are omitted from the marshaled JSON, as are zero-valued
// fields, so a reader treats a missing number as 0. personIndex is the
// exception: it is always written, so candidate 0 keeps its index.
type Event struct {
	TS   time.Time `json:"ts"`
	Kind Kind      `json:"kind"`

	GameID string `json:"gameId,omitempty"`

	// start
	Capacity            int                                  `json:"capacity,omitempty"`
	Constraints         []scenario.Constraint                `json:"constraints,omitempty"`
	RelativeFrequencies map[scenario.Attribute]float64        `json:"relativeFrequencies,omitempty"`
	Correlations        map[scenario.Attribute]map[scenario.Attribute]float64 `json:"correlations,omitempty"`
	Policy              string                                `json:"policy,omitempty"`
	PolicyParams        json.RawMessage                       `json:"policyParams,omitempty"`

	// request
	PersonIndex int                           `json:"personIndex"`
	Attributes  map[scenario.Attribute]bool   `json:"attributes,omitempty"`

	// response
	Decision scenario.Decision `json:"decision,omitempty"`

	// progress
	Admitted    int                          `json:"admitted,omitempty"`
	Rejected    int                          `json:"rejected,omitempty"`
	CountByAttr map[scenario.Attribute]int   `json:"countByAttr,omitempty"`

	// resync
	Expected  int `json:"expected,omitempty"`
	Submitted int `json:"submitted,omitempty"`

	// completed
	Reason string `json:"reason,omitempty"`

	// failed
	Error string `json:"error,omitempty"`
}

// Clock returns the current time; a field so tests can inject a fixed
// sequence without depending on wall-clock time.
type Clock func() time.Time

// Log is an append-only NDJSON writer over a single file. Every Append
// call opens the file, writes one line, fsyncs and closes it: durability trumps throughput here, since a missed fsync could
// leave a resumed game unable to tell which candidates were decided.
type Log struct {
	path  string
	clock Clock
}

// Open prepares a Log backed by path. The file is created if absent and
// appended to if present (resume case); no data is read here — use
// internal/reconstruct to rebuild state from an existing log.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("eventlog: close after create %s: %w", path, err)
	}
	return &Log{path: path, clock: time.Now}, nil
}

// Append writes ev as one NDJSON line, fsyncs it, and closes the file
// handle before returning, so an interrupted run never holds a
// partially-flushed buffer.
func (l *Log) Append(ev Event) error {
	if ev.TS.IsZero() {
		ev.TS = l.clock()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: marshal %s event: %w", ev.Kind, err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open for append %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("eventlog: write %s event: %w", ev.Kind, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("eventlog: fsync %s event: %w", ev.Kind, err)
	}
	return nil
}

// Path returns the underlying file path, used when the controller needs
// to report where a failure was durably recorded.
func (l *Log) Path() string { return l.path }
