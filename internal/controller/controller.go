// Package controller runs the per-game decision loop: fetch a candidate,
// log it, ask the policy, apply the decision to accounting, log the
// verdict, submit it to the server, and repeat until the game completes
// or fails.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/eventlog"
	"github.com/berghain-agent/berghain/internal/gameserver"
	"github.com/berghain-agent/berghain/internal/policy"
	"github.com/berghain-agent/berghain/internal/reconstruct"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// State names one of the run controller's states.
type State string

const (
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateResyncing State = "resyncing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Outcome is the terminal result of Run: an exit-code-bearing summary the
// caller (cmd/berghain) translates into a process exit code.
type Outcome struct {
	State    State
	Admitted int
	Rejected int
	Reason   string
	Err      error
}

// BackoffPolicy mirrors the teacher's exponential-backoff shape (base
// duration, multiplier, cap), grounded on the retry scheduler pattern
// used for controlplane job retries in the wider example corpus.
type BackoffPolicy struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
	MaxRetries int
}

// DefaultBackoff is the default retry schedule: base 0.5s, factor 2,
// cap 10s, up to 3 retries after the first attempt.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: 500 * time.Millisecond, Multiplier: 2, Cap: 10 * time.Second, MaxRetries: 3}
}

func (b BackoffPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1)))
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}

// Sleep is overridden in tests to avoid real waits.
type Sleeper func(time.Duration)

// Config bundles everything Run needs beyond the collaborator client.
type Config struct {
	PlayerID         string
	ProgressInterval int // log a progress event every N decisions; 0 disables
	Backoff          BackoffPolicy
	Sleep            Sleeper
	Logger           *slog.Logger
	OnSnapshot       func(accounting.Snapshot) // optional, e.g. metrics/NATS fan-out
	OnResync         func()                    // optional, e.g. metrics counter
}

// Controller drives one game's candidate loop to completion or failure.
type Controller struct {
	client gameserver.Client
	log    *eventlog.Log
	cfg    Config

	sc   scenario.Scenario
	acc  *accounting.State
	pol  policy.Policy
	kind policy.Kind

	state      State
	gameID     string
	rejected   int
	decisions  int
	nextIndex  int
}

// New starts a fresh game: calls newGame, builds accounting and the named
// policy, logs the start event, and returns the first candidate to feed
// into Run.
// override, when non-nil, replaces the capacity/constraints/priors the
// server's newGame response would otherwise supply — wired to the
// --scenario flag for dry runs and reconstruction fixtures against a
// fixed scenario (scenario.LoadFile). The server is still the source of
// the game id and the live candidate stream; only the static shape of
// the game is overridden.
func New(ctx context.Context, client gameserver.Client, log *eventlog.Log, kind policy.Kind, params policy.Params, capacity int, override *scenario.Scenario, cfg Config) (*Controller, *gameserver.PersonAttributes, error) {
	cfg = withDefaults(cfg)

	resp, err := client.NewGame(ctx, cfg.PlayerID)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: new game: %w", err)
	}

	var sc scenario.Scenario
	if override != nil {
		sc = *override
		if sc.GameID == "" {
			sc.GameID = resp.GameID
		}
	} else {
		sc = resp.ToScenario(capacity)
	}
	if sc.GameID == "" {
		sc.GameID = uuid.New().String()
	}

	acc := accounting.New(sc)
	pol, err := policy.New(kind, sc, acc, params)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: build policy: %w", err)
	}

	c := &Controller{
		client: client,
		log:    log,
		cfg:    cfg,
		sc:     sc,
		acc:    acc,
		pol:    pol,
		kind:   kind,
		state:  StateStarting,
		gameID: sc.GameID,
	}

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, nil, err
	}
	if err := c.log.Append(eventlog.Event{
		Kind:                eventlog.KindStart,
		GameID:              sc.GameID,
		Capacity:            sc.Capacity,
		Constraints:         sc.Constraints,
		RelativeFrequencies: sc.RelativeFrequencies,
		Correlations:        sc.Correlations,
		Policy:              string(kind),
		PolicyParams:        paramsJSON,
	}); err != nil {
		return nil, nil, fmt.Errorf("controller: log start event: %w", err)
	}
	c.state = StateRunning

	first := resp.FirstPerson
	if first == nil {
		p, err := client.FetchFirst(ctx, sc.GameID, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("controller: fetch first candidate: %w", err)
		}
		first = &p
	}

	cfg.Logger.Info("game started", "gameId", sc.GameID, "capacity", sc.Capacity, "policy", kind)
	return c, first, nil
}

// Resume rebuilds a Controller from a prior event log, refetches the
// pending candidate at nextIndex, and returns both ready for Run.
// gameIDOverride, when non-empty, replaces the game id recorded in the
// log; startIndexOverride, when >= 0, replaces the next index the log
// reconstructed — both wired to the CLI's -game-id/-start-index flags
// for recovering a game whose log disagrees with (or predates) the
// server's own bookkeeping.
func Resume(ctx context.Context, client gameserver.Client, log *eventlog.Log, logPath string, gameIDOverride string, startIndexOverride int, cfg Config) (*Controller, *gameserver.PersonAttributes, error) {
	cfg = withDefaults(cfg)
	res, err := reconstruct.FromFile(logPath)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: reconstruct: %w", err)
	}

	gameID := res.GameID
	if gameIDOverride != "" {
		gameID = gameIDOverride
	}
	nextIndex := res.NextIndex
	if startIndexOverride >= 0 {
		nextIndex = startIndexOverride
	}

	c := &Controller{
		client:    client,
		log:       log,
		cfg:       cfg,
		sc:        res.Scenario,
		acc:       res.Accounting,
		pol:       res.Policy,
		kind:      res.PolicyKind,
		state:     StateRunning,
		gameID:    gameID,
		nextIndex: nextIndex,
	}
	cfg.Logger.Info("game resumed", "gameId", c.gameID, "nextIndex", c.nextIndex, "admitted", c.acc.Admitted())

	pending, err := client.FetchFirst(ctx, c.gameID, c.nextIndex)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: fetch resumed candidate: %w", err)
	}
	return c, &pending, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return cfg
}

func marshalParams(p policy.Params) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("controller: marshal policy params: %w", err)
	}
	return b, nil
}

// Run drives candidates to completion, starting from the first candidate
// (fresh game) or the next expected index (resumed game).
func (c *Controller) Run(ctx context.Context, first *gameserver.PersonAttributes) Outcome {
	pending := first
	for {
		if ctx.Err() != nil {
			return Outcome{State: c.state, Admitted: c.acc.Admitted(), Rejected: c.rejected, Err: ctx.Err()}
		}

		if pending == nil {
			return Outcome{State: StateFailed, Admitted: c.acc.Admitted(), Rejected: c.rejected, Err: errors.New("controller: no candidate to process")}
		}

		cand := pending.ToCandidate()
		if err := c.log.Append(eventlog.Event{
			Kind:        eventlog.KindRequest,
			GameID:      c.gameID,
			PersonIndex: cand.Index,
			Attributes:  cand.Attributes,
		}); err != nil {
			return c.fail(fmt.Errorf("controller: log request event: %w", err))
		}

		decision := c.pol.Decide(cand, c.acc)
		if decision == scenario.Accept {
			if err := c.acc.Accept(cand); err != nil {
				return c.fail(fmt.Errorf("controller: accept: %w", err))
			}
			c.pol.OnAccept(cand)
			if err := c.acc.CheckFeasible(); err != nil {
				return c.fail(fmt.Errorf("controller: %w", err))
			}
		} else {
			c.rejected++
		}

		if err := c.log.Append(eventlog.Event{
			Kind:        eventlog.KindResponse,
			GameID:      c.gameID,
			PersonIndex: cand.Index,
			Decision:    decision,
		}); err != nil {
			return c.fail(fmt.Errorf("controller: log response event: %w", err))
		}

		c.decisions++
		if c.cfg.ProgressInterval > 0 && c.decisions%c.cfg.ProgressInterval == 0 {
			c.logProgress()
		}
		if snap := c.cfg.OnSnapshot; snap != nil {
			snap(c.acc.Snapshot(c.rejected))
		}

		if c.acc.Complete() {
			c.state = StateCompleted
			if err := c.log.Append(eventlog.Event{
				Kind:     eventlog.KindCompleted,
				GameID:   c.gameID,
				Admitted: c.acc.Admitted(),
				Rejected: c.rejected,
				Reason:   "capacity filled, all quotas met",
			}); err != nil {
				return c.fail(fmt.Errorf("controller: log completed event: %w", err))
			}
			return Outcome{State: StateCompleted, Admitted: c.acc.Admitted(), Rejected: c.rejected, Reason: "capacity filled, all quotas met"}
		}

		next, err := c.submitWithRetry(ctx, cand.Index, decision == scenario.Accept)
		if err != nil {
			var resyncErr *gameserver.ExpectedIndexError
			if errors.As(err, &resyncErr) {
				pending, err = c.resync(ctx, resyncErr)
				if err != nil {
					return c.fail(err)
				}
				continue
			}
			return c.fail(err)
		}

		if next.Status == gameserver.StatusCompleted {
			c.state = StateCompleted
			if err := c.log.Append(eventlog.Event{
				Kind:     eventlog.KindCompleted,
				GameID:   c.gameID,
				Admitted: next.AdmittedCount,
				Rejected: next.RejectedCount,
				Reason:   next.Reason,
			}); err != nil {
				return c.fail(fmt.Errorf("controller: log completed event: %w", err))
			}
			return Outcome{State: StateCompleted, Admitted: next.AdmittedCount, Rejected: next.RejectedCount, Reason: next.Reason}
		}

		pending = next.NextPerson
	}
}

// submitWithRetry submits one decision, retrying transient transport
// errors with exponential backoff.
func (c *Controller) submitWithRetry(ctx context.Context, personIndex int, accept bool) (gameserver.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Backoff.MaxRetries+1; attempt++ {
		resp, err := c.client.DecideAndNext(ctx, c.gameID, personIndex, accept)
		if err == nil {
			c.state = StateRunning
			return resp, nil
		}

		var transient *gameserver.TransientError
		if !errors.As(err, &transient) {
			return gameserver.Response{}, err
		}
		lastErr = err
		if attempt > c.cfg.Backoff.MaxRetries {
			break
		}
		c.state = StateRetrying
		c.cfg.Logger.Warn("transient transport error, retrying", "attempt", attempt, "err", err)
		d := c.cfg.Backoff.delay(attempt)
		select {
		case <-ctx.Done():
			return gameserver.Response{}, ctx.Err()
		default:
		}
		c.cfg.Sleep(d)
	}
	return gameserver.Response{}, fmt.Errorf("controller: transport retries exhausted: %w", lastErr)
}

// resync handles the "Expected person X, got Y" recovery path: log the
// resync event and refetch the expected candidate so it re-enters Run's
// normal per-candidate body (decide, log request/response, submit) rather
// than having a decision forged for it here. A forged accept/reject would
// never have been sanctioned by the policy and would leave no
// request/response pair in the log for a later crash-resume to replay.
func (c *Controller) resync(ctx context.Context, e *gameserver.ExpectedIndexError) (*gameserver.PersonAttributes, error) {
	c.state = StateResyncing
	if err := c.log.Append(eventlog.Event{
		Kind:      eventlog.KindResync,
		GameID:    c.gameID,
		Expected:  e.Expected,
		Submitted: e.Got,
	}); err != nil {
		return nil, fmt.Errorf("controller: log resync event: %w", err)
	}
	c.cfg.Logger.Warn("resyncing", "expected", e.Expected, "submitted", e.Got)
	if c.cfg.OnResync != nil {
		c.cfg.OnResync()
	}

	pending, err := c.client.FetchFirst(ctx, c.gameID, e.Expected)
	if err != nil {
		return nil, fmt.Errorf("controller: resync fetch for index %d: %w", e.Expected, err)
	}
	c.state = StateRunning
	return &pending, nil
}

func (c *Controller) logProgress() {
	if err := c.log.Append(eventlog.Event{
		Kind:        eventlog.KindProgress,
		GameID:      c.gameID,
		Admitted:    c.acc.Admitted(),
		Rejected:    c.rejected,
		CountByAttr: snapshotCounts(c.acc, c.sc),
	}); err != nil {
		c.cfg.Logger.Error("failed to log progress event", "err", err)
	}
}

func snapshotCounts(acc *accounting.State, sc scenario.Scenario) map[scenario.Attribute]int {
	out := make(map[scenario.Attribute]int, len(sc.Constraints))
	for _, attr := range sc.Attributes() {
		out[attr] = acc.CountByAttr(attr)
	}
	return out
}

func (c *Controller) fail(err error) Outcome {
	c.state = StateFailed
	c.cfg.Logger.Error("game failed", "gameId", c.gameID, "err", err)
	if logErr := c.log.Append(eventlog.Event{
		Kind:   eventlog.KindFailed,
		GameID: c.gameID,
		Error:  err.Error(),
	}); logErr != nil {
		c.cfg.Logger.Error("failed to log failed event", "err", logErr)
	}
	return Outcome{State: StateFailed, Admitted: c.acc.Admitted(), Rejected: c.rejected, Err: err}
}

// State reports the controller's current state.
func (c *Controller) State() State { return c.state }

// GameID reports the game identifier in use.
func (c *Controller) GameID() string { return c.gameID }

// NextIndex reports the candidate index a resumed controller expects
// next; zero for a freshly started game (whose first candidate the
// caller already has in hand from NewGame/FetchFirst).
func (c *Controller) NextIndex() int { return c.nextIndex }

// Scenario reports the scenario this controller is running.
func (c *Controller) Scenario() scenario.Scenario { return c.sc }
