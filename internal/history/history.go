// Package history persists a one-row-per-game summary to Postgres so
// multiple runs can be compared after the fact. It is strictly optional
// and never on the crash-safe path — the NDJSON event log remains the
// sole resume source of truth. Grounded on the teacher's
// internal/store/postgres.go pool-per-process pattern.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/berghain-agent/berghain/internal/policy"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// Summary is one completed-or-failed game's outcome.
type Summary struct {
	GameID          string
	Policy          policy.Kind
	Params          policy.Params
	Capacity        int
	Admitted        int
	Rejected        int
	ConstraintsMet  bool
	Duration        time.Duration
	CompletionState string // controller state at exit: "completed", "failed", or the state a cancelled run stopped in
	Reason          string
}

// Store persists game summaries to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies reachability, matching the
// teacher's pgxpool.New + Ping construction.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("history: connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordGame inserts one summary row.
func (s *Store) RecordGame(ctx context.Context, sc scenario.Scenario, sum Summary) error {
	paramsJSON, err := json.Marshal(sum.Params)
	if err != nil {
		return fmt.Errorf("history: marshal params: %w", err)
	}
	constraintsJSON, err := json.Marshal(sc.Constraints)
	if err != nil {
		return fmt.Errorf("history: marshal constraints: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO berghain_games
			(game_id, policy, policy_params, capacity, admitted, rejected,
			 constraints, constraints_met, duration_ms, completion_state, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (game_id) DO UPDATE SET
			admitted = EXCLUDED.admitted,
			rejected = EXCLUDED.rejected,
			constraints_met = EXCLUDED.constraints_met,
			duration_ms = EXCLUDED.duration_ms,
			completion_state = EXCLUDED.completion_state,
			reason = EXCLUDED.reason`,
		sum.GameID, string(sum.Policy), paramsJSON, sum.Capacity, sum.Admitted, sum.Rejected,
		constraintsJSON, sum.ConstraintsMet, sum.Duration.Milliseconds(), sum.CompletionState, sum.Reason,
	)
	if err != nil {
		return fmt.Errorf("history: record game %s: %w", sum.GameID, err)
	}
	return nil
}
