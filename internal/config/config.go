// Package config resolves run parameters from CLI flags with environment
// fallbacks for the ambient collaborator settings. The core never reads
// the environment itself — Parse is the only place that does, mirroring
// the teacher's applyEnv layering.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/berghain-agent/berghain/internal/policy"
)

// Config is everything cmd/berghain needs to run one game.
type Config struct {
	// Core decision parameters.
	ScenarioPath     string
	Capacity         int
	Policy           policy.Kind
	Params           policy.Params
	ProgressInterval int
	ResumeFromLog    string
	GameID           string
	StartIndex       int

	// Collaborator settings (environment-loaded, passed to the core
	// as parameters, never read by it directly).
	BaseURL  string
	PlayerID string
	Timeout  time.Duration
	Retries  int

	// Ambient stack (logging, metrics, optional domain collaborators).
	LogJSON    bool
	LogLevel   string
	MetricsPort int
	HistoryDB  string
	NATSURL    string
}

// Parse builds a Config from CLI args and environment overrides. args
// excludes the program name, matching flag.NewFlagSet's convention.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("berghain", flag.ContinueOnError)

	cfg := &Config{}
	var policyName string

	fs.StringVar(&cfg.ScenarioPath, "scenario", "", "path to a scenario file (optional; server may supply one via newGame)")
	fs.IntVar(&cfg.Capacity, "capacity", 1000, "venue capacity C")
	fs.StringVar(&policyName, "policy", string(policy.KindReserve), "decision policy: reserve, window, ewma, attr-ewma")
	fs.Float64Var(&cfg.Params.Alpha, "alpha", 0, "EWMA smoothing factor (global-ewma, attr-ewma)")
	fs.Float64Var(&cfg.Params.Margin, "risk-margin", 0, "safety margin added to relaxed-policy thresholds")
	fs.IntVar(&cfg.Params.Warmup, "warmup", 0, "observations before a relaxed policy starts relaxing (0 = policy default)")
	fs.IntVar(&cfg.Params.WindowSize, "window-size", 0, "ring buffer size for the window policy (0 = default)")
	fs.IntVar(&cfg.Params.MinObservations, "min-observations", 0, "minimum observations before the window policy relaxes")
	fs.IntVar(&cfg.Params.GateTopK, "gate-top-k", 0, "attr-ewma: gate only the top-K at-risk attributes (0 = gate all)")
	fs.BoolVar(&cfg.Params.CorrAware, "corr-aware", false, "attr-ewma: inflate estimates using the reported correlation matrix")
	fs.Float64Var(&cfg.Params.CorrBeta, "corr-beta", 0, "attr-ewma: correlation inflation weight (0 = default)")

	fs.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "game server base URL")
	fs.StringVar(&cfg.PlayerID, "player-id", "", "player id to start or resume a game as")
	fs.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "per-request HTTP timeout")
	fs.IntVar(&cfg.Retries, "retries", 3, "max transient-error retries before a fatal failure")

	fs.BoolVar(&cfg.LogJSON, "log-json", true, "emit structured logs as JSON (false = text)")
	var logInterval int
	fs.IntVar(&logInterval, "log-interval", 0, "unused alias kept for CLI compatibility with progress-interval")
	fs.IntVar(&cfg.ProgressInterval, "progress-interval", 50, "log a progress event every N decisions")
	fs.StringVar(&cfg.ResumeFromLog, "resume-from-log", "", "resume a prior game from this NDJSON event log")
	fs.StringVar(&cfg.GameID, "game-id", "", "override the game id recorded in resume-from-log (requires resume-from-log)")
	fs.IntVar(&cfg.StartIndex, "start-index", -1, "override the candidate index recorded in resume-from-log (requires resume-from-log; -1 = use the log's own index)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port", 0, "serve /metrics and /health on this port (0 = disabled)")
	fs.StringVar(&cfg.HistoryDB, "history-db", "", "Postgres DSN for optional cross-game history (0/empty = disabled)")
	fs.StringVar(&cfg.NATSURL, "nats-url", "", "NATS URL for optional progress broadcast (empty = disabled)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Policy = policy.Kind(policyName)
	cfg.Params = overlayDefaults(cfg.Policy, cfg.Params)

	// An explicit flag always wins over its environment-variable fallback;
	// track which flags the user actually passed so the env var only fills
	// in ones they didn't.
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if !explicit["base-url"] {
		cfg.BaseURL = envOr("BASE_URL", cfg.BaseURL)
	}
	if !explicit["player-id"] {
		cfg.PlayerID = envOr("PLAYER_ID", cfg.PlayerID)
	}
	cfg.LogLevel = envOr("BERGHAIN_LOG_LEVEL", "info")
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = os.Getenv("BERGHAIN_HISTORY_DB")
	}
	if cfg.NATSURL == "" {
		cfg.NATSURL = os.Getenv("BERGHAIN_NATS_URL")
	}
	if !explicit["timeout"] {
		if v := os.Getenv("TIMEOUT"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.Timeout = d
			}
		}
	}
	if !explicit["retries"] {
		if v := os.Getenv("RETRIES"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.Retries = n
			}
		}
	}

	if cfg.PlayerID == "" {
		return nil, fmt.Errorf("config: PLAYER_ID must be set")
	}
	if cfg.ResumeFromLog == "" && (cfg.GameID != "" || cfg.StartIndex >= 0) {
		return nil, fmt.Errorf("config: -game-id and -start-index require -resume-from-log")
	}

	return cfg, nil
}

// overlayDefaults fills any zero-valued field in p with kind's documented
// default, preserving any explicit CLI override.
func overlayDefaults(kind policy.Kind, p policy.Params) policy.Params {
	d := policy.DefaultParams(kind)
	if p.Margin == 0 {
		p.Margin = d.Margin
	}
	if p.Alpha == 0 {
		p.Alpha = d.Alpha
	}
	if p.Warmup == 0 {
		p.Warmup = d.Warmup
	}
	if p.GlobalPrior == 0 {
		p.GlobalPrior = d.GlobalPrior
	}
	if p.WindowSize == 0 {
		p.WindowSize = d.WindowSize
	}
	if p.MinObservations == 0 {
		p.MinObservations = d.MinObservations
	}
	if p.CorrBeta == 0 {
		p.CorrBeta = d.CorrBeta
	}
	return p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
