// Package natsreport best-effort broadcasts game progress to NATS so an
// external dashboard can tail a live run, grounded on the teacher's NATS
// collaborator client (connect-with-retry, best-effort publish,
// non-fatal on failure).
package natsreport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// ProgressEvent is the wire payload published per update — the same
// fields the event log's progress record carries.
type ProgressEvent struct {
	GameID      string                     `json:"gameId"`
	Admitted    int                        `json:"admitted"`
	Rejected    int                        `json:"rejected"`
	CountByAttr map[scenario.Attribute]int `json:"countByAttr"`
}

// Subject returns the per-game progress subject: berghain.game.<id>.progress.
func Subject(gameID string) string {
	return fmt.Sprintf("berghain.game.%s.progress", gameID)
}

// Publisher is the narrow interface the controller depends on.
type Publisher interface {
	PublishProgress(gameID string, snap accounting.Snapshot)
	Close()
}

// Client wraps a nats.Conn. A connection failure at construction is
// logged as a warning by the caller; Client itself never panics or
// returns an error from PublishProgress — a dropped progress update
// must never interrupt the game.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials url with reconnect-on-failure enabled, matching the
// teacher's connect options.
func Connect(url string, logger *slog.Logger) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("natsreport: connect: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// PublishProgress marshals and publishes snap under gameID's subject,
// logging (not returning) any failure.
func (c *Client) PublishProgress(gameID string, snap accounting.Snapshot) {
	payload, err := json.Marshal(ProgressEvent{
		GameID:      gameID,
		Admitted:    snap.Admitted,
		Rejected:    snap.Rejected,
		CountByAttr: snap.CountByAttr,
	})
	if err != nil {
		c.logger.Warn("natsreport: marshal progress event", "err", err)
		return
	}
	if err := c.conn.Publish(Subject(gameID), payload); err != nil {
		c.logger.Warn("natsreport: publish progress event", "err", err)
	}
}

// Close closes the connection without draining it.
func (c *Client) Close() {
	c.conn.Close()
}
