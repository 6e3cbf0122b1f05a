// Package events forwards round lifecycle events to NATS so settlement,
// analytics and other consumers can follow the game without a websocket.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"riskcrash/internal/config"
	"riskcrash/internal/game"
	"riskcrash/internal/logger"
)

// Emitter publishes every event on <prefix>.round.<type>. Ticks are
// published like any other event; subscribers filter with wildcards.
type Emitter struct {
	conn          *nats.Conn
	subjectPrefix string
}

func NewEmitter(cfg config.NatsConfig) (*Emitter, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name("riskcrash"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return newEmitter(conn, cfg.SubjectPrefix), nil
}

func newEmitter(conn *nats.Conn, prefix string) *Emitter {
	if prefix == "" {
		prefix = "crash"
	}
	return &Emitter{conn: conn, subjectPrefix: prefix}
}

// Subject returns the subject an event type is published on.
func (e *Emitter) Subject(eventType string) string {
	return e.subjectPrefix + ".round." + eventType
}

// Publish hands the event to the NATS client, which buffers while
// reconnecting, so the game loop never waits on the network.
func (e *Emitter) Publish(ev game.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Encode event failed", "type", ev.Type, "err", err)
		return
	}
	if err := e.conn.Publish(e.Subject(ev.Type), data); err != nil {
		logger.Warn("NATS publish failed", "type", ev.Type, "round", ev.RoundNumber, "err", err)
	}
}

func (e *Emitter) Close() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Drain(); err != nil {
		e.conn.Close()
	}
}
