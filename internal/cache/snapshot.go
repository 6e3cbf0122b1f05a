package cache

import (
	"context"
	"encoding/json"
	"time"

	"riskcrash/internal/game"
	"riskcrash/internal/logger"
)

const (
	KEY_CURRENT_ROUND = "crash:round:current"
	CHANNEL_EVENTS    = "crash:events"
	SNAPSHOT_TTL      = 5 * time.Minute
	SNAPSHOT_BUFFER   = 512
)

// RoundSource is the read side of the round engine the publisher snapshots.
type RoundSource interface {
	CurrentRound() *game.RoundView
}

// SnapshotPublisher mirrors the live round into Redis so other processes can
// read it without holding a websocket: the latest view under
// KEY_CURRENT_ROUND and every event on CHANNEL_EVENTS.
type SnapshotPublisher struct {
	cache  Service
	source RoundSource
	events chan game.Event
}

func NewSnapshotPublisher(cache Service, source RoundSource) *SnapshotPublisher {
	return &SnapshotPublisher{
		cache:  cache,
		source: source,
		events: make(chan game.Event, SNAPSHOT_BUFFER),
	}
}

// SetSource attaches the engine once it exists. Call it before Run.
func (p *SnapshotPublisher) SetSource(source RoundSource) {
	p.source = source
}

// Publish queues the event. When Redis falls behind, events are dropped
// rather than slowing the game loop.
func (p *SnapshotPublisher) Publish(e game.Event) {
	select {
	case p.events <- e:
	default:
		logger.Warn("Redis snapshot queue full, dropping event", "type", e.Type, "round", e.RoundNumber)
	}
}

// Run drains the queue until ctx is done.
func (p *SnapshotPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-p.events:
			p.write(ctx, e)
		}
	}
}

func (p *SnapshotPublisher) write(ctx context.Context, e game.Event) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	// Multiplier ticks only go to the channel; the stored view changes on
	// lifecycle events.
	if e.Type != game.EventUpdate && p.source != nil {
		if view := p.source.CurrentRound(); view != nil {
			if err := p.cache.SetJSON(ctx, KEY_CURRENT_ROUND, view, SNAPSHOT_TTL); err != nil {
				logger.Warn("Redis snapshot write failed", "err", err)
			}
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		logger.Error("Encode event failed", "err", err)
		return
	}
	if err := p.cache.GetClient().Publish(ctx, CHANNEL_EVENTS, data).Err(); err != nil {
		logger.Warn("Redis publish failed", "err", err)
	}
}

// CachedRound reads the mirrored view.
func CachedRound(ctx context.Context, cache Service) (*game.RoundView, error) {
	var view game.RoundView
	ok, err := cache.GetJSON(ctx, KEY_CURRENT_ROUND, &view)
	if err != nil || !ok {
		return nil, err
	}
	return &view, nil
}
