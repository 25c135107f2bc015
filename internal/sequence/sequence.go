package sequence

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"pos-engine/internal/clock"
	"pos-engine/internal/kvstore"
	"pos-engine/internal/models"
	"pos-engine/internal/notify"
	"pos-engine/internal/util"
)

// DefaultRetryBudget bounds the verify-after-write loop.
const DefaultRetryBudget = 8

const dateLayout = "2006-01-02"

// Generator issues order numbers unique across all orders issued today,
// safe when independent processes sharing the store call it at nearly
// the same instant.
//
// There is no lock: each call writes its candidate and reads it back. A
// mismatch means another actor won the window, so the call retries with
// a fresh read. Claim broadcasts from other actors raise a local floor
// that shrinks the window further; the generator stays correct, just
// with wider race windows, when the notifier delivers nothing.
type Generator struct {
	store    kvstore.Store
	notifier notify.Notifier
	clock    clock.Clock
	actorID  string
	budget   int
	logger   *zap.Logger

	mu        sync.Mutex
	floor     int
	floorDate string
}

// Option configures a Generator.
type Option func(*Generator)

// WithRetryBudget overrides the verify-after-write retry budget.
func WithRetryBudget(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.budget = n
		}
	}
}

// New creates a generator and subscribes it to claim broadcasts.
func New(store kvstore.Store, notifier notify.Notifier, clk clock.Clock, actorID string, opts ...Option) *Generator {
	g := &Generator{
		store:    store,
		notifier: notifier,
		clock:    clk,
		actorID:  actorID,
		budget:   DefaultRetryBudget,
		logger:   util.NamedLogger("sequence"),
	}
	for _, opt := range opts {
		opt(g)
	}

	notifier.Subscribe(notify.TopicSequenceClaimed, g.onClaim)
	return g
}

// onClaim raises the local floor to the highest number any actor has
// claimed today. Best effort: a missed broadcast only widens the race
// window, it never breaks correctness.
func (g *Generator) onClaim(message []byte) {
	var claim models.SequenceClaim
	if err := json.Unmarshal(message, &claim); err != nil {
		return
	}
	if claim.ActorID == g.actorID {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.clock.Now().Format(dateLayout)
	if g.floorDate != today {
		g.floor = 0
		g.floorDate = today
	}
	if claim.Claimed > g.floor {
		g.floor = claim.Claimed
	}
}

func (g *Generator) floorToday(today string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.floorDate != today {
		return 0
	}
	return g.floor
}

func (g *Generator) raiseFloor(n int, today string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.floorDate != today {
		g.floor = 0
		g.floorDate = today
	}
	if n > g.floor {
		g.floor = n
	}
}

// read returns today's counter, resetting to zero when the stored epoch
// date differs from today. Corrupt counter data is treated the same as
// an absent counter.
func (g *Generator) read(ctx context.Context, today string) models.SequenceCounter {
	reset := models.SequenceCounter{CurrentHighest: 0, EpochDate: today}

	raw, err := g.store.Get(ctx, kvstore.KeySequenceCounter)
	if err != nil {
		return reset
	}

	var counter models.SequenceCounter
	if err := json.Unmarshal(raw, &counter); err != nil {
		return reset
	}
	if counter.EpochDate != today {
		return reset
	}
	return counter
}

func (g *Generator) write(ctx context.Context, value int, today string) error {
	raw, err := json.Marshal(models.SequenceCounter{
		CurrentHighest: value,
		EpochDate:      today,
	})
	if err != nil {
		return err
	}
	return g.store.Set(ctx, kvstore.KeySequenceCounter, raw)
}

// broadcast tells other actors a number was claimed. Failure to deliver
// is logged and otherwise ignored.
func (g *Generator) broadcast(ctx context.Context, claimed int) {
	payload, err := json.Marshal(models.SequenceClaim{
		Claimed: claimed,
		ActorID: g.actorID,
	})
	if err != nil {
		return
	}
	if err := g.notifier.Publish(ctx, notify.TopicSequenceClaimed, payload); err != nil {
		g.logger.Debug("Claim broadcast failed", zap.Error(err))
	}
}

// Next issues the next order number for today.
func (g *Generator) Next(ctx context.Context) (int, error) {
	today := g.clock.Now().Format(dateLayout)

	for attempt := 0; attempt < g.budget; attempt++ {
		counter := g.read(ctx, today)

		highest := counter.CurrentHighest
		if floor := g.floorToday(today); floor > highest {
			highest = floor
		}
		candidate := highest + 1

		if err := g.write(ctx, candidate, today); err != nil {
			return 0, err
		}

		back := g.read(ctx, today)
		if back.CurrentHighest != candidate {
			// Another actor wrote in the window between our read and
			// read-back. Start over from its value.
			util.SequenceRetriesTotal.Inc()
			g.raiseFloor(back.CurrentHighest, today)
			continue
		}

		g.raiseFloor(candidate, today)
		g.broadcast(ctx, candidate)
		util.SequenceIssuedTotal.Inc()
		return candidate, nil
	}

	// Retry budget exhausted: one final unconditional increment without
	// re-verifying. Availability over a strict uniqueness proof; a
	// duplicate here is a display-only anomaly.
	counter := g.read(ctx, today)
	candidate := counter.CurrentHighest + 1
	if err := g.write(ctx, candidate, today); err != nil {
		return 0, err
	}

	util.SequenceFallbacksTotal.Inc()
	util.SequenceIssuedTotal.Inc()
	g.logger.Warn("Sequence retries exhausted, issuing unverified number",
		zap.Int("number", candidate),
		zap.Int("attempts", g.budget))

	g.raiseFloor(candidate, today)
	g.broadcast(ctx, candidate)
	return candidate, nil
}
