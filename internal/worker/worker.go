package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-engine/internal/broker"
	"pos-engine/internal/ledger"
	"pos-engine/internal/models"
	"pos-engine/internal/syncer"
	"pos-engine/internal/util"
)

// SyncWorker periodically reconciles local state against the remote:
// pull the snapshot, replay queued pushes, sweep expired cart holds.
type SyncWorker struct {
	syncer    *syncer.Syncer
	ledger    *ledger.Ledger
	publisher *broker.EventPublisher
	interval  time.Duration
	actorID   string
	logger    *zap.Logger
}

// NewSyncWorker creates a reconciliation worker. publisher may be nil.
func NewSyncWorker(s *syncer.Syncer, l *ledger.Ledger, publisher *broker.EventPublisher, interval time.Duration, actorID string) *SyncWorker {
	return &SyncWorker{
		syncer:    s,
		ledger:    l,
		publisher: publisher,
		interval:  interval,
		actorID:   actorID,
		logger:    util.NamedLogger("worker"),
	}
}

// Start runs reconciliation passes until the context is cancelled.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sync worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sync worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *SyncWorker) pass(ctx context.Context) {
	if err := w.syncer.Replay(ctx); err != nil {
		w.logger.Warn("Pending action replay failed", zap.Error(err))
	}
	if err := w.syncer.Pull(ctx); err != nil {
		// Remote gone is a normal condition; local state stays authoritative.
		w.logger.Debug("Snapshot pull failed", zap.Error(err))
	}

	dropped, err := w.ledger.ExpireStale(ctx)
	if err != nil {
		w.logger.Warn("Expiry sweep failed", zap.Error(err))
		return
	}
	for _, r := range dropped {
		w.publishExpired(ctx, r)
	}
}

func (w *SyncWorker) publishExpired(ctx context.Context, r models.Reservation) {
	if w.publisher == nil {
		return
	}
	event := &models.ReservationExpiredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReservationExpired,
			ActorID:   w.actorID,
			Timestamp: time.Now(),
		},
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
	}
	if err := w.publisher.PublishReservationExpired(ctx, event); err != nil {
		w.logger.Error("Failed to publish ReservationExpired event", zap.Error(err))
	}
}

// KitchenWorker consumes order events for the kitchen display: it logs
// which order numbers opened, settled or went away.
type KitchenWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewKitchenWorker creates a kitchen display worker.
func NewKitchenWorker(consumer *broker.Consumer) *KitchenWorker {
	logger := util.NamedLogger("kitchen")
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderFinalized(func(_ context.Context, event *models.OrderFinalizedEvent) error {
		logger.Info("Order settled",
			zap.Int("order_number", event.OrderNumber),
			zap.String("table_id", event.TableID),
			zap.Int("items", len(event.Items)))
		return nil
	})
	eventHandler.OnOrderCancelled(func(_ context.Context, event *models.OrderCancelledEvent) error {
		logger.Info("Order cancelled",
			zap.Int("order_number", event.OrderNumber),
			zap.String("table_id", event.TableID),
			zap.String("reason", event.Reason))
		return nil
	})

	return &KitchenWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *KitchenWorker) Start(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *KitchenWorker) Stop() error {
	return w.consumer.Close()
}
