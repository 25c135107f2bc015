package syncer

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-engine/internal/kvstore"
	"pos-engine/internal/models"
	"pos-engine/internal/orders"
	"pos-engine/internal/util"
)

// Syncer keeps local state usable while the remote backend is
// unreachable and converges back when it returns. Mutating actions go
// through it: the local state machine is the oversell authority, the
// remote is pushed to immediately and replayed later when it fails.
// No local rollback ever happens on a permanent remote failure; the
// user-visible effect is "eventually reconciled" with local wins.
type Syncer struct {
	store   kvstore.Store
	gateway RemoteGateway
	machine *orders.Machine
	logger  *zap.Logger

	// Pull never runs concurrently with itself; re-triggers are dropped.
	pulling atomic.Bool
}

// New creates a syncer.
func New(store kvstore.Store, gateway RemoteGateway, machine *orders.Machine) *Syncer {
	return &Syncer{
		store:   store,
		gateway: gateway,
		machine: machine,
		logger:  util.NamedLogger("syncer"),
	}
}

// AddItem reserves and adds an item locally, then pushes it to the
// remote. A remote failure leaves the local effect in place and queues
// the push for replay. Returns false when stock was insufficient.
func (s *Syncer) AddItem(ctx context.Context, tableID, productID string, quantity int) (*models.Order, bool, error) {
	order, ok, err := s.machine.AddItem(ctx, tableID, productID, quantity)
	if err != nil || !ok {
		return nil, ok, err
	}

	var item *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ProductID == productID {
			item = &order.Items[i]
			break
		}
	}
	if item == nil {
		return order, true, nil
	}

	if err := s.gateway.CreateOrderItem(ctx, tableID, *item); err != nil {
		s.remoteFailed(ctx, models.ActionCreateItem, err, models.PendingAction{
			Type:    models.ActionCreateItem,
			TableID: tableID,
			ItemID:  item.ID,
			Item:    item,
		})
	}
	return order, true, nil
}

// RemoveItem drops an item locally and pushes the deletion.
func (s *Syncer) RemoveItem(ctx context.Context, tableID, itemID string) (*models.Order, error) {
	order, err := s.machine.RemoveItem(ctx, tableID, itemID)
	if err != nil {
		return nil, err
	}

	if err := s.gateway.DeleteOrderItem(ctx, tableID, itemID); err != nil {
		s.remoteFailed(ctx, models.ActionDeleteItem, err, models.PendingAction{
			Type:    models.ActionDeleteItem,
			TableID: tableID,
			ItemID:  itemID,
		})
	}
	return order, nil
}

// ConfirmPayment attempts the remote confirm first; whatever the remote
// says, the local Finalized transition still occurs, consuming stock
// locally. A remote failure is queued for replay.
func (s *Syncer) ConfirmPayment(ctx context.Context, tableID string) (*models.Order, error) {
	before, err := s.machine.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	payload := ConfirmPaymentPayload{
		OrderNumber: before.OrderNumber,
		Items:       before.Items,
	}
	if _, err := s.gateway.ConfirmPayment(ctx, tableID, payload); err != nil {
		s.remoteFailed(ctx, models.ActionConfirmPayment, err, models.PendingAction{
			Type:    models.ActionConfirmPayment,
			TableID: tableID,
		})
	}

	return s.machine.Finalize(ctx, tableID)
}

// Cancel releases the tab locally and pushes the item deletions.
func (s *Syncer) Cancel(ctx context.Context, tableID, reason string) error {
	before, err := s.machine.GetTable(ctx, tableID)
	if err != nil {
		return err
	}

	if err := s.machine.Cancel(ctx, tableID, reason); err != nil {
		return err
	}

	for _, item := range before.Items {
		if err := s.gateway.DeleteOrderItem(ctx, tableID, item.ID); err != nil {
			s.remoteFailed(ctx, models.ActionDeleteItem, err, models.PendingAction{
				Type:    models.ActionDeleteItem,
				TableID: tableID,
				ItemID:  item.ID,
			})
		}
	}
	return nil
}

func (s *Syncer) remoteFailed(ctx context.Context, action string, cause error, pending models.PendingAction) {
	util.SyncPushFailuresTotal.WithLabelValues(action).Inc()
	s.logger.Warn("Remote push failed, keeping local state authoritative",
		zap.String("action", action),
		zap.String("table_id", pending.TableID),
		zap.Error(cause))

	pending.ID = uuid.New().String()
	pending.CreatedAt = time.Now()
	if err := s.enqueue(ctx, pending); err != nil {
		s.logger.Error("Failed to queue action for replay", zap.Error(err))
	}
}

func decodePending(raw []byte) []models.PendingAction {
	if raw == nil {
		return nil
	}
	var list []models.PendingAction
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

func (s *Syncer) enqueue(ctx context.Context, action models.PendingAction) error {
	return s.store.Update(ctx, kvstore.KeyPendingActions, func(current []byte) ([]byte, error) {
		return json.Marshal(append(decodePending(current), action))
	})
}

// PendingActions returns the queued replays.
func (s *Syncer) PendingActions(ctx context.Context) ([]models.PendingAction, error) {
	raw, err := s.store.Get(ctx, kvstore.KeyPendingActions)
	if err != nil && err != kvstore.ErrNotFound {
		return nil, err
	}
	return decodePending(raw), nil
}

// Replay retries every queued action against the remote, dropping the
// ones that go through. Failures stay queued for the next pass.
func (s *Syncer) Replay(ctx context.Context) error {
	pending, err := s.PendingActions(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	done := map[string]bool{}
	for _, action := range pending {
		var err error
		switch action.Type {
		case models.ActionCreateItem:
			if action.Item != nil {
				err = s.gateway.CreateOrderItem(ctx, action.TableID, *action.Item)
			}
		case models.ActionDeleteItem:
			err = s.gateway.DeleteOrderItem(ctx, action.TableID, action.ItemID)
		case models.ActionConfirmPayment:
			// The tab was already reset locally; the queued confirm only
			// tells the backend the sale happened.
			_, err = s.gateway.ConfirmPayment(ctx, action.TableID, ConfirmPaymentPayload{})
		default:
			s.logger.Warn("Dropping unknown pending action", zap.String("type", action.Type))
		}
		if err != nil {
			s.logger.Debug("Replay still failing",
				zap.String("action_id", action.ID),
				zap.Error(err))
			continue
		}
		done[action.ID] = true
		util.SyncReplaysTotal.Inc()
	}

	if len(done) == 0 {
		return nil
	}
	return s.store.Update(ctx, kvstore.KeyPendingActions, func(current []byte) ([]byte, error) {
		var kept []models.PendingAction
		for _, action := range decodePending(current) {
			if !done[action.ID] {
				kept = append(kept, action)
			}
		}
		if len(kept) == 0 {
			return nil, nil
		}
		return json.Marshal(kept)
	})
}

// Pull fetches the remote snapshot and merges it into local state. The
// remote is a cache invalidation signal, not a ledger authority: tables
// with unconfirmed in-flight local work keep their local fields. At most
// one Pull runs at a time; a re-trigger while one is running is dropped.
func (s *Syncer) Pull(ctx context.Context) error {
	if !s.pulling.CompareAndSwap(false, true) {
		return nil
	}
	defer s.pulling.Store(false)

	start := time.Now()
	remote, err := s.gateway.ListOrders(ctx)
	if err != nil {
		s.logger.Warn("Remote snapshot unavailable, staying local", zap.Error(err))
		return err
	}
	util.SyncPullLatency.Observe(time.Since(start).Seconds())

	return s.store.Update(ctx, kvstore.KeyOrders, func(current []byte) ([]byte, error) {
		var local []models.Order
		if current != nil {
			if err := json.Unmarshal(current, &local); err != nil {
				local = nil
			}
		}
		return json.Marshal(MergeOrders(local, remote))
	})
}

// MergeOrders merges a remote snapshot into local state. For each table:
// when local holds unconfirmed in-flight items or an order number and
// the remote side does not, local is ahead and wins; otherwise the
// remote fields are adopted. Tables only one side knows about are kept.
func MergeOrders(local, remote []models.Order) []models.Order {
	localByID := make(map[string]*models.Order, len(local))
	for i := range local {
		localByID[local[i].ID] = &local[i]
	}

	merged := make([]models.Order, 0, len(remote))
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		seen[r.ID] = true
		if l, ok := localByID[r.ID]; ok && l.HasUnconfirmedWork() && !r.HasUnconfirmedWork() {
			merged = append(merged, *l)
			continue
		}
		merged = append(merged, r)
	}

	for i := range local {
		if !seen[local[i].ID] {
			merged = append(merged, local[i])
		}
	}
	return merged
}
