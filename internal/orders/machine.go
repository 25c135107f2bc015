package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-engine/internal/catalog"
	"pos-engine/internal/clock"
	"pos-engine/internal/kvstore"
	"pos-engine/internal/ledger"
	"pos-engine/internal/models"
	"pos-engine/internal/sequence"
	"pos-engine/internal/util"
)

// ErrTableNotFound is returned when an operation names an unknown table.
var ErrTableNotFound = errors.New("table not found")

// ErrTableNotFree is returned when deleting a table that still has an
// open tab.
var ErrTableNotFree = errors.New("table is not free")

// EventSink receives domain events on state transitions. A nil sink is
// allowed; transitions then happen silently.
type EventSink interface {
	PublishOrderOpened(ctx context.Context, event *models.OrderOpenedEvent) error
	PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// Machine governs the table lifecycle:
//
//	Free -> Occupied -> Preparing -> Ready -> Finalized
//
// with Cancel reachable from Occupied, Preparing and Ready, always
// returning to Free. Every transition drives the reservation ledger so
// items and holds stay numerically consistent; direct field mutation of
// a stored order is never allowed.
type Machine struct {
	store   kvstore.Store
	ledger  *ledger.Ledger
	seq     *sequence.Generator
	catalog catalog.ProductCatalog
	events  EventSink
	clock   clock.Clock
	actorID string
	logger  *zap.Logger
}

// NewMachine creates the state machine over the shared store.
func NewMachine(
	store kvstore.Store,
	ldg *ledger.Ledger,
	seq *sequence.Generator,
	cat catalog.ProductCatalog,
	events EventSink,
	clk clock.Clock,
	actorID string,
) *Machine {
	return &Machine{
		store:   store,
		ledger:  ldg,
		seq:     seq,
		catalog: cat,
		events:  events,
		clock:   clk,
		actorID: actorID,
		logger:  util.NamedLogger("orders"),
	}
}

func decodeOrders(raw []byte) []models.Order {
	if raw == nil {
		return nil
	}
	var list []models.Order
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

// normalize re-derives status from item emptiness after ledger
// operations complete, so a transition can never leave an Occupied table
// with zero items or a Free table holding an order number.
func normalize(o *models.Order) {
	if len(o.Items) == 0 {
		o.Status = models.OrderStatusFree
		o.OrderNumber = 0
		o.OwnerActorID = ""
		o.Items = nil
		return
	}
	if o.Status == models.OrderStatusFree {
		o.Status = models.OrderStatusOccupied
	}
}

// mutate runs fn against the stored order list inside a single
// read-modify-write of the orders key.
func (m *Machine) mutate(ctx context.Context, fn func(list []models.Order) ([]models.Order, error)) error {
	return m.store.Update(ctx, kvstore.KeyOrders, func(current []byte) ([]byte, error) {
		next, err := fn(decodeOrders(current))
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
}

func findOrder(list []models.Order, tableID string) int {
	for i := range list {
		if list[i].ID == tableID {
			return i
		}
	}
	return -1
}

// CreateTable adds a table to the pool, starting Free.
func (m *Machine) CreateTable(ctx context.Context, name string) (*models.Order, error) {
	order := models.Order{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    models.OrderStatusFree,
		UpdatedAt: m.clock.Now(),
	}
	err := m.mutate(ctx, func(list []models.Order) ([]models.Order, error) {
		return append(list, order), nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// DeleteTable removes a table from the pool. Only Free tables can be
// deleted; cancel the tab first.
func (m *Machine) DeleteTable(ctx context.Context, tableID string) error {
	return m.mutate(ctx, func(list []models.Order) ([]models.Order, error) {
		i := findOrder(list, tableID)
		if i < 0 {
			return nil, ErrTableNotFound
		}
		if list[i].Status != models.OrderStatusFree {
			return nil, ErrTableNotFree
		}
		return append(list[:i], list[i+1:]...), nil
	})
}

// ListTables returns a snapshot of every table.
func (m *Machine) ListTables(ctx context.Context) ([]models.Order, error) {
	raw, err := m.store.Get(ctx, kvstore.KeyOrders)
	if err != nil && err != kvstore.ErrNotFound {
		return nil, err
	}
	return decodeOrders(raw), nil
}

// GetTable returns one table by id.
func (m *Machine) GetTable(ctx context.Context, tableID string) (*models.Order, error) {
	list, err := m.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	i := findOrder(list, tableID)
	if i < 0 {
		return nil, ErrTableNotFound
	}
	return &list[i], nil
}

// AddItem reserves stock for an item and adds it to the table's tab. The
// first item occupies the table and issues its order number. Returns
// false when the reservation was refused for insufficient stock; the
// sale action must not proceed.
func (m *Machine) AddItem(ctx context.Context, tableID, productID string, quantity int) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "Machine.AddItem")
	defer span.End()

	if quantity <= 0 {
		return nil, false, nil
	}

	product, err := m.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, false, err
	}
	if product == nil {
		return nil, false, fmt.Errorf("unknown product: %s", productID)
	}

	current, err := m.GetTable(ctx, tableID)
	if err != nil {
		return nil, false, err
	}
	firstItem := len(current.Items) == 0

	ok, err := m.ledger.Reserve(ctx, productID, quantity, models.ReservationKindTable, tableID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	orderNumber := current.OrderNumber
	if firstItem {
		orderNumber, err = m.seq.Next(ctx)
		if err != nil {
			// Undo the hold rather than strand it.
			_ = m.ledger.Release(ctx, productID, quantity, models.ReservationKindTable, tableID)
			return nil, false, err
		}
	}

	var result models.Order
	err = m.mutate(ctx, func(list []models.Order) ([]models.Order, error) {
		i := findOrder(list, tableID)
		if i < 0 {
			return nil, ErrTableNotFound
		}
		o := &list[i]

		if len(o.Items) == 0 {
			o.OrderNumber = orderNumber
			o.OwnerActorID = m.actorID
		}

		merged := false
		for j := range o.Items {
			if o.Items[j].ProductID == productID {
				o.Items[j].Quantity += quantity
				o.Items[j].LineTotal = o.Items[j].UnitPrice.Mul(decimal.NewFromInt(int64(o.Items[j].Quantity)))
				merged = true
				break
			}
		}
		if !merged {
			o.Items = append(o.Items, models.OrderItem{
				ID:        uuid.New().String(),
				ProductID: productID,
				Quantity:  quantity,
				UnitPrice: product.Price,
				LineTotal: product.Price.Mul(decimal.NewFromInt(int64(quantity))),
			})
		}

		normalize(o)
		o.UpdatedAt = m.clock.Now()
		result = *o
		return list, nil
	})
	if err != nil {
		_ = m.ledger.Release(ctx, productID, quantity, models.ReservationKindTable, tableID)
		return nil, false, err
	}

	if firstItem {
		util.OrdersOpenedTotal.Inc()
		m.publishOpened(ctx, tableID, result.OrderNumber)
	}
	return &result, true, nil
}

// RemoveItem releases the item's hold and drops it from the tab. When
// the last item goes, the table returns to Free with a cleared order
// number and owner.
func (m *Machine) RemoveItem(ctx context.Context, tableID, itemID string) (*models.Order, error) {
	var removed *models.OrderItem
	var result models.Order

	err := m.mutate(ctx, func(list []models.Order) ([]models.Order, error) {
		i := findOrder(list, tableID)
		if i < 0 {
			return nil, ErrTableNotFound
		}
		o := &list[i]

		for j := range o.Items {
			if o.Items[j].ID == itemID {
				item := o.Items[j]
				removed = &item
				o.Items = append(o.Items[:j], o.Items[j+1:]...)
				break
			}
		}
		if removed == nil {
			return nil, fmt.Errorf("item not found: %s", itemID)
		}

		normalize(o)
		o.UpdatedAt = m.clock.Now()
		result = *o
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.ledger.Release(ctx, removed.ProductID, removed.Quantity, models.ReservationKindTable, tableID); err != nil {
		m.logger.Error("Failed to release hold for removed item",
			zap.String("table_id", tableID),
			zap.String("product_id", removed.ProductID),
			zap.Error(err))
	}
	return &result, nil
}

// MarkPreparing flags the order for the kitchen display. No ledger
// effect; stock is already held.
func (m *Machine) MarkPreparing(ctx context.Context, tableID string) (*models.Order, error) {
	return m.setStatus(ctx, tableID, models.OrderStatusOccupied, models.OrderStatusPreparing)
}

// MarkReady flags the order as ready to serve.
func (m *Machine) MarkReady(ctx context.Context, tableID string) (*models.Order, error) {
	return m.setStatus(ctx, tableID, models.OrderStatusPreparing, models.OrderStatusReady)
}

func (m *Machine) setStatus(ctx context.Context, tableID, from, to string) (*models.Order, error) {
	var result models.Order
	err := m.mutate(ctx, func(list []models.Order) ([]models.Order, error) {
		i := findOrder(list, tableID)
		if i < 0 {
			return nil, ErrTableNotFound
		}
		o := &list[i]
		if o.Status != from {
			return nil, fmt.Errorf("cannot transition %s from %s to %s", tableID, o.Status, to)
		}
		o.Status = to
		normalize(o)
		o.UpdatedAt = m.clock.Now()
		result = *o
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Finalize confirms payment: every item's hold is converted into a
// durable stock decrement and the table resets to Free. Irreversible.
func (m *Machine) Finalize(ctx context.Context, tableID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Machine.Finalize")
	defer span.End()

	before, err := m.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	finalized := *before
	finalized.Status = models.OrderStatusFinalized

	for _, item := range before.Items {
		if err := m.ledger.ConfirmConsumption(ctx, item.ProductID, item.Quantity, tableID); err != nil {
			m.logger.Error("Failed to confirm consumption",
				zap.String("table_id", tableID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	err = m.mutate(ctx, func(list []models.Order) ([]models.Order, error) {
		i := findOrder(list, tableID)
		if i < 0 {
			return nil, ErrTableNotFound
		}
		o := &list[i]
		o.Items = nil
		normalize(o)
		o.UpdatedAt = m.clock.Now()
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersFinalizedTotal.Inc()
	m.publishFinalized(ctx, finalized)
	m.logger.Info("Order finalized",
		zap.String("table_id", tableID),
		zap.Int("order_number", finalized.OrderNumber))
	return &finalized, nil
}

// Cancel releases every unconfirmed hold (no consumption) and resets the
// table to Free.
func (m *Machine) Cancel(ctx context.Context, tableID, reason string) error {
	before, err := m.GetTable(ctx, tableID)
	if err != nil {
		return err
	}

	for _, item := range before.Items {
		if err := m.ledger.Release(ctx, item.ProductID, item.Quantity, models.ReservationKindTable, tableID); err != nil {
			m.logger.Error("Failed to release hold on cancel",
				zap.String("table_id", tableID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	err = m.mutate(ctx, func(list []models.Order) ([]models.Order, error) {
		i := findOrder(list, tableID)
		if i < 0 {
			return nil, ErrTableNotFound
		}
		o := &list[i]
		o.Items = nil
		normalize(o)
		o.UpdatedAt = m.clock.Now()
		return list, nil
	})
	if err != nil {
		return err
	}

	util.OrdersCancelledTotal.Inc()
	m.publishCancelled(ctx, tableID, before.OrderNumber, reason)
	return nil
}

func (m *Machine) baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		ActorID:   m.actorID,
		Timestamp: time.Now(),
	}
}

func (m *Machine) publishOpened(ctx context.Context, tableID string, orderNumber int) {
	if m.events == nil {
		return
	}
	err := m.events.PublishOrderOpened(ctx, &models.OrderOpenedEvent{
		BaseEvent:   m.baseEvent(models.EventTypeOrderOpened),
		TableID:     tableID,
		OrderNumber: orderNumber,
	})
	if err != nil {
		m.logger.Error("Failed to publish OrderOpened event", zap.Error(err))
	}
}

func (m *Machine) publishFinalized(ctx context.Context, order models.Order) {
	if m.events == nil {
		return
	}
	err := m.events.PublishOrderFinalized(ctx, &models.OrderFinalizedEvent{
		BaseEvent:   m.baseEvent(models.EventTypeOrderFinalized),
		TableID:     order.ID,
		OrderNumber: order.OrderNumber,
		Items:       order.Items,
	})
	if err != nil {
		m.logger.Error("Failed to publish OrderFinalized event", zap.Error(err))
	}
}

func (m *Machine) publishCancelled(ctx context.Context, tableID string, orderNumber int, reason string) {
	if m.events == nil {
		return
	}
	err := m.events.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent:   m.baseEvent(models.EventTypeOrderCancelled),
		TableID:     tableID,
		OrderNumber: orderNumber,
		Reason:      reason,
	})
	if err != nil {
		m.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}
