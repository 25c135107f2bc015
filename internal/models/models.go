package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationKind distinguishes time-limited cart holds from open table tabs.
type ReservationKind string

const (
	ReservationKindCart  ReservationKind = "CART"
	ReservationKindTable ReservationKind = "TABLE"
)

// Reservation is a provisional, not-yet-confirmed hold on inventory quantity.
type Reservation struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	Kind          ReservationKind `json:"kind"`
	TableID       string          `json:"table_id,omitempty"`
	SaleConfirmed bool            `json:"sale_confirmed"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerEntry aggregates all outstanding reservations for one product.
// ReservedQuantity is always recomputed from Reservations, never drifted.
type LedgerEntry struct {
	ProductID        string        `json:"product_id"`
	ReservedQuantity int           `json:"reserved_quantity"`
	Reservations     []Reservation `json:"reservations"`
}

// Recompute derives ReservedQuantity from the constituent reservations.
func (e *LedgerEntry) Recompute() {
	total := 0
	for _, r := range e.Reservations {
		total += r.Quantity
	}
	e.ReservedQuantity = total
}

// SequenceCounter is the shared source of human-visible order numbers,
// reset once per calendar day.
type SequenceCounter struct {
	CurrentHighest int    `json:"current_highest"`
	EpochDate      string `json:"epoch_date"` // YYYY-MM-DD
}

// Product is the catalog view this engine needs: identity and on-hand stock.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Order statuses. Transitions always go through orders.Machine.
const (
	OrderStatusFree      = "FREE"
	OrderStatusOccupied  = "OCCUPIED"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusFinalized = "FINALIZED"
)

// Order is a table and its open tab. OrderNumber is 0 exactly when the
// table is Free, which is exactly when Items is empty.
type Order struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Status       string      `json:"status"`
	OrderNumber  int         `json:"order_number"`
	Items        []OrderItem `json:"items"`
	OwnerActorID string      `json:"owner_actor_id,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// HasUnconfirmedWork reports whether the order carries in-flight local
// state that must survive a remote snapshot merge.
func (o *Order) HasUnconfirmedWork() bool {
	return len(o.Items) > 0 || o.OrderNumber != 0
}

// OrderItem is one line of a tab. Its existence always corresponds to
// exactly one active reservation of matching quantity for (ProductID, table).
type OrderItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// PendingAction is a mutating action that failed remotely and awaits replay.
type PendingAction struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	TableID   string     `json:"table_id"`
	ItemID    string     `json:"item_id,omitempty"`
	Item      *OrderItem `json:"item,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Pending action types.
const (
	ActionCreateItem     = "CREATE_ITEM"
	ActionDeleteItem     = "DELETE_ITEM"
	ActionConfirmPayment = "CONFIRM_PAYMENT"
)
