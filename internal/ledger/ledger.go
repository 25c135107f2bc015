package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-engine/internal/catalog"
	"pos-engine/internal/clock"
	"pos-engine/internal/kvstore"
	"pos-engine/internal/models"
	"pos-engine/internal/util"
)

// DefaultCartTTL is how long an unconfirmed cart hold survives before
// being dropped on the next read. Table holds never expire by time.
const DefaultCartTTL = 30 * time.Minute

// Ledger tracks, per product, the quantity reserved by outstanding carts
// and tables. It is the only component allowed to accept or refuse a
// reservation, and ConfirmConsumption is the only path that durably
// consumes stock.
type Ledger struct {
	store   kvstore.Store
	catalog catalog.ProductCatalog
	clock   clock.Clock
	cartTTL time.Duration
	logger  *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithCartTTL overrides the default cart-hold TTL.
func WithCartTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.cartTTL = d
		}
	}
}

// New creates a ledger over the shared store and product catalog.
func New(store kvstore.Store, cat catalog.ProductCatalog, clk clock.Clock, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		catalog: cat,
		clock:   clk,
		cartTTL: DefaultCartTTL,
		logger:  util.NamedLogger("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type state map[string]*models.LedgerEntry

// decode treats corrupt or missing ledger data as "nothing reserved".
func decode(raw []byte) state {
	if raw == nil {
		return state{}
	}
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return state{}
	}
	if s == nil {
		s = state{}
	}
	return s
}

func encode(s state) ([]byte, error) {
	return json.Marshal(s)
}

// entry returns the entry for productID, creating it if absent.
func (s state) entry(productID string) *models.LedgerEntry {
	e, ok := s[productID]
	if !ok {
		e = &models.LedgerEntry{ProductID: productID}
		s[productID] = e
	}
	return e
}

// expire drops unconfirmed cart reservations older than ttl and returns
// what was dropped.
func expire(s state, now time.Time, ttl time.Duration) []models.Reservation {
	var dropped []models.Reservation
	for productID, e := range s {
		kept := e.Reservations[:0]
		for _, r := range e.Reservations {
			stale := r.Kind == models.ReservationKindCart &&
				!r.SaleConfirmed &&
				now.Sub(r.CreatedAt) > ttl
			if stale {
				dropped = append(dropped, r)
				continue
			}
			kept = append(kept, r)
		}
		e.Reservations = kept
		e.Recompute()
		if len(e.Reservations) == 0 {
			delete(s, productID)
		}
	}
	return dropped
}

// Reserve attempts to hold quantity units of a product. It returns false,
// with no side effect, when the product's unreserved stock cannot cover
// the request. Insufficient stock is a normal negative result, not an
// error.
func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int, kind models.ReservationKind, tableID string) (bool, error) {
	if quantity <= 0 {
		return false, nil
	}

	// Stock is independently sourced; read it immediately before the
	// ledger read-modify-write.
	stock, err := l.catalog.GetStock(ctx, productID)
	if err != nil {
		return false, err
	}

	accepted := false
	err = l.store.Update(ctx, kvstore.KeyReservationLedger, func(current []byte) ([]byte, error) {
		s := decode(current)
		expire(s, l.clock.Now(), l.cartTTL)

		e := s.entry(productID)
		available := stock - e.ReservedQuantity
		if available < quantity {
			if len(e.Reservations) == 0 {
				delete(s, productID)
			}
			return encode(s)
		}

		e.Reservations = append(e.Reservations, models.Reservation{
			ID:        uuid.New().String(),
			ProductID: productID,
			Quantity:  quantity,
			Kind:      kind,
			TableID:   tableID,
			CreatedAt: l.clock.Now(),
		})
		e.Recompute()
		accepted = true
		return encode(s)
	})
	if err != nil {
		return false, err
	}

	if accepted {
		util.ReservationsAcceptedTotal.WithLabelValues(string(kind)).Inc()
	} else {
		util.ReservationsRejectedTotal.WithLabelValues(string(kind)).Inc()
		l.logger.Info("Reservation rejected, insufficient stock",
			zap.String("product_id", productID),
			zap.Int("quantity", quantity))
	}
	return accepted, nil
}

// Release removes the oldest matching, non-confirmed reservations up to
// quantity. Releasing more than is reserved clamps at zero and is never
// an error.
func (l *Ledger) Release(ctx context.Context, productID string, quantity int, kind models.ReservationKind, tableID string) error {
	if quantity <= 0 {
		return nil
	}

	return l.store.Update(ctx, kvstore.KeyReservationLedger, func(current []byte) ([]byte, error) {
		s := decode(current)
		expire(s, l.clock.Now(), l.cartTTL)

		e, ok := s[productID]
		if !ok {
			return encode(s)
		}

		remaining := quantity
		kept := e.Reservations[:0]
		for _, r := range e.Reservations {
			matches := remaining > 0 &&
				!r.SaleConfirmed &&
				r.Kind == kind &&
				r.TableID == tableID
			if !matches {
				kept = append(kept, r)
				continue
			}
			if r.Quantity <= remaining {
				remaining -= r.Quantity
				continue
			}
			r.Quantity -= remaining
			remaining = 0
			kept = append(kept, r)
		}
		e.Reservations = kept
		e.Recompute()
		if len(e.Reservations) == 0 {
			delete(s, productID)
		}
		return encode(s)
	})
}

// ConfirmConsumption converts up to quantity units of a table's holds
// into an actual stock decrement. The confirmed entries are marked,
// the on-hand stock is reduced (clamped at zero), and the entries are
// then dropped from the ledger.
func (l *Ledger) ConfirmConsumption(ctx context.Context, productID string, quantity int, tableID string) error {
	if quantity <= 0 {
		return nil
	}

	err := l.store.Update(ctx, kvstore.KeyReservationLedger, func(current []byte) ([]byte, error) {
		s := decode(current)
		expire(s, l.clock.Now(), l.cartTTL)

		e, ok := s[productID]
		if !ok {
			return encode(s)
		}

		remaining := quantity
		for i := range e.Reservations {
			r := &e.Reservations[i]
			if remaining <= 0 || r.SaleConfirmed || r.TableID != tableID {
				continue
			}
			if r.Quantity <= remaining {
				remaining -= r.Quantity
				r.SaleConfirmed = true
				continue
			}
			// Split: confirm only the consumed part.
			rest := models.Reservation{
				ID:        uuid.New().String(),
				ProductID: r.ProductID,
				Quantity:  r.Quantity - remaining,
				Kind:      r.Kind,
				TableID:   r.TableID,
				CreatedAt: r.CreatedAt,
			}
			r.Quantity = remaining
			r.SaleConfirmed = true
			remaining = 0
			e.Reservations = append(e.Reservations, rest)
		}
		e.Recompute()
		return encode(s)
	})
	if err != nil {
		return err
	}

	if err := l.catalog.AdjustStock(ctx, productID, -quantity); err != nil {
		return err
	}
	util.StockConsumedTotal.Add(float64(quantity))

	// Drop the now-confirmed entries.
	return l.store.Update(ctx, kvstore.KeyReservationLedger, func(current []byte) ([]byte, error) {
		s := decode(current)
		e, ok := s[productID]
		if !ok {
			return encode(s)
		}
		kept := e.Reservations[:0]
		for _, r := range e.Reservations {
			if r.SaleConfirmed && r.TableID == tableID {
				continue
			}
			kept = append(kept, r)
		}
		e.Reservations = kept
		e.Recompute()
		if len(e.Reservations) == 0 {
			delete(s, productID)
		}
		return encode(s)
	})
}

// ExpireStale drops unconfirmed cart holds older than the TTL and
// returns them. Every read path also expires opportunistically; this is
// the explicit entry point for periodic sweeps.
func (l *Ledger) ExpireStale(ctx context.Context) ([]models.Reservation, error) {
	var dropped []models.Reservation
	err := l.store.Update(ctx, kvstore.KeyReservationLedger, func(current []byte) ([]byte, error) {
		s := decode(current)
		dropped = expire(s, l.clock.Now(), l.cartTTL)
		return encode(s)
	})
	if err != nil {
		return nil, err
	}

	if len(dropped) > 0 {
		util.ReservationsExpiredTotal.Add(float64(len(dropped)))
		l.logger.Info("Expired stale cart reservations", zap.Int("count", len(dropped)))
	}
	return dropped, nil
}

// Reserved returns the aggregate reserved quantity for a product after
// expiring stale holds.
func (l *Ledger) Reserved(ctx context.Context, productID string) (int, error) {
	if _, err := l.ExpireStale(ctx); err != nil {
		return 0, err
	}

	raw, err := l.store.Get(ctx, kvstore.KeyReservationLedger)
	if err != nil && err != kvstore.ErrNotFound {
		return 0, err
	}
	s := decode(raw)
	e, ok := s[productID]
	if !ok {
		return 0, nil
	}
	return e.ReservedQuantity, nil
}

// Available returns max(0, stock - reserved) for a product.
func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	reserved, err := l.Reserved(ctx, productID)
	if err != nil {
		return 0, err
	}
	stock, err := l.catalog.GetStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	available := stock - reserved
	if available < 0 {
		available = 0
	}
	return available, nil
}
