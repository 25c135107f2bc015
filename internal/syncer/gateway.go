package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pos-engine/internal/models"
)

// RemoteGateway is the authoritative backend. It may be unreachable at
// any time; every call is safe to retry because the backend deduplicates
// by entity id, not by call count.
type RemoteGateway interface {
	CreateOrderItem(ctx context.Context, tableID string, item models.OrderItem) error
	DeleteOrderItem(ctx context.Context, tableID, itemID string) error
	ConfirmPayment(ctx context.Context, tableID string, payload ConfirmPaymentPayload) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
}

// ConfirmPaymentPayload carries what the backend needs to settle a tab.
type ConfirmPaymentPayload struct {
	OrderNumber int                `json:"order_number"`
	Items       []models.OrderItem `json:"items"`
}

// DefaultRemoteTimeout bounds every remote call. A timeout is treated
// identically to any other remote failure.
const DefaultRemoteTimeout = 10 * time.Second

// HTTPGateway talks JSON over HTTP to the backend.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway creates a gateway for baseURL with the given per-call
// timeout (DefaultRemoteTimeout when zero).
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode remote response: %w", err)
		}
	}
	return nil
}

func (g *HTTPGateway) CreateOrderItem(ctx context.Context, tableID string, item models.OrderItem) error {
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/tables/%s/items", tableID), item, nil)
}

func (g *HTTPGateway) DeleteOrderItem(ctx context.Context, tableID, itemID string) error {
	return g.do(ctx, http.MethodDelete, fmt.Sprintf("/tables/%s/items/%s", tableID, itemID), nil, nil)
}

func (g *HTTPGateway) ConfirmPayment(ctx context.Context, tableID string, payload ConfirmPaymentPayload) (*models.Order, error) {
	var order models.Order
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/tables/%s/payment", tableID), payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (g *HTTPGateway) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := g.do(ctx, http.MethodGet, "/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}
