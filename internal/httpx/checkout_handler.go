package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-pipeline/internal/cart"
	"github.com/ariefcatur/go-checkout-pipeline/internal/checkout"
	"github.com/ariefcatur/go-checkout-pipeline/internal/inventory"
	"github.com/ariefcatur/go-checkout-pipeline/internal/order"
	"github.com/ariefcatur/go-checkout-pipeline/internal/payment"
	"github.com/ariefcatur/go-checkout-pipeline/internal/redisx"
)

// Handler exposes the checkout pipeline: cart CRUD, the single
// submit_checkout entry point, order lookup and stock administration.
type Handler struct {
	Carts       cart.Store
	Orders      order.Store
	Ledger      inventory.Ledger
	Coordinator *checkout.Coordinator
	Redis       *redis.Client // optional order-status cache
	Log         *zap.Logger
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/carts", h.createCart)
	r.Get("/carts/{id}", h.getCart)
	r.Post("/carts/{id}/items", h.addItem)
	r.Put("/carts/{id}/items/{variant}", h.updateQuantity)
	r.Delete("/carts/{id}/items/{variant}", h.removeItem)

	r.Post("/checkout", h.submitCheckout)
	r.Get("/orders/{id}", h.getOrder)

	r.Put("/variants/{id}/stock", h.setStock)
	r.Get("/variants/{id}/stock", h.getStock)
}

type CreateCartReq struct {
	CustomerRef string `json:"customer_ref"`
	Currency    string `json:"currency"`
}

type AddItemReq struct {
	VariantID      string `json:"variant_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Version        uint64 `json:"version"`
}

type UpdateQuantityReq struct {
	Quantity int    `json:"quantity"`
	Version  uint64 `json:"version"`
}

type RemoveItemReq struct {
	Version uint64 `json:"version"`
}

type CheckoutReq struct {
	CartID        string `json:"cart_id"`
	CustomerRef   string `json:"customer_ref"`
	PaymentMethod string `json:"payment_method"`
}

type CheckoutResp struct {
	OrderID    string      `json:"order_id"`
	State      order.State `json:"state"`
	TotalCents int64       `json:"total_cents"`
}

type SetStockReq struct {
	Total int `json:"total"`
}

type orderStatusResp struct {
	OrderID    string             `json:"order_id"`
	State      order.State        `json:"state"`
	TotalCents int64              `json:"total_cents"`
	Currency   string             `json:"currency"`
	Audit      []order.Transition `json:"audit"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, errStatus(err), map[string]string{"error": err.Error()})
}

// errStatus maps the pipeline's error taxonomy onto HTTP codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, checkout.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, cart.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, inventory.ErrVariantNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrVersionConflict),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, payment.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, payment.ErrDeclined),
		errors.Is(err, payment.ErrCaptureFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	var req CreateCartReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.CustomerRef == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing customer_ref"})
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c := cart.New(req.CustomerRef, req.Currency)
	if err := h.Carts.Create(ctx, c); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// mutateCart applies fn against the caller's version of the cart. On a
// version race the caller gets 409 and retries with the fresh version.
func (h *Handler) mutateCart(w http.ResponseWriter, r *http.Request, version uint64, fn func(*cart.Cart) error) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Carts.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if c.Version != version {
		writeErr(w, fmt.Errorf("%w: have %d, want %d", cart.ErrVersionConflict, version, c.Version))
		return
	}
	if err := fn(c); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.Carts.Update(ctx, c); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.VariantID == "" || req.Quantity <= 0 || req.UnitPriceCents < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item"})
		return
	}
	h.mutateCart(w, r, req.Version, func(c *cart.Cart) error {
		c.AddItem(req.VariantID, req.Quantity, req.UnitPriceCents)
		return nil
	})
}

func (h *Handler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be > 0"})
		return
	}
	variant := chi.URLParam(r, "variant")
	h.mutateCart(w, r, req.Version, func(c *cart.Cart) error {
		return c.UpdateQuantity(variant, req.Quantity)
	})
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	var req RemoveItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	variant := chi.URLParam(r, "variant")
	h.mutateCart(w, r, req.Version, func(c *cart.Cart) error {
		return c.RemoveItem(variant)
	})
}

func (h *Handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.CartID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing cart_id"})
		return
	}

	c, err := h.Carts.Get(r.Context(), req.CartID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.CustomerRef == "" {
		req.CustomerRef = c.CustomerRef
	}
	snap := c.Snapshot(time.Now().UTC())

	o, err := h.Coordinator.Submit(r.Context(), snap, req.CustomerRef, req.PaymentMethod)
	if err != nil {
		writeErr(w, err)
		return
	}

	// The order owns the line items now; the cart is done.
	if err := h.Carts.Delete(r.Context(), c.ID); err != nil {
		h.Log.Warn("cart delete after checkout failed",
			zap.String("cart_id", c.ID), zap.Error(err))
	}
	h.cacheOrderStatus(r.Context(), o)

	writeJSON(w, http.StatusCreated, CheckoutResp{OrderID: o.ID, State: o.State, TotalCents: o.TotalCents})
}

func (h *Handler) cacheOrderStatus(ctx context.Context, o *order.Order) {
	if h.Redis == nil {
		return
	}
	body, err := json.Marshal(orderStatusResp{
		OrderID: o.ID, State: o.State, TotalCents: o.TotalCents, Currency: o.Currency, Audit: o.Audit,
	})
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheOrderStatus(ctx, o)
	writeJSON(w, http.StatusOK, orderStatusResp{
		OrderID: o.ID, State: o.State, TotalCents: o.TotalCents, Currency: o.Currency, Audit: o.Audit,
	})
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	var req SetStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Total < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "total must be >= 0"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	variantID := chi.URLParam(r, "id")
	if err := h.Ledger.SetStock(ctx, variantID, req.Total); err != nil {
		writeErr(w, err)
		return
	}
	s, err := h.Ledger.Stock(ctx, variantID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Ledger.Stock(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
