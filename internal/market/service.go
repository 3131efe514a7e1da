package market

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/colonyforge/market-engine/internal/logistics"
	"github.com/colonyforge/market-engine/internal/model"
	"github.com/colonyforge/market-engine/internal/pricing"
	"github.com/colonyforge/market-engine/internal/store"
)

// Service exposes the market engine over HTTP.
type Service struct {
	engine  *Engine
	pricer  *pricing.Engine
	store   store.Store
	tracker *logistics.Tracker
}

// NewService creates the HTTP service.
func NewService(engine *Engine, pricer *pricing.Engine, st store.Store, tracker *logistics.Tracker) *Service {
	return &Service{engine: engine, pricer: pricer, store: st, tracker: tracker}
}

// --- Request/Response types ---

// PlaceOrderRequest is the JSON body for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Holder       model.Holder    `json:"holder"`
	SettlementID string          `json:"settlement_id"`
	Resource     string          `json:"resource"`
	Quantity     decimal.Decimal `json:"quantity"`
	OrderType    model.OrderType `json:"order_type"`
	PricePerUnit decimal.Decimal `json:"price_per_unit,omitempty"` // buy orders only
}

// PlaceOrderResponse is returned from POST /api/v1/orders. Order is null
// when a sell order filled completely.
type PlaceOrderResponse struct {
	Filled    bool            `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Order     *model.Order    `json:"order,omitempty"`
}

// ProjectOrderRequest is the JSON body for POST /api/v1/projects/{projectID}/orders.
type ProjectOrderRequest struct {
	SettlementID string          `json:"settlement_id"`
	Resource     string          `json:"resource"`
	Quantity     decimal.Decimal `json:"quantity"`
	Urgency      float64         `json:"urgency"`
}

// ChainStatusRequest is the JSON body for POST /api/v1/supply-chains/{chainID}/status.
type ChainStatusRequest struct {
	Status model.SupplyChainStatus `json:"status"`
}

// --- HTTP Handlers ---

// PlaceOrder handles POST /api/v1/orders
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.engine.PlaceOrder(r.Context(), req.Holder, req.SettlementID,
		req.Resource, req.Quantity, req.PricePerUnit, req.OrderType)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOrder):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrUnknownSettlement), errors.Is(err, ErrNoPrice):
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			slog.Error("place order failed", "err", err)
			writeError(w, "order placement failed", http.StatusInternalServerError)
		}
		return
	}

	resp := PlaceOrderResponse{Filled: order == nil}
	if order != nil {
		resp.Remaining = order.Quantity
		resp.Order = order
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// CreateProjectOrder handles POST /api/v1/projects/{projectID}/orders
func (s *Service) CreateProjectOrder(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req ProjectOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.engine.CreateProjectBuyOrder(r.Context(), projectID,
		req.SettlementID, req.Resource, req.Quantity, req.Urgency)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOrder):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrUnknownSettlement), errors.Is(err, ErrNoPrice):
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			slog.Error("project order failed", "project", projectID, "err", err)
			writeError(w, "project order failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// GetQuote handles GET /api/v1/settlements/{settlementID}/quotes/{resource}
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	settlementID := chi.URLParam(r, "settlementID")
	resource := chi.URLParam(r, "resource")

	quote := s.pricer.Spread(r.Context(), settlementID, resource, pricing.Options{})
	if !quote.HasBid && !quote.HasAsk {
		writeError(w, "no quote available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quote)
}

// ListConditions handles GET /api/v1/settlements/{settlementID}/conditions
func (s *Service) ListConditions(w http.ResponseWriter, r *http.Request) {
	settlementID := chi.URLParam(r, "settlementID")

	conditions, err := s.store.ListConditions(r.Context(), settlementID)
	if err != nil {
		writeError(w, "failed to list conditions", http.StatusInternalServerError)
		return
	}
	if conditions == nil {
		conditions = []model.Condition{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conditions)
}

// ListTrades handles GET /api/v1/settlements/{settlementID}/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	settlementID := chi.URLParam(r, "settlementID")

	trades, err := s.store.ListTrades(r.Context(), settlementID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetSupplyChain handles GET /api/v1/supply-chains/{chainID}
func (s *Service) GetSupplyChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	chain, err := s.store.GetSupplyChain(r.Context(), chainID)
	if err != nil {
		writeError(w, "supply chain not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chain)
}

// UpdateSupplyChain handles POST /api/v1/supply-chains/{chainID}/status
func (s *Service) UpdateSupplyChain(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")

	var req ChainStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var err error
	switch req.Status {
	case model.ChainInTransit:
		err = s.tracker.MarkInTransit(ctx, chainID)
	case model.ChainDelivered:
		err = s.tracker.MarkDelivered(ctx, chainID)
	case model.ChainFailed:
		err = s.tracker.MarkFailed(ctx, chainID)
	default:
		writeError(w, "status must be in_transit, delivered, or failed", http.StatusBadRequest)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "supply chain not found", http.StatusNotFound)
		case errors.Is(err, logistics.ErrInvalidTransition):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "status update failed", http.StatusInternalServerError)
		}
		return
	}

	chain, err := s.store.GetSupplyChain(ctx, chainID)
	if err != nil {
		writeError(w, "supply chain not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chain)
}

// SweepExpired handles POST /api/v1/ticks/order-expiry
func (s *Service) SweepExpired(w http.ResponseWriter, r *http.Request) {
	swept, err := s.engine.SweepExpired(r.Context())
	if err != nil {
		writeError(w, "expiry sweep failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"swept": swept})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
