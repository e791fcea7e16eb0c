package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/order"
	"github.com/JaloliddinLapasov/DokonUz/pkg/idempotency"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
)

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID string             `json:"customer_id"`
	Lines      []orderLineRequest `json:"lines"`
}

type updateOrderRequest struct {
	ID         string  `json:"id,omitempty"`
	CustomerID *string `json:"customer_id,omitempty"`
}

type orderLineResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	CustomerID    string              `json:"customer_id"`
	Lines         []orderLineResponse `json:"lines"`
	TotalAmount   string              `json:"total_amount"`
	PaymentStatus string              `json:"payment_status"`
	GatewayRef    string              `json:"gateway_ref,omitempty"`
	Version       int                 `json:"version"`
	CreatedAt     string              `json:"created_at"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, orderLineResponse{
			ProductID: string(l.ProductID),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.String(),
			LineTotal: l.LineTotal().String(),
		})
	}
	return orderResponse{
		ID:            string(o.ID),
		CustomerID:    string(o.CustomerID),
		Lines:         lines,
		TotalAmount:   o.TotalAmount.String(),
		PaymentStatus: string(o.PaymentStatus),
		GatewayRef:    o.GatewayRef,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Orders.Get(r.Context(), domain.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.CustomerID == "" {
		badRequest(w, "customer_id is required")
		return
	}

	// Повтор с тем же ключом возвращает прежний заказ, резервов не трогаем.
	key := idempotency.Key(r)
	if key != "" && s.deps.Idempotency != nil {
		if prior, err := s.deps.Idempotency.LookupIdempotencyKey(r.Context(), key); err == nil {
			o, ferr := s.deps.Orders.Get(r.Context(), prior)
			if ferr == nil {
				writeJSON(w, http.StatusOK, toOrderResponse(o))
				return
			}
		}
	}

	lines := make([]order.LineRequest, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, order.LineRequest{ProductID: domain.ProductID(l.ProductID), Quantity: l.Quantity})
	}

	o, err := s.deps.Orders.Create(r.Context(), domain.CustomerID(req.CustomerID), lines)
	if err != nil {
		if s.deps.OrderMetrics != nil && errors.Is(err, domain.ErrInsufficientStock) {
			s.deps.OrderMetrics.InsufficientStock.Inc()
		}
		writeError(w, err)
		return
	}

	if key != "" && s.deps.Idempotency != nil {
		if err := s.deps.Idempotency.SaveIdempotencyKey(r.Context(), key, o.ID); err != nil {
			s.deps.Logger.Warn("idempotency key not saved",
				logging.OrderID(string(o.ID)), zap.Error(err))
		}
	}
	if s.deps.OrderMetrics != nil {
		s.deps.OrderMetrics.Created.Inc()
	}
	s.deps.Logger.Info("order created",
		logging.OrderID(string(o.ID)),
		zap.String("customer_id", string(o.CustomerID)),
		zap.Int("lines", len(o.Lines)),
		zap.String("total", o.TotalAmount.String()))

	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req updateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	cmd := order.UpdateCommand{OrderID: domain.OrderID(req.ID)}
	if req.CustomerID != nil {
		cid := domain.CustomerID(*req.CustomerID)
		cmd.CustomerID = &cid
	}
	o, err := s.deps.Orders.Update(r.Context(), domain.OrderID(chi.URLParam(r, "id")), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := domain.OrderID(chi.URLParam(r, "id"))
	if err := s.deps.Orders.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Logger.Info("order deleted", logging.OrderID(string(id)))
	w.WriteHeader(http.StatusNoContent)
}
