package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
)

type paymentRequest struct {
	OrderID string `json:"order_id"`
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.OrderID == "" {
		badRequest(w, "order_id is required")
		return
	}
	o, err := s.deps.Orders.MarkPaid(r.Context(), domain.OrderID(req.OrderID))
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Logger.Info("order paid",
		logging.OrderID(string(o.ID)),
		zap.String("gateway_ref", o.GatewayRef),
		zap.String("amount", o.TotalAmount.String()))
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.OrderID == "" {
		badRequest(w, "order_id is required")
		return
	}
	o, err := s.deps.Orders.Refund(r.Context(), domain.OrderID(req.OrderID))
	if err != nil {
		writeError(w, err)
		return
	}
	s.deps.Logger.Info("order refunded",
		logging.OrderID(string(o.ID)),
		zap.String("amount", o.TotalAmount.String()))
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
