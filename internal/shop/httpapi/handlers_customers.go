package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type customerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type customerResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

func toCustomerResponse(c *domain.Customer) customerResponse {
	return customerResponse{
		ID:      string(c.ID),
		Name:    c.Name,
		Email:   c.Email,
		Phone:   c.Phone,
		Address: c.Address,
	}
}

func (s *Server) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.deps.Customers.ListCustomers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]customerResponse, 0, len(customers))
	for i := range customers {
		out = append(out, toCustomerResponse(&customers[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Customers.GetCustomer(r.Context(), domain.CustomerID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(c))
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	c := domain.Customer{Name: req.Name, Email: req.Email, Phone: req.Phone, Address: req.Address}
	if err := s.deps.Customers.CreateCustomer(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerResponse(&c))
}

func (s *Server) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	c := domain.Customer{
		ID:      domain.CustomerID(chi.URLParam(r, "id")),
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
	}
	if err := s.deps.Customers.UpdateCustomer(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(&c))
}

func (s *Server) handleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Customers.DeleteCustomer(r.Context(), domain.CustomerID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
