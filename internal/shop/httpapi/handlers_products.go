package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Stock       int32  `json:"stock"`
	CategoryID  string `json:"category_id,omitempty"`
}

type productResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Stock       int32  `json:"stock"`
	CategoryID  string `json:"category_id,omitempty"`
}

func toProductResponse(p *domain.Product) productResponse {
	return productResponse{
		ID:          string(p.ID),
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.String(),
		Stock:       p.Stock,
		CategoryID:  string(p.CategoryID),
	}
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.deps.Products.ListProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for i := range products {
		out = append(out, toProductResponse(&products[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Products.GetProduct(r.Context(), domain.ProductID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		badRequest(w, "price must be a non-negative decimal")
		return
	}
	if req.Stock < 0 {
		badRequest(w, "stock must be non-negative")
		return
	}
	p := domain.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		Stock:       req.Stock,
		CategoryID:  domain.CategoryID(req.CategoryID),
	}
	if err := s.deps.Products.CreateProduct(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(&p))
}

// handleUpdateProduct edits catalog fields only. Stock never moves through
// this endpoint; it belongs to the ledger.
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.IsNegative() {
		badRequest(w, "price must be a non-negative decimal")
		return
	}
	p := domain.Product{
		ID:          domain.ProductID(chi.URLParam(r, "id")),
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		CategoryID:  domain.CategoryID(req.CategoryID),
	}
	if err := s.deps.Products.UpdateProduct(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	fresh, err := s.deps.Products.GetProduct(r.Context(), p.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(fresh))
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Products.DeleteProduct(r.Context(), domain.ProductID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
