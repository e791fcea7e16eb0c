package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type categoryResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func toCategoryResponse(c *domain.Category) categoryResponse {
	return categoryResponse{ID: string(c.ID), Name: c.Name, Description: c.Description}
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Categories.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for i := range categories {
		out = append(out, toCategoryResponse(&categories[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Categories.GetCategory(r.Context(), domain.CategoryID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryResponse(c))
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}
	c := domain.Category{Name: req.Name, Description: req.Description}
	if err := s.deps.Categories.CreateCategory(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryResponse(&c))
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	c := domain.Category{
		ID:          domain.CategoryID(chi.URLParam(r, "id")),
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.deps.Categories.UpdateCategory(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryResponse(&c))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Categories.DeleteCategory(r.Context(), domain.CategoryID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
