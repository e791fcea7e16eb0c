package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/auth"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/domain"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Username == "" || req.Password == "" {
		badRequest(w, "username and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	role := req.Role
	if role == "" {
		role = domain.RoleCustomer
	}
	u := domain.User{Username: req.Username, PasswordHash: hash, Role: role}
	if err := s.deps.Users.CreateUser(r.Context(), &u); err != nil {
		s.deps.Logger.Warn("register failed", zap.String("username", req.Username), zap.Error(err))
		writeError(w, err)
		return
	}

	s.deps.Logger.Info("user registered", zap.String("username", u.Username))
	writeJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "username": u.Username, "role": u.Role})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid json")
		return
	}

	u, err := s.deps.Users.FindUserByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		s.deps.Logger.Warn("invalid login attempt", zap.String("username", req.Username))
		writeError(w, domain.ErrInvalidCredentials)
		return
	}

	token, err := s.deps.Issuer.Issue(string(u.ID), u.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}
