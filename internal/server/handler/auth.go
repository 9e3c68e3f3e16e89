package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// AuthService is the sign-in surface the handler needs.
type AuthService interface {
	IssueNonce(ctx context.Context, address string) (nonce, message string, err error)
	Verify(ctx context.Context, address, signature string) (string, domain.Session, error)
	Revoke(ctx context.Context, token string) error
}

// AuthHandler serves the wallet sign-in endpoints.
type AuthHandler struct {
	auth   AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logHandler(logger, "auth")}
}

type nonceRequest struct {
	Address string `json:"address"`
}

type nonceResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

// IssueNonce handles POST /api/auth/nonce. It returns a one-time nonce and
// the exact message the wallet must sign.
func (h *AuthHandler) IssueNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	nonce, message, err := h.auth.IssueNonce(r.Context(), req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	writeJSON(w, http.StatusOK, nonceResponse{Nonce: nonce, Message: message})
}

type verifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Verify handles POST /api/auth/verify. On a valid signature over the issued
// nonce message it returns a session token.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	token, session, err := h.auth.Verify(r.Context(), req.Address, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNonceInvalid):
			writeError(w, http.StatusUnauthorized, "nonce missing or expired, request a new one")
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "signature verification failed")
		default:
			h.logger.ErrorContext(r.Context(), "verify sign-in", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Token:     token,
		Address:   session.Address,
		ExpiresAt: session.ExpiresAt,
	})
}

// Logout handles POST /api/auth/logout. It revokes the presented session
// token; an invalid token is a no-op.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		writeError(w, http.StatusBadRequest, "missing bearer token")
		return
	}

	if err := h.auth.Revoke(r.Context(), strings.TrimSpace(parts[1])); err != nil {
		h.logger.ErrorContext(r.Context(), "revoke session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
