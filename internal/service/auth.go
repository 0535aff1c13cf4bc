package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-kratos/kratos/v2/log"

	"healthpay-gateway/internal/biz"
	"healthpay-gateway/internal/gateway"
	pkglog "healthpay-gateway/pkg/log"
)

// AuthService serves the token endpoints the gateway owns directly.
// Refresh is public; issuance is for trusted internal callers only and
// must never be routed from the public ingress.
type AuthService struct {
	tokens *biz.TokenUseCase
	log    *pkglog.LogHelper
}

// NewAuthService creates the auth service.
func NewAuthService(tokens *biz.TokenUseCase, logger log.Logger) *AuthService {
	return &AuthService{
		tokens: tokens,
		log:    pkglog.NewLogHelper(logger),
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type issueRequest struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone"`
	Role   string `json:"role"`
}

type tokenResponse struct {
	Success bool           `json:"success"`
	Data    *biz.TokenPair `json:"data"`
}

// HandleRefresh exchanges a valid refresh token for a new pair.
// POST /v2/auth/refresh
func (s *AuthService) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		gateway.WriteError(w, http.StatusMethodNotAllowed, gateway.CodeNotFound, "method not allowed")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		gateway.WriteError(w, http.StatusBadRequest, gateway.CodeInvalidToken, "refreshToken is required")
		return
	}

	pair, err := s.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, biz.ErrTokenExpired) {
			gateway.WriteError(w, http.StatusUnauthorized, gateway.CodeTokenExpired, "refresh token has expired")
		} else {
			gateway.WriteError(w, http.StatusUnauthorized, gateway.CodeInvalidToken, "refresh token is invalid")
		}
		return
	}

	gateway.WriteJSON(w, http.StatusOK, &tokenResponse{Success: true, Data: pair})
}

// HandleIssue mints a token pair for an authenticated subject. The auth
// service calls this after verifying credentials.
// POST /internal/v2/tokens
func (s *AuthService) HandleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		gateway.WriteError(w, http.StatusMethodNotAllowed, gateway.CodeNotFound, "method not allowed")
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Role == "" {
		gateway.WriteError(w, http.StatusBadRequest, gateway.CodeInvalidToken, "userId and role are required")
		return
	}

	pair, err := s.tokens.IssuePair(r.Context(), req.UserID, req.Phone, req.Role)
	if err != nil {
		s.log.Auth("token issuance failed", "user_id", req.UserID, "error", err)
		gateway.WriteError(w, http.StatusInternalServerError, gateway.CodeBadGateway, "failed to issue tokens")
		return
	}

	gateway.WriteJSON(w, http.StatusOK, &tokenResponse{Success: true, Data: pair})
}
