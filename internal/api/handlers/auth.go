package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oryxsec/scanhub/internal/api/dto"
)

type AuthHandler struct {
	secret string
	expiry time.Duration
}

func NewAuthHandler(secret string, expiry time.Duration) *AuthHandler {
	return &AuthHandler{secret: secret, expiry: expiry}
}

type TokenRequest struct {
	ClientID string `json:"client_id"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token handles POST /auth/token. The endpoint does not exist when auth
// is disabled.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "authentication is disabled"})
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, dto.ErrorResponse{Error: "client_id is required"})
		return
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": req.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(h.expiry).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.secret))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to issue token"})
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.expiry.Seconds()),
	})
}
