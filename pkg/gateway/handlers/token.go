package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aj47/awaken-ambience/pkg/gateway/apierror"
	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
	"github.com/aj47/awaken-ambience/pkg/gateway/mw"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

// TokenHandler issues bearer tokens for username/password credentials.
type TokenHandler struct {
	Store    memory.Store
	Verifier *auth.Verifier
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "invalid json body"}, reqID)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		apierror.Write(w, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "username and password are required"}, reqID)
		return
	}

	hash, err := h.Store.GetUserPasswordHash(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			// Same response as a bad password; do not reveal which accounts exist.
			apierror.Write(w, &apierror.Error{Type: apierror.ErrAuthentication, Message: "invalid username or password"}, reqID)
			return
		}
		apierror.Write(w, err, reqID)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		apierror.Write(w, &apierror.Error{Type: apierror.ErrAuthentication, Message: "invalid username or password"}, reqID)
		return
	}

	token, expiresAt, err := h.Verifier.Issue(req.Username)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}
