package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
)

func newTokenHandler(t *testing.T) (TokenHandler, *fakeStore, *auth.Verifier) {
	t.Helper()
	store := newFakeStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	store.users["alice"] = string(hash)
	verifier := auth.NewVerifier("topsecret", time.Hour)
	return TokenHandler{Store: store, Verifier: verifier}, store, verifier
}

func TestToken_IssuesVerifiableToken(t *testing.T) {
	h, _, verifier := newTokenHandler(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(`{"username":"alice","password":"hunter2"}`))
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp struct {
		AccessToken string    `json:"access_token"`
		TokenType   string    `json:"token_type"`
		ExpiresAt   time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.TokenType != "bearer" {
		t.Fatalf("token_type=%q", resp.TokenType)
	}
	if resp.ExpiresAt.Before(time.Now()) {
		t.Fatalf("expires_at=%v in the past", resp.ExpiresAt)
	}
	username, err := verifier.Verify(resp.AccessToken)
	if err != nil || username != "alice" {
		t.Fatalf("Verify() = %q, %v", username, err)
	}
}

func TestToken_RejectsBadCredentials(t *testing.T) {
	h, _, _ := newTokenHandler(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "wrong password", body: `{"username":"alice","password":"wrong"}`, want: http.StatusUnauthorized},
		{name: "unknown user", body: `{"username":"mallory","password":"hunter2"}`, want: http.StatusUnauthorized},
		{name: "missing fields", body: `{"username":"alice"}`, want: http.StatusBadRequest},
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(tc.body))
			h.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status=%d, want %d; body=%q", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestToken_UnknownUserAndBadPasswordAreIndistinguishable(t *testing.T) {
	h, _, _ := newTokenHandler(t)

	fetch := func(body string) string {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
		h.ServeHTTP(rr, req)
		var env struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env.Error.Message
	}

	unknown := fetch(`{"username":"mallory","password":"x"}`)
	badPass := fetch(`{"username":"alice","password":"x"}`)
	if unknown != badPass {
		t.Fatalf("messages differ: %q vs %q", unknown, badPass)
	}
}
