package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aj47/awaken-ambience/pkg/gateway/apierror"
	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
	"github.com/aj47/awaken-ambience/pkg/gateway/mw"
	"github.com/aj47/awaken-ambience/pkg/gateway/relay/protocol"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

// UserConfigHandler reads and writes the per-user session configuration.
// Responses always carry the effective configuration with defaults applied.
type UserConfigHandler struct {
	Store memory.Store
}

func (h UserConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	username, ok := usernameFrom(r)
	if !ok {
		apierror.Write(w, auth.ErrInvalidToken, reqID)
		return
	}

	var patch protocol.SessionConfigPatch
	raw, found, err := h.Store.GetUserConfig(r.Context(), username)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	if found {
		// A corrupt stored document falls back to defaults rather than
		// locking the user out of their settings page.
		_ = json.Unmarshal(raw, &patch)
	}
	writeJSON(w, http.StatusOK, protocol.NormalizeConfig(patch))
}

func (h UserConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	username, ok := usernameFrom(r)
	if !ok {
		apierror.Write(w, auth.ErrInvalidToken, reqID)
		return
	}

	var patch protocol.SessionConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierror.Write(w, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "invalid json body"}, reqID)
		return
	}

	cfg := protocol.NormalizeConfig(patch)
	raw, err := json.Marshal(cfg.Patch())
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	if err := h.Store.SetUserConfig(r.Context(), username, raw); err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
