package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/aj47/awaken-ambience/pkg/gateway/apierror"
	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
	"github.com/aj47/awaken-ambience/pkg/gateway/mw"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

// MemoriesHandler serves the memory CRUD endpoints, scoped to the
// authenticated username.
type MemoriesHandler struct {
	Store memory.Store
}

func (h MemoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	username, ok := usernameFrom(r)
	if !ok {
		apierror.Write(w, auth.ErrInvalidToken, reqID)
		return
	}

	records, err := h.Store.GetAllMemories(r.Context(), username)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h MemoriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	username, ok := usernameFrom(r)
	if !ok {
		apierror.Write(w, auth.ErrInvalidToken, reqID)
		return
	}
	id, err := memoryID(r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	record, err := h.Store.GetMemory(r.Context(), id, username)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h MemoriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	username, ok := usernameFrom(r)
	if !ok {
		apierror.Write(w, auth.ErrInvalidToken, reqID)
		return
	}
	id, err := memoryID(r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "invalid json body"}, reqID)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		apierror.Write(w, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "content is required", Param: "content"}, reqID)
		return
	}

	if err := h.Store.UpdateMemory(r.Context(), id, req.Content, username); err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	record, err := h.Store.GetMemory(r.Context(), id, username)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h MemoriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	username, ok := usernameFrom(r)
	if !ok {
		apierror.Write(w, auth.ErrInvalidToken, reqID)
		return
	}
	id, err := memoryID(r)
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	if err := h.Store.DeleteMemory(r.Context(), id, username); err != nil {
		apierror.Write(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func memoryID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "invalid memory id", Param: "id"}
	}
	return id, nil
}

func usernameFrom(r *http.Request) (string, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return "", false
	}
	return p.Username, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
