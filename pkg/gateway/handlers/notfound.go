package handlers

import (
	"net/http"

	"github.com/aj47/awaken-ambience/pkg/gateway/apierror"
	"github.com/aj47/awaken-ambience/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, &apierror.Error{Type: apierror.ErrNotFound, Message: "not found"}, reqID)
}
