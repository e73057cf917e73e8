package server

import (
	"net/http"
	"time"

	apperrors "github.com/tickerlens/tickerlens/internal/errors"
)

// HandleError central handler for all errors
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// RejectRateLimited answers a request turned away by the ingress guard.
func RejectRateLimited(w http.ResponseWriter, r *http.Request, wait time.Duration) {
	HandleError(w, r, apperrors.NewRateLimitedError("too many requests", wait))
}
