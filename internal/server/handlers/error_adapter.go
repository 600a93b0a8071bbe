package handlers

import (
	"net/http"

	apperrors "github.com/quotapilot/quotapilot/internal/errors"
)

// httpErrorResponder is injected by the server package so handlers emit
// the same error envelopes as the centralized middleware. When unset,
// handlers fall back to apperrors directly.
var httpErrorResponder func(http.ResponseWriter, *http.Request, error)

// SetHTTPErrorResponder allows the server package to inject the centralized error handler.
func SetHTTPErrorResponder(responder func(http.ResponseWriter, *http.Request, error)) {
	httpErrorResponder = responder
}

// ResetHTTPErrorResponder restores the default responder (useful for tests).
func ResetHTTPErrorResponder() {
	httpErrorResponder = nil
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if httpErrorResponder != nil {
		httpErrorResponder(w, r, err)
		return
	}
	apperrors.RespondWithError(w, r, err)
}
