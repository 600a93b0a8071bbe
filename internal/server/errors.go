package server

import (
	"net/http"

	apperrors "github.com/quotapilot/quotapilot/internal/errors"
)

// HandleError is the central handler for all errors surfaced by routes
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
