package handlers

import (
	"net/http"

	apperrors "github.com/auditdeck/ratekeeper/internal/errors"
)

// ErrorResponder renders err as an error envelope response.
type ErrorResponder func(http.ResponseWriter, *http.Request, error)

var responder ErrorResponder = apperrors.RespondWithError

// UseErrorResponder replaces the responder used by every handler in this
// package. A nil responder restores apperrors.RespondWithError.
func UseErrorResponder(fn ErrorResponder) {
	if fn == nil {
		fn = apperrors.RespondWithError
	}
	responder = fn
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	responder(w, r, err)
}
