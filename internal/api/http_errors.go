package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/core"
)

var categoryStatus = map[core.ErrorCategory]int{
	core.ErrCatValidation: http.StatusUnprocessableEntity,
	core.ErrCatNotFound:   http.StatusNotFound,
	core.ErrCatState:      http.StatusConflict,
	core.ErrCatAuth:       http.StatusUnauthorized,
	core.ErrCatRateLimit:  http.StatusTooManyRequests,
	core.ErrCatTimeout:    http.StatusGatewayTimeout,
	core.ErrCatNetwork:    http.StatusBadGateway,
}

// respondDomainError maps err onto a status code and writes it. Errors
// outside the domain taxonomy are reported as 500.
func respondDomainError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	status := http.StatusInternalServerError

	var domErr *core.DomainError
	if errors.As(err, &domErr) && domErr != nil {
		if s, ok := categoryStatus[domErr.Category]; ok {
			status = s
		}
		body["code"] = domErr.Code
		body["category"] = string(domErr.Category)
	}
	respondJSON(w, status, body)
}
