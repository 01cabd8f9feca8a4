package httpadapter

import (
	"log/slog"
	"net/http"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnknownDomain), domain.IsKind(err, domain.ErrTopicNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDuplicateDomain),
		domain.IsKind(err, domain.ErrDomainInUse),
		domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrNoContent):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
