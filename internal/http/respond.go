package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{models.ErrNotFound, http.StatusNotFound},
	{models.ErrConflict, http.StatusBadRequest},
	{models.ErrNotDriver, http.StatusUnprocessableEntity},
	{models.ErrNotReady, http.StatusUnprocessableEntity},
	{models.ErrPendingRequests, http.StatusUnprocessableEntity},
	{models.ErrInvalidState, http.StatusUnprocessableEntity},
	{models.ErrSelfJoin, http.StatusUnprocessableEntity},
	{models.ErrDuplicateRequest, http.StatusUnprocessableEntity},
	{models.ErrNoCapacity, http.StatusUnprocessableEntity},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps an engine or registry failure onto a status code.
// Anything without a kind is an internal error and gets logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LifecycleFailures.WithLabelValues(models.KindOf(err)).Inc()
	var me *models.Error
	if errors.As(err, &me) {
		for _, k := range statusByKind {
			if errors.Is(me.Kind, k.kind) {
				writeDetail(w, k.status, me.Detail)
				return
			}
		}
	}
	s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
	writeDetail(w, http.StatusInternalServerError, "internal error")
}
