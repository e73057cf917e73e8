package handlers

import (
	"net/http"

	"github.com/tickerlens/tickerlens/internal/core/stats"
	apperrors "github.com/tickerlens/tickerlens/internal/errors"
)

// Stats returns a handler reporting governor limits, occupancy and the
// decision counters held by reader.
func Stats(backend string, g stats.Snapshotter, reader stats.Reader, respond ErrorResponder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := stats.BuildReport(r.Context(), backend, g, reader)
		if err != nil {
			envelope := apperrors.WrapExternalService(r.Context(), err, "stats backend unavailable")
			if withBackend, ctxErr := envelope.WithContext(map[string]interface{}{
				"backend":       backend,
				"wrapped_error": err.Error(),
			}); ctxErr == nil {
				envelope = withBackend
			}
			respond(w, r, envelope)
			return
		}
		writeJSON(w, report)
	}
}
