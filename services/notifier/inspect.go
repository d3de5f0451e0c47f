package notifier

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aulnovauk/fieldops/internal/postgres"
)

// MountInspection hangs read-only queue inspection routes off the ops
// router. Operators use /queue/failed to see what exhausted its retries.
func MountInspection(queue postgres.QueueRepository, logger *slog.Logger) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/queue/failed", func(w http.ResponseWriter, req *http.Request) {
			items, err := queue.ListFailed(req.Context(), 100)
			if err != nil {
				logger.Error("failed to list failed queue items", slog.String("error", err.Error()))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(items); err != nil {
				logger.Error("failed to encode queue items", slog.String("error", err.Error()))
			}
		})
	}
}
