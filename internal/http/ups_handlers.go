package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/repository"
)

// ListUPS handles GET /v1/ups.
func (a *API) ListUPS(w http.ResponseWriter, r *http.Request) {
	list, err := a.upsRepo.ListUPS(r.Context())
	if err != nil {
		a.logger.Error("list ups failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetUPSStatus handles GET /v1/ups/{upsId}/status.
func (a *API) GetUPSStatus(w http.ResponseWriter, r *http.Request, upsID string) {
	u, err := a.upsRepo.GetUPS(r.Context(), strings.ToLower(upsID))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Unknown UPS")
		return
	}
	if err != nil {
		a.logger.Error("get ups failed", zap.String("ups_id", upsID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Health handles GET /health. Always OK while the process runs.
func (a *API) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// Ready handles GET /ready. Degraded mode (no API token) and a dead DB
// both report not ready.
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if a.degraded || !a.dbHealthy(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}
