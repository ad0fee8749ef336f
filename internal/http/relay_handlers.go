package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/relay"
)

type pairResponse struct {
	APIVersion string `json:"apiVersion"`
	RelayURL   string `json:"relayUrl"`
	PairCode   string `json:"pairCode"`
	ServerID   string `json:"serverId"`
}

// RelayPair handles POST /v1/relay/pair: mint a pairing code, register
// it with Relay, hand it to the app.
func (a *API) RelayPair(w http.ResponseWriter, r *http.Request) {
	if a.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "Relay is not configured")
		return
	}
	code, err := relay.GeneratePairCode()
	if err != nil {
		a.logger.Error("pair code generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := a.relay.CreatePairCode(r.Context(), code, a.now().Unix()); err != nil {
		a.logger.Error("relay pair call failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Relay request failed")
		return
	}
	writeJSON(w, http.StatusOK, pairResponse{
		APIVersion: "1.0",
		RelayURL:   a.relay.BaseURL(),
		PairCode:   code,
		ServerID:   a.relay.ServerID(),
	})
}

type statusResponse struct {
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion"`
	Compatibility   string `json:"compatibility"`
}

// Status handles GET /v1/status.
func (a *API) Status(w http.ResponseWriter, _ *http.Request) {
	compat := "unreachable"
	if a.checker != nil {
		compat = string(a.checker.State())
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version:         ServerVersion,
		ProtocolVersion: ProtocolVersion,
		Compatibility:   compat,
	})
}

type simulatePushRequest struct {
	UPSID     string `json:"upsId"`
	EventType string `json:"eventType"`
	Status    string `json:"status"`
}

// SimulatePush handles POST /v1/status/simulate-push. Only routed
// outside production; pushes a synthetic event through the real Relay
// path so end-to-end delivery can be verified from the app.
func (a *API) SimulatePush(w http.ResponseWriter, r *http.Request) {
	if a.relay == nil {
		writeError(w, http.StatusServiceUnavailable, "Relay is not configured")
		return
	}
	var req simulatePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = relay.EventUPSStatusChange
	}
	status := req.Status
	if status == "" {
		status = "online"
	}
	go a.relay.SendEvent(context.WithoutCancel(r.Context()), relay.Event{
		Type:        eventType,
		Status:      status,
		UPSID:       strings.ToLower(req.UPSID),
		Environment: a.relay.Environment(),
		Timestamp:   a.now().Unix(),
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}
