package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Volteec/VolteecBackend/internal/crypto"
	"github.com/Volteec/VolteecBackend/internal/models"
	"github.com/Volteec/VolteecBackend/internal/repository"
)

type registerDeviceRequest struct {
	APIVersion     string  `json:"apiVersion"`
	UPSID          string  `json:"upsId"`
	UPSAlias       *string `json:"upsAlias"`
	DeviceToken    string  `json:"deviceToken"`
	Environment    string  `json:"environment"`
	InstallationID *string `json:"installationId"`
	UPSHidden      bool    `json:"upsHidden"`
}

type unregisterDeviceRequest struct {
	APIVersion     string  `json:"apiVersion"`
	UPSID          string  `json:"upsId"`
	DeviceToken    string  `json:"deviceToken"`
	Environment    string  `json:"environment"`
	InstallationID *string `json:"installationId"`
}

func validAPIVersion(v string) bool {
	return v == "" || v == "1.0" || v == "1.1"
}

// RegisterDevice handles POST /v1/register-device. Idempotent: a
// repeat registration refreshes the existing row and answers 200
// instead of 201.
func (a *API) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if !validAPIVersion(req.APIVersion) {
		writeError(w, http.StatusBadRequest, "Unsupported apiVersion")
		return
	}
	if req.UPSID == "" || req.DeviceToken == "" {
		writeError(w, http.StatusBadRequest, "upsId and deviceToken are required")
		return
	}
	env := models.Environment(req.Environment)
	if req.Environment == "" {
		env = models.EnvSandbox
	}
	if !models.ValidEnvironment(env) {
		writeError(w, http.StatusBadRequest, "Unknown environment")
		return
	}
	if req.InstallationID != nil {
		if _, err := uuid.Parse(*req.InstallationID); err != nil {
			writeError(w, http.StatusBadRequest, "installationId must be a UUID")
			return
		}
	}

	encrypted, err := a.cipher.Encrypt(req.DeviceToken)
	if err != nil {
		a.logger.Error("device token encryption failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	reg := repository.DeviceRegistration{
		UPSID:          strings.ToLower(req.UPSID),
		UPSAlias:       normalizeAlias(req.UPSAlias),
		EncryptedToken: encrypted,
		TokenHash:      crypto.HashToken(req.DeviceToken),
		InstallationID: req.InstallationID,
		ServerID:       a.serverID(),
		UPSHidden:      req.UPSHidden,
		Environment:    env,
	}
	created, err := a.devices.Register(r.Context(), reg)
	if err != nil {
		a.logger.Error("device registration failed", zap.String("ups_id", reg.UPSID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"created": created})
}

// UnregisterDevice handles POST /v1/unregister-device. Removing a
// registration that does not exist is still a 200.
func (a *API) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	var req unregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if !validAPIVersion(req.APIVersion) {
		writeError(w, http.StatusBadRequest, "Unsupported apiVersion")
		return
	}
	if req.UPSID == "" || req.DeviceToken == "" {
		writeError(w, http.StatusBadRequest, "upsId and deviceToken are required")
		return
	}
	env := models.Environment(req.Environment)
	if req.Environment == "" {
		env = models.EnvSandbox
	}
	if !models.ValidEnvironment(env) {
		writeError(w, http.StatusBadRequest, "Unknown environment")
		return
	}

	err := a.devices.Unregister(r.Context(),
		crypto.HashToken(req.DeviceToken),
		strings.ToLower(req.UPSID),
		env,
		a.serverID(),
		req.InstallationID,
	)
	if err != nil {
		a.logger.Error("device unregistration failed", zap.String("ups_id", req.UPSID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

// normalizeAlias trims whitespace and folds empty aliases to null.
func normalizeAlias(alias *string) *string {
	if alias == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*alias)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
