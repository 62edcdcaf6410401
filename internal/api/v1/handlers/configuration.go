package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ocpp-engine/internal/api/v1/models"
	"ocpp-engine/internal/helpers"
	"ocpp-engine/internal/services"
)

// LiveConfigurator reads and writes configuration keys on a charge point.
// *services.ConfigurationService implements it.
type LiveConfigurator interface {
	GetLiveConfiguration(ctx context.Context, clientID string, keys []string) (*services.LiveConfiguration, *services.OperationResult, error)
	ChangeLiveConfiguration(ctx context.Context, clientID, key, value string) (*services.OperationResult, error)
}

// ConfigurationHandler handles configuration related requests
type ConfigurationHandler struct {
	configuration LiveConfigurator
}

func NewConfigurationHandler(configuration LiveConfigurator) *ConfigurationHandler {
	return &ConfigurationHandler{configuration: configuration}
}

// GetLiveConfiguration fetches ?keys=a,b (all keys when omitted) from the
// charge point.
func (h *ConfigurationHandler) GetLiveConfiguration(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	var keys []string
	if param := r.URL.Query().Get("keys"); param != "" {
		for _, key := range strings.Split(param, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
	}

	live, result, err := h.configuration.GetLiveConfiguration(r.Context(), clientID, keys)
	if err != nil {
		sendError(w, "LIVE_CONFIG", err)
		return
	}
	if result.Failed() {
		sendResult(w, result, result)
		return
	}
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Configuration retrieved from charge point",
		Data:    live,
	})
}

func (h *ConfigurationHandler) ChangeLiveConfiguration(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	var req models.ConfigurationChangeRequest
	if err := decodeRequest(r, &req); err != nil {
		sendError(w, "LIVE_CONFIG", err)
		return
	}

	result, err := h.configuration.ChangeLiveConfiguration(r.Context(), clientID, req.Key, req.Value)
	if err != nil {
		sendError(w, "LIVE_CONFIG", err)
		return
	}
	sendResult(w, result, map[string]string{
		"clientId": clientID,
		"key":      req.Key,
		"value":    req.Value,
		"status":   result.Status,
	})
}
