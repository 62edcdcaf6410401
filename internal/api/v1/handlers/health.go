package handlers

import (
	"net/http"
	"time"

	"ocpp-engine/internal/api/v1/models"
	"ocpp-engine/internal/helpers"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	started time.Time
	role    string
}

func NewHealthHandler(role string) *HealthHandler {
	return &HealthHandler{started: time.Now(), role: role}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := models.APIResponse{
		Success: true,
		Message: "OCPP engine is running",
		Data: map[string]interface{}{
			"role":      h.role,
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(h.started).Round(time.Second).String(),
		},
	}
	helpers.SendJSONResponse(w, http.StatusOK, response)
}

// ConnectedClientsHandler handles connected clients requests
type ConnectedClientsHandler struct {
	chargePoints ChargePointDirectory
}

func NewConnectedClientsHandler(chargePoints ChargePointDirectory) *ConnectedClientsHandler {
	return &ConnectedClientsHandler{chargePoints: chargePoints}
}

func (h *ConnectedClientsHandler) GetConnectedClients(w http.ResponseWriter, r *http.Request) {
	clients := h.chargePoints.GetConnectedClients()
	if clients == nil {
		clients = []string{}
	}
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Connected clients retrieved",
		Data: models.ConnectedClientsResponse{
			Clients: clients,
			Count:   len(clients),
		},
	})
}
