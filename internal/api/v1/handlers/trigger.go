package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/api/v1/models"
	"ocpp-engine/internal/helpers"
	"ocpp-engine/internal/services"
)

// TriggerMessageSender asks a charge point to send a message.
// *services.TriggerMessageService implements it.
type TriggerMessageSender interface {
	SendTriggerMessage(ctx context.Context, clientID, requestedMessage string, connectorID *int) (*services.TriggerMessageResult, error)
}

// TriggerMessageHandler handles POST /api/v1/chargepoints/{clientID}/trigger.
func TriggerMessageHandler(triggerMessageService TriggerMessageSender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := mux.Vars(r)["clientID"]
		if clientID == "" {
			helpers.SendJSONResponse(w, http.StatusBadRequest, models.APIResponse{
				Success: false,
				Message: "Client ID is required in URL path",
			})
			return
		}

		var req models.TriggerMessageRequest
		if err := decodeRequest(r, &req); err != nil {
			log.Printf("TRIGGER_MESSAGE: Invalid request for client %s: %v", clientID, err)
			sendError(w, "TRIGGER_MESSAGE", err)
			return
		}

		result, err := triggerMessageService.SendTriggerMessage(r.Context(), clientID, req.RequestedMessage, req.ConnectorID)
		if err != nil {
			sendError(w, "TRIGGER_MESSAGE", err)
			return
		}

		accepted := result.Status == "Accepted"
		message := "Trigger message sent successfully"
		if !accepted {
			message = "Trigger message not accepted by charge point"
		}
		log.Printf("TRIGGER_MESSAGE: %s answered %s for %s", clientID, orDefault(result.Status, "error"), req.RequestedMessage)
		helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
			Success: accepted,
			Message: message,
			Data:    result,
		})
	}
}
