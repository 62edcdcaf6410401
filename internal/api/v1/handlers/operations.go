package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/api/v1/models"
	"ocpp-engine/internal/catalog"
	"ocpp-engine/internal/helpers"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/services"
)

// OperationExecutor runs a catalog operation against a charge point.
// *services.OperationService implements it.
type OperationExecutor interface {
	Execute(ctx context.Context, chargePointID, action string, payload json.RawMessage) (*services.OperationResult, error)
}

// OperationsHandler sends any Central System operation by name.
type OperationsHandler struct {
	operations OperationExecutor
}

func NewOperationsHandler(operations OperationExecutor) *OperationsHandler {
	return &OperationsHandler{operations: operations}
}

// ListOperations returns the operations that can be sent to a charge point
// together with their payload fields.
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops := catalog.Operations(ocpp.RoleCentralSystem)
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Operations retrieved",
		Data:    ops,
	})
}

// ExecuteOperation sends {"payload":{...}} as the action named in the path
// and waits for the charge point's answer.
func (h *OperationsHandler) ExecuteOperation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientID := vars["clientID"]
	action := vars["action"]

	var req models.OperationRequest
	if err := decodeRequest(r, &req); err != nil {
		sendError(w, "OPERATION", err)
		return
	}

	log.WithFields(log.Fields{"chargePoint": clientID, "action": action}).Info("OPERATION: Processing operator request")
	result, err := h.operations.Execute(r.Context(), clientID, action, req.Payload)
	if err != nil {
		sendError(w, "OPERATION", err)
		return
	}
	sendResult(w, result, result)
}
