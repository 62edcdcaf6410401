package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jedib0t/go-pretty/v6/table"

	"ocpp-engine/internal/api/v1/models"
	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/helpers"
	"ocpp-engine/internal/services"
)

// ChargePointDirectory lists known charge points. *services.ChargePointService
// implements it.
type ChargePointDirectory interface {
	GetAllChargePoints() []chargepoint.ChargePointState
	GetChargePoint(clientID string) (chargepoint.ChargePointState, error)
	GetAllConnectors(clientID string) ([]chargepoint.ConnectorState, error)
	GetConnector(clientID string, connectorID int) (chargepoint.ConnectorState, bool, error)
	IsOnline(clientID string) bool
	GetConnectedClients() []string
}

// ChargePointsHandler handles charge point related requests
type ChargePointsHandler struct {
	chargePoints ChargePointDirectory
}

func NewChargePointsHandler(chargePoints ChargePointDirectory) *ChargePointsHandler {
	return &ChargePointsHandler{chargePoints: chargePoints}
}

// GetChargePoints lists every charge point; ?format=table renders a text table.
func (h *ChargePointsHandler) GetChargePoints(w http.ResponseWriter, r *http.Request) {
	chargePoints := h.chargePoints.GetAllChargePoints()

	if helpers.WantsTable(r) {
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Identity", "Protocol", "Connected", "Registration", "Connectors", "Pending", "Address"})
		for _, cp := range chargePoints {
			t.AppendRow(table.Row{cp.Identity, cp.Protocol, cp.Connected, cp.Registration, len(cp.Connectors), cp.PendingCalls, cp.Address})
		}
		helpers.SendTableResponse(w, http.StatusOK, t)
		return
	}

	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Charge points retrieved",
		Data: models.ChargePointsResponse{
			ChargePoints: chargePoints,
			Count:        len(chargePoints),
		},
	})
}

func (h *ChargePointsHandler) GetChargePoint(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	chargePoint, err := h.chargePoints.GetChargePoint(clientID)
	if err != nil {
		sendError(w, "CHARGE_POINTS", err)
		return
	}
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Charge point retrieved",
		Data:    chargePoint,
	})
}

// GetConnectors lists the connectors of a charge point; ?format=table renders
// a text table.
func (h *ChargePointsHandler) GetConnectors(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	connectors, err := h.chargePoints.GetAllConnectors(clientID)
	if err != nil {
		sendError(w, "CHARGE_POINTS", err)
		return
	}

	if helpers.WantsTable(r) {
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Connector", "Status", "Error", "Transaction", "IdTag", "Meter (Wh)", "Reservation"})
		for _, c := range connectors {
			reservation := ""
			if c.Reservation != nil {
				reservation = strconv.Itoa(c.Reservation.ID)
			}
			t.AppendRow(table.Row{c.ConnectorID, c.Status, c.ErrorCode, c.TransactionID, c.IdTag, c.MeterValue, reservation})
		}
		helpers.SendTableResponse(w, http.StatusOK, t)
		return
	}

	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Connectors retrieved",
		Data: models.ConnectorsResponse{
			Connectors: connectors,
			Count:      len(connectors),
		},
	})
}

func (h *ChargePointsHandler) GetConnector(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientID := vars["clientID"]

	connectorID, err := strconv.Atoi(vars["connectorID"])
	if err != nil {
		helpers.SendJSONResponse(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Message: "Invalid connector ID",
		})
		return
	}

	connector, ok, err := h.chargePoints.GetConnector(clientID, connectorID)
	if err != nil {
		sendError(w, "CHARGE_POINTS", err)
		return
	}
	if !ok {
		helpers.SendJSONResponse(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Message: "Connector not found",
		})
		return
	}
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Connector retrieved",
		Data:    connector,
	})
}

// GetChargePointStatus reports whether a known charge point is online.
func (h *ChargePointsHandler) GetChargePointStatus(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientID"]

	if _, err := h.chargePoints.GetChargePoint(clientID); errors.Is(err, services.ErrChargePointNotFound) {
		sendError(w, "CHARGE_POINTS", err)
		return
	}
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Charger status retrieved",
		Data: models.ChargePointStatusResponse{
			ClientID: clientID,
			Online:   h.chargePoints.IsOnline(clientID),
		},
	})
}
