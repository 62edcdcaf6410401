package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/api/v1/models"
	"ocpp-engine/internal/helpers"
	"ocpp-engine/internal/services"
	"ocpp-engine/internal/state"
)

// TransactionReader reads stored transactions. *services.TransactionService
// implements it.
type TransactionReader interface {
	GetActiveTransactions(ctx context.Context, clientID string) ([]*state.TransactionInfo, error)
	GetTransaction(ctx context.Context, transactionID int) (*state.TransactionInfo, error)
}

// RemoteTransactionController starts and stops transactions remotely.
// *services.RemoteTransactionService implements it.
type RemoteTransactionController interface {
	StartRemoteTransaction(ctx context.Context, clientID string, connectorID *int, idTag string) (*services.RemoteTransactionResult, error)
	StopRemoteTransaction(ctx context.Context, clientID string, transactionID int) (*services.RemoteTransactionResult, error)
}

// TransactionsHandler handles transaction related requests
type TransactionsHandler struct {
	transactions TransactionReader
	remote       RemoteTransactionController
}

func NewTransactionsHandler(transactions TransactionReader, remote RemoteTransactionController) *TransactionsHandler {
	return &TransactionsHandler{transactions: transactions, remote: remote}
}

// GetTransactions lists active transactions, optionally of ?clientId= only.
func (h *TransactionsHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.transactions.GetActiveTransactions(r.Context(), r.URL.Query().Get("clientId"))
	if err != nil {
		sendError(w, "TRANSACTIONS", err)
		return
	}
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Transactions retrieved",
		Data: models.TransactionsResponse{
			Transactions: transactions,
			Count:        len(transactions),
		},
	})
}

func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, err := strconv.Atoi(mux.Vars(r)["transactionID"])
	if err != nil {
		helpers.SendJSONResponse(w, http.StatusBadRequest, models.APIResponse{
			Success: false,
			Message: "Invalid transaction ID",
		})
		return
	}

	tx, err := h.transactions.GetTransaction(r.Context(), transactionID)
	if errors.Is(err, services.ErrTransactionNotFound) {
		helpers.SendJSONResponse(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Message: "Transaction not found",
		})
		return
	}
	if err != nil {
		sendError(w, "TRANSACTIONS", err)
		return
	}
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Transaction retrieved",
		Data:    tx,
	})
}

func (h *TransactionsHandler) RemoteStartTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.RemoteStartRequest
	if err := decodeRequest(r, &req); err != nil {
		sendError(w, "REMOTE_START", err)
		return
	}

	result, err := h.remote.StartRemoteTransaction(r.Context(), req.ClientID, req.ConnectorID, req.IdTag)
	if err != nil {
		sendError(w, "REMOTE_START", err)
		return
	}
	log.Printf("REMOTE_START: %s answered %s", req.ClientID, result.Status)
	sendRemoteResult(w, result)
}

func (h *TransactionsHandler) RemoteStopTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.RemoteStopRequest
	if err := decodeRequest(r, &req); err != nil {
		sendError(w, "REMOTE_STOP", err)
		return
	}

	result, err := h.remote.StopRemoteTransaction(r.Context(), req.ClientID, req.TransactionID)
	if err != nil {
		sendError(w, "REMOTE_STOP", err)
		return
	}
	log.Printf("REMOTE_STOP: %s answered %s", result.ClientID, result.Status)
	sendRemoteResult(w, result)
}

func sendRemoteResult(w http.ResponseWriter, result *services.RemoteTransactionResult) {
	helpers.SendJSONResponse(w, http.StatusOK, models.APIResponse{
		Success: result.Status == "Accepted",
		Message: result.Message,
		Data:    result,
	})
}
