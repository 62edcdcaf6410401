package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/state"
)

// RemoteTransactionService starts and stops transactions on behalf of an
// operator.
type RemoteTransactionService struct {
	operations    *OperationService
	businessState state.BusinessState
}

func NewRemoteTransactionService(operations *OperationService, businessState state.BusinessState) *RemoteTransactionService {
	return &RemoteTransactionService{operations: operations, businessState: businessState}
}

// RemoteTransactionResult is the station's answer to a remote start or stop.
type RemoteTransactionResult struct {
	RequestID     string `json:"requestId"`
	ClientID      string `json:"clientId"`
	ConnectorID   *int   `json:"connectorId,omitempty"`
	TransactionID int    `json:"transactionId,omitempty"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// StartRemoteTransaction asks clientID to start charging idTag. A nil
// connectorID lets the station pick one.
func (s *RemoteTransactionService) StartRemoteTransaction(ctx context.Context, clientID string, connectorID *int, idTag string) (*RemoteTransactionResult, error) {
	request := core.NewRemoteStartTransactionRequest(idTag)
	request.ConnectorId = connectorID
	log.Printf("REMOTE_START: Sending RemoteStartTransaction to %s - Connector: %v, IdTag: %s", clientID, describeConnector(connectorID), idTag)

	result, err := s.execute(ctx, clientID, "RemoteStartTransaction", request)
	if err != nil {
		return nil, err
	}
	return &RemoteTransactionResult{
		RequestID:   result.UniqueID,
		ClientID:    clientID,
		ConnectorID: connectorID,
		Status:      result.Status,
		Message:     describeResult("RemoteStartTransaction", result),
	}, nil
}

// StopRemoteTransaction asks the station running transactionID to stop it.
// An empty clientID is resolved from the stored transaction.
func (s *RemoteTransactionService) StopRemoteTransaction(ctx context.Context, clientID string, transactionID int) (*RemoteTransactionResult, error) {
	var connectorID *int
	if s.businessState != nil {
		tx, err := s.businessState.GetTransaction(ctx, transactionID)
		switch {
		case err == nil:
			if clientID == "" {
				clientID = tx.ClientID
			}
			id := tx.ConnectorID
			connectorID = &id
		case !errors.Is(err, state.ErrNotFound):
			return nil, fmt.Errorf("failed to look up transaction %d: %w", transactionID, err)
		}
	}
	if clientID == "" {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrChargePointNotFound)
	}

	log.Printf("REMOTE_STOP: Sending RemoteStopTransaction to %s - Transaction: %d", clientID, transactionID)
	result, err := s.execute(ctx, clientID, "RemoteStopTransaction", core.NewRemoteStopTransactionRequest(transactionID))
	if err != nil {
		return nil, err
	}
	return &RemoteTransactionResult{
		RequestID:     result.UniqueID,
		ClientID:      clientID,
		ConnectorID:   connectorID,
		TransactionID: transactionID,
		Status:        result.Status,
		Message:       describeResult("RemoteStopTransaction", result),
	}, nil
}

func (s *RemoteTransactionService) execute(ctx context.Context, clientID, action string, request interface{}) (*OperationResult, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return s.operations.Execute(ctx, clientID, action, payload)
}

func describeConnector(connectorID *int) string {
	if connectorID == nil {
		return "any"
	}
	return fmt.Sprint(*connectorID)
}

func describeResult(action string, result *OperationResult) string {
	if result.Failed() {
		return fmt.Sprintf("%s failed: %s %s", action, result.ErrorCode, result.ErrorDescription)
	}
	return fmt.Sprintf("%s %s by charge point", action, result.Status)
}
