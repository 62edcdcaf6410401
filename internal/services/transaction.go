package services

import (
	"context"
	"errors"
	"sort"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/state"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionService reads transaction records from the business state.
type TransactionService struct {
	businessState state.BusinessState
	chargePoints  *chargepoint.Registry
}

func NewTransactionService(businessState state.BusinessState, chargePoints *chargepoint.Registry) *TransactionService {
	return &TransactionService{businessState: businessState, chargePoints: chargePoints}
}

// GetActiveTransactions returns the active transactions of clientID, or of
// every known charge point when clientID is empty.
func (s *TransactionService) GetActiveTransactions(ctx context.Context, clientID string) ([]*state.TransactionInfo, error) {
	clients := []string{clientID}
	if clientID == "" {
		clients = clients[:0]
		for _, cp := range s.chargePoints.List() {
			clients = append(clients, cp.Identity())
		}
	}

	result := []*state.TransactionInfo{}
	for _, id := range clients {
		transactions, err := s.businessState.GetActiveTransactions(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, transactions...)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TransactionID < result[j].TransactionID })
	return result, nil
}

func (s *TransactionService) GetTransaction(ctx context.Context, transactionID int) (*state.TransactionInfo, error) {
	tx, err := s.businessState.GetTransaction(ctx, transactionID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}
