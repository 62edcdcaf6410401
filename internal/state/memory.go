package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBusinessState keeps business state in process memory. It is used
// when Redis is disabled.
type MemoryBusinessState struct {
	mu           sync.RWMutex
	chargePoints map[string]ChargePointInfo
	connectors   map[string]ConnectorStatus
	transactions map[int]TransactionInfo
}

func NewMemoryBusinessState() *MemoryBusinessState {
	return &MemoryBusinessState{
		chargePoints: make(map[string]ChargePointInfo),
		connectors:   make(map[string]ConnectorStatus),
		transactions: make(map[int]TransactionInfo),
	}
}

func (m *MemoryBusinessState) SetChargePointInfo(_ context.Context, info *ChargePointInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chargePoints[info.ClientID] = *info
	return nil
}

func (m *MemoryBusinessState) GetChargePointInfo(_ context.Context, clientID string) (*ChargePointInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.chargePoints[clientID]
	if !ok {
		return nil, fmt.Errorf("charge point %s: %w", clientID, ErrNotFound)
	}
	return &info, nil
}

func (m *MemoryBusinessState) SetConnectorStatus(_ context.Context, clientID string, status *ConnectorStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[connectorKey(clientID, status.ConnectorID)] = *status
	return nil
}

func (m *MemoryBusinessState) GetConnectorStatus(_ context.Context, clientID string, connectorID int) (*ConnectorStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.connectors[connectorKey(clientID, connectorID)]
	if !ok {
		return nil, fmt.Errorf("connector %d of %s: %w", connectorID, clientID, ErrNotFound)
	}
	return &status, nil
}

func (m *MemoryBusinessState) CreateTransaction(_ context.Context, info *TransactionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transactions[info.TransactionID]; exists {
		return fmt.Errorf("transaction %d already exists", info.TransactionID)
	}
	m.transactions[info.TransactionID] = *info
	return nil
}

func (m *MemoryBusinessState) UpdateTransaction(_ context.Context, info *TransactionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transactions[info.TransactionID]; !exists {
		return fmt.Errorf("transaction %d: %w", info.TransactionID, ErrNotFound)
	}
	m.transactions[info.TransactionID] = *info
	return nil
}

func (m *MemoryBusinessState) GetTransaction(_ context.Context, transactionID int) (*TransactionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.transactions[transactionID]
	if !ok {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrNotFound)
	}
	return &info, nil
}

func (m *MemoryBusinessState) GetActiveTransactions(_ context.Context, clientID string) ([]*TransactionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*TransactionInfo
	for _, info := range m.transactions {
		if info.ClientID == clientID && info.Status == TransactionActive {
			tx := info
			result = append(result, &tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TransactionID < result[j].TransactionID })
	return result, nil
}

func connectorKey(clientID string, connectorID int) string {
	return fmt.Sprintf("connector:%s:%d", clientID, connectorID)
}
