// Package state mirrors Central System business state (charge points,
// connector status, transactions) into a store shared with other services.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ChargePointInfo is the stored view of a station.
type ChargePointInfo struct {
	ClientID        string    `json:"clientId"`
	Protocol        string    `json:"protocol"`
	Address         string    `json:"address,omitempty"`
	Vendor          string    `json:"vendor,omitempty"`
	Model           string    `json:"model,omitempty"`
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
	Registration    string    `json:"registrationStatus"`
	LastSeen        time.Time `json:"lastSeen"`
	IsOnline        bool      `json:"isOnline"`
}

// ConnectorStatus is the stored status of one connector.
type ConnectorStatus struct {
	ConnectorID   int       `json:"connectorId"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	TransactionID *int      `json:"transactionId,omitempty"`
	LastUpdate    time.Time `json:"lastUpdate"`
}

// TransactionInfo is a transaction record kept by the Central System.
type TransactionInfo struct {
	TransactionID int        `json:"transactionId"`
	ClientID      string     `json:"clientId"`
	ConnectorID   int        `json:"connectorId"`
	IdTag         string     `json:"idTag"`
	StartTime     time.Time  `json:"startTime"`
	StopTime      *time.Time `json:"stopTime,omitempty"`
	MeterStart    int        `json:"meterStart"`
	CurrentMeter  int        `json:"currentMeter"`
	MeterStop     *int       `json:"meterStop,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Status        string     `json:"status"`
}

const (
	TransactionActive  = "Active"
	TransactionStopped = "Stopped"
)

// BusinessState is the store the Central System mirrors into.
type BusinessState interface {
	SetChargePointInfo(ctx context.Context, info *ChargePointInfo) error
	GetChargePointInfo(ctx context.Context, clientID string) (*ChargePointInfo, error)
	SetConnectorStatus(ctx context.Context, clientID string, status *ConnectorStatus) error
	GetConnectorStatus(ctx context.Context, clientID string, connectorID int) (*ConnectorStatus, error)
	CreateTransaction(ctx context.Context, info *TransactionInfo) error
	UpdateTransaction(ctx context.Context, info *TransactionInfo) error
	GetTransaction(ctx context.Context, transactionID int) (*TransactionInfo, error)
	GetActiveTransactions(ctx context.Context, clientID string) ([]*TransactionInfo, error)
}
