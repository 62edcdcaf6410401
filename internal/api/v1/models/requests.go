package models

import "encoding/json"

// RemoteStartRequest represents a request to start a remote transaction
type RemoteStartRequest struct {
	ClientID    string `json:"clientId" validate:"required"`
	ConnectorID *int   `json:"connectorId,omitempty" validate:"omitempty,min=1"`
	IdTag       string `json:"idTag" validate:"required,max=20"`
}

// RemoteStopRequest represents a request to stop a remote transaction. The
// charge point is looked up from the transaction when ClientID is empty.
type RemoteStopRequest struct {
	ClientID      string `json:"clientId,omitempty"`
	TransactionID int    `json:"transactionId" validate:"required,min=1"`
}

// ConfigurationChangeRequest represents a request to change configuration
type ConfigurationChangeRequest struct {
	Key   string `json:"key" validate:"required,max=50"`
	Value string `json:"value" validate:"required,max=500"`
}

// TriggerMessageRequest asks a charge point to send RequestedMessage. ConnectorID
// is only used with StatusNotification and MeterValues.
type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage" validate:"required,oneof=BootNotification DiagnosticsStatusNotification FirmwareStatusNotification Heartbeat MeterValues StatusNotification"`
	ConnectorID      *int   `json:"connectorId,omitempty" validate:"omitempty,min=0"`
}

// OperationRequest carries the raw payload of any catalog operation. The
// payload itself is checked against the operation catalog.
type OperationRequest struct {
	Payload json.RawMessage `json:"payload"`
}
