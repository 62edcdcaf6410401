package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/ocpp"
)

// TriggerMessageService asks charge points to send a message on demand.
type TriggerMessageService struct {
	operations *OperationService
}

func NewTriggerMessageService(operations *OperationService) *TriggerMessageService {
	return &TriggerMessageService{operations: operations}
}

// TriggerMessageResult is the station's answer to a TriggerMessage.
type TriggerMessageResult struct {
	RequestID        string `json:"requestId"`
	ClientID         string `json:"clientId"`
	RequestedMessage string `json:"requestedMessage"`
	ConnectorID      *int   `json:"connectorId,omitempty"`
	Status           string `json:"status"`
	Message          string `json:"message"`
}

var triggerableMessages = map[string]remotetrigger.MessageTrigger{}

func init() {
	for _, name := range []string{
		core.BootNotificationFeatureName,
		firmware.DiagnosticsStatusNotificationFeatureName,
		firmware.FirmwareStatusNotificationFeatureName,
		core.HeartbeatFeatureName,
		core.MeterValuesFeatureName,
		core.StatusNotificationFeatureName,
	} {
		triggerableMessages[name] = remotetrigger.MessageTrigger(name)
	}
}

// ValidateRequestedMessage reports whether messageType can be triggered.
func (s *TriggerMessageService) ValidateRequestedMessage(messageType string) bool {
	_, ok := triggerableMessages[messageType]
	return ok
}

// SendTriggerMessage requests requestedMessage from clientID. connectorID is
// only forwarded for connector-specific messages.
func (s *TriggerMessageService) SendTriggerMessage(ctx context.Context, clientID, requestedMessage string, connectorID *int) (*TriggerMessageResult, error) {
	trigger, ok := triggerableMessages[requestedMessage]
	if !ok {
		return nil, ocpp.NewError(ocpp.ValidationError, "unsupported message type: %s", requestedMessage)
	}
	request := remotetrigger.NewTriggerMessageRequest(trigger)
	if connectorID != nil && (trigger == core.StatusNotificationFeatureName || trigger == core.MeterValuesFeatureName) {
		request.ConnectorId = connectorID
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	log.Printf("TRIGGER_MESSAGE: Sending TriggerMessage to %s - Message: %s, ConnectorID: %s", clientID, requestedMessage, describeConnector(request.ConnectorId))
	result, err := s.operations.Execute(ctx, clientID, "TriggerMessage", payload)
	if err != nil {
		return nil, err
	}

	out := &TriggerMessageResult{
		RequestID:        result.UniqueID,
		ClientID:         clientID,
		RequestedMessage: requestedMessage,
		ConnectorID:      request.ConnectorId,
		Status:           result.Status,
	}
	switch {
	case result.Failed():
		out.Message = describeResult("TriggerMessage", result)
	case result.Status == string(remotetrigger.TriggerMessageStatusAccepted):
		out.Message = fmt.Sprintf("%s will be sent by the charge point", requestedMessage)
	default:
		out.Message = fmt.Sprintf("TriggerMessage %s by charge point", result.Status)
	}
	return out, nil
}
