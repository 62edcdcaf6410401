package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp-engine/internal/ocpp"
)

func TestTopics(t *testing.T) {
	call := &ocpp.Message{TypeID: ocpp.Call, UniqueID: "1", Action: "Heartbeat"}
	result := &ocpp.Message{TypeID: ocpp.CallResult, UniqueID: "1"}

	assert.Equal(t, "ocpp/in/CP-1/Heartbeat", FrameTopic("CP-1", "in", call))
	assert.Equal(t, "ocpp/out/CP-1/CallResult", FrameTopic("CP-1", "out", result))
	assert.Equal(t, "csms/connectors/CP-1/status_changed", BusinessTopic("connector", "CP-1", "status_changed"))
}

func TestNewFrameMessage(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := &ocpp.Message{TypeID: ocpp.CallError, UniqueID: "9", ErrorCode: ocpp.ProtocolError, ErrorDescription: "bad", Payload: json.RawMessage(`{}`)}

	frame := NewFrameMessage("CP-1", "out", msg, at)
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"timestamp":"2024-01-01T00:00:00Z","clientId":"CP-1","direction":"out",
		"messageType":"CallError","uniqueId":"9","errorCode":"ProtocolError",
		"errorDescription":"bad","payload":{}
	}`, string(data))
}

func TestNewMeterReadingEvent(t *testing.T) {
	ts := types.NewDateTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	values := []types.MeterValue{{
		Timestamp: ts,
		SampledValue: []types.SampledValue{
			{Value: "12500"},
			{Value: "7400", Measurand: types.MeasurandPowerActiveImport, Unit: types.UnitOfMeasureW},
			{Value: "not-a-number", Measurand: types.MeasurandVoltage},
		},
	}}
	txID := 7

	event := NewMeterReadingEvent(1, &txID, values)
	require.NotNil(t, event)
	assert.Equal(t, ts.Time, event.Timestamp)
	assert.InDelta(t, 12.5, event.TotalEnergy, 0.0001)
	assert.InDelta(t, 7.4, event.CurrentPower, 0.0001)
	assert.Equal(t, "kWh", event.Measurands[string(types.MeasurandEnergyActiveImportRegister)].Unit)
	assert.NotContains(t, event.Measurands, string(types.MeasurandVoltage))

	assert.Nil(t, NewMeterReadingEvent(1, nil, nil))
}

func TestNewTransactionCompletedEvent(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event := NewTransactionCompletedEvent(7, 1, "TAG1", 1000, 4000, start, start.Add(30*time.Minute), "Remote")
	assert.InDelta(t, 3.0, event.EnergyUsed, 0.0001)
	assert.InDelta(t, 30.0, event.Duration, 0.0001)
	assert.Equal(t, "completed", event.Status)
}

func TestPublisher_DisabledEventsAreSkipped(t *testing.T) {
	p, err := NewPublisher(PublisherConfig{BrokerHost: "localhost", BrokerPort: 1883, ClientID: "test"})
	require.NoError(t, err)
	assert.False(t, p.IsConnected())

	// nothing is published and nothing blocks when both mirrors are off
	p.PublishConnectorEvent("CP-1", &ConnectorEvent{ConnectorID: 1, Status: "Available"})
	p.PublishFrame("CP-1", "in", &ocpp.Message{TypeID: ocpp.Call, Action: "Heartbeat"})
	assert.Error(t, p.publish("t", struct{}{}))

	_, err = NewPublisher(PublisherConfig{})
	assert.Error(t, err)
}
