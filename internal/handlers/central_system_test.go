package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/state"
)

type fakeTransport struct {
	sent []*ocpp.Message
}

func (f *fakeTransport) Send(msg *ocpp.Message) error { f.sent = append(f.sent, msg); return nil }
func (f *fakeTransport) Close() error                 { return nil }
func (f *fakeTransport) RemoteAddr() string           { return "10.0.0.2:4000" }

type recordedEvent struct {
	clientID string
	kind     string
	event    interface{}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) PublishTransactionEvent(clientID, eventType string, event interface{}) {
	f.record(clientID, "transaction:"+eventType, event)
}

func (f *fakeEvents) PublishConnectorEvent(clientID string, event interface{}) {
	f.record(clientID, "connector", event)
}

func (f *fakeEvents) PublishMeterReadingEvent(clientID string, event interface{}) {
	f.record(clientID, "meter", event)
}

func (f *fakeEvents) record(clientID, kind string, event interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{clientID: clientID, kind: kind, event: event})
}

func (f *fakeEvents) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []string
	for _, e := range f.events {
		result = append(result, e.kind)
	}
	return result
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCentralSystem(t *testing.T, protocol ocpp.Protocol) (*CentralSystem, *chargepoint.ChargePoint, *fakeTransport, *fakeEvents) {
	t.Helper()
	events := &fakeEvents{}
	cs := NewCentralSystem(Options{Events: events})
	cs.SetClock(func() time.Time { return fixedNow })

	cp := chargepoint.New("CP-1", protocol, 0, nil, time.Minute)
	transport := &fakeTransport{}
	cp.Attach(transport)
	return cs, cp, transport, events
}

func call(t *testing.T, action string, payload interface{}) *ocpp.Message {
	t.Helper()
	msg, err := ocpp.NewCall(action, payload)
	require.NoError(t, err)
	return msg
}

func TestCentralSystem_BootNotification(t *testing.T) {
	cs, cp, _, _ := newTestCentralSystem(t, ocpp.ProtocolJSON)

	response, _ := cs.Table().HandleCall(cp, call(t, "BootNotification", map[string]string{
		"chargePointVendor": "Acme",
		"chargePointModel":  "Wallbox",
	}))
	require.Equal(t, ocpp.CallResult, response.TypeID)

	var conf core.BootNotificationConfirmation
	require.NoError(t, json.Unmarshal(response.Payload, &conf))
	assert.Equal(t, core.RegistrationStatusAccepted, conf.Status)
	assert.Equal(t, DefaultHeartbeatInterval, conf.Interval)
	assert.Equal(t, core.RegistrationStatusAccepted, cp.Registration())

	info, err := cs.BusinessState().GetChargePointInfo(context.Background(), "CP-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", info.Vendor)
	assert.True(t, info.IsOnline)
}

func TestCentralSystem_Heartbeat(t *testing.T) {
	cs, cp, _, _ := newTestCentralSystem(t, ocpp.ProtocolJSON)

	response, _ := cs.Table().HandleCall(cp, call(t, "Heartbeat", nil))
	require.Equal(t, ocpp.CallResult, response.TypeID)

	var conf core.HeartbeatConfirmation
	require.NoError(t, json.Unmarshal(response.Payload, &conf))
	require.NotNil(t, conf.CurrentTime)
	assert.True(t, conf.CurrentTime.Time.Equal(fixedNow))
}

func TestCentralSystem_AuthorizeRequiresIdTag(t *testing.T) {
	cs, cp, _, _ := newTestCentralSystem(t, ocpp.ProtocolJSON)

	response, _ := cs.Table().HandleCall(cp, call(t, "Authorize", map[string]string{"idTag": ""}))
	assert.Equal(t, ocpp.CallError, response.TypeID)
	assert.Equal(t, ocpp.OccurenceConstraintViolation, response.ErrorCode)

	response, _ = cs.Table().HandleCall(cp, call(t, "Authorize", map[string]string{"idTag": "TAG-1"}))
	require.Equal(t, ocpp.CallResult, response.TypeID)
	var conf core.AuthorizeConfirmation
	require.NoError(t, json.Unmarshal(response.Payload, &conf))
	assert.Equal(t, types.AuthorizationStatusAccepted, conf.IdTagInfo.Status)
}

func TestCentralSystem_TransactionLifecycle(t *testing.T) {
	cs, cp, _, events := newTestCentralSystem(t, ocpp.ProtocolJSON)
	ts := fixedNow.Format(time.RFC3339)

	ids := make([]int, 0, 2)
	for connector := 1; connector <= 2; connector++ {
		response, _ := cs.Table().HandleCall(cp, call(t, "StartTransaction", map[string]interface{}{
			"connectorId": connector,
			"idTag":       "TAG-1",
			"meterStart":  100,
			"timestamp":   ts,
		}))
		require.Equal(t, ocpp.CallResult, response.TypeID)
		var conf core.StartTransactionConfirmation
		require.NoError(t, json.Unmarshal(response.Payload, &conf))
		assert.Equal(t, types.AuthorizationStatusAccepted, conf.IdTagInfo.Status)
		ids = append(ids, conf.TransactionId)
	}
	assert.Equal(t, []int{1001, 1002}, ids)

	connector, ok := cp.Connector(2)
	require.True(t, ok)
	assert.Equal(t, 1002, connector.TransactionID())

	active, err := cs.BusinessState().GetActiveTransactions(context.Background(), "CP-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	response, _ := cs.Table().HandleCall(cp, call(t, "MeterValues", map[string]interface{}{
		"connectorId":   1,
		"transactionId": 1001,
		"meterValue": []map[string]interface{}{{
			"timestamp":    ts,
			"sampledValue": []map[string]string{{"value": "1.5", "unit": "kWh", "measurand": "Energy.Active.Import.Register"}},
		}},
	}))
	require.Equal(t, ocpp.CallResult, response.TypeID)

	tx, err := cs.BusinessState().GetTransaction(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, 1500, tx.CurrentMeter)

	response, _ = cs.Table().HandleCall(cp, call(t, "StopTransaction", map[string]interface{}{
		"transactionId": 1001,
		"meterStop":     2100,
		"timestamp":     ts,
		"idTag":         "TAG-1",
		"reason":        "Local",
	}))
	require.Equal(t, ocpp.CallResult, response.TypeID)
	var stop core.StopTransactionConfirmation
	require.NoError(t, json.Unmarshal(response.Payload, &stop))
	require.NotNil(t, stop.IdTagInfo)

	tx, err = cs.BusinessState().GetTransaction(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, state.TransactionStopped, tx.Status)
	require.NotNil(t, tx.MeterStop)
	assert.Equal(t, 2100, *tx.MeterStop)
	assert.Equal(t, "Local", tx.Reason)

	connector, _ = cp.Connector(1)
	assert.Equal(t, chargepoint.NoTransaction, connector.TransactionID())

	assert.Equal(t, []string{"transaction:started", "transaction:started", "meter", "transaction:completed"}, events.kinds())
}

func TestCentralSystem_StopUnknownTransactionIsAcknowledged(t *testing.T) {
	cs, cp, _, _ := newTestCentralSystem(t, ocpp.ProtocolJSON)

	response, _ := cs.Table().HandleCall(cp, call(t, "StopTransaction", map[string]interface{}{
		"transactionId": 4242,
		"meterStop":     10,
		"timestamp":     fixedNow.Format(time.RFC3339),
	}))
	require.Equal(t, ocpp.CallResult, response.TypeID)
	var stop core.StopTransactionConfirmation
	require.NoError(t, json.Unmarshal(response.Payload, &stop))
	assert.Nil(t, stop.IdTagInfo)
}

func TestCentralSystem_StatusNotification(t *testing.T) {
	tests := []struct {
		name     string
		protocol ocpp.Protocol
		status   string
		wantCode ocpp.ErrorCode
	}{
		{"charging over json", ocpp.ProtocolJSON, "Charging", ""},
		{"occupied over soap", ocpp.ProtocolSOAP, "Occupied", ""},
		{"occupied over json", ocpp.ProtocolJSON, "Occupied", ocpp.PropertyConstraintViolation},
		{"preparing over soap", ocpp.ProtocolSOAP, "Preparing", ocpp.PropertyConstraintViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, cp, _, events := newTestCentralSystem(t, tt.protocol)

			response, _ := cs.Table().HandleCall(cp, call(t, "StatusNotification", map[string]interface{}{
				"connectorId": 1,
				"errorCode":   "NoError",
				"status":      tt.status,
			}))
			if tt.wantCode != "" {
				require.Equal(t, ocpp.CallError, response.TypeID)
				assert.Equal(t, tt.wantCode, response.ErrorCode)
				assert.Empty(t, events.kinds())
				return
			}
			require.Equal(t, ocpp.CallResult, response.TypeID)

			connector, ok := cp.Connector(1)
			require.True(t, ok)
			assert.Equal(t, core.ChargePointStatus(tt.status), connector.Status())

			stored, err := cs.BusinessState().GetConnectorStatus(context.Background(), "CP-1", 1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)
			assert.Equal(t, []string{"connector"}, events.kinds())
		})
	}
}

func TestCentralSystem_StatusNotificationUnchangedIsNotPublished(t *testing.T) {
	cs, cp, _, events := newTestCentralSystem(t, ocpp.ProtocolJSON)

	response, _ := cs.Table().HandleCall(cp, call(t, "StatusNotification", map[string]interface{}{
		"connectorId": 1,
		"errorCode":   "NoError",
		"status":      "Available",
	}))
	require.Equal(t, ocpp.CallResult, response.TypeID)
	assert.Empty(t, events.kinds())
}

func TestCentralSystem_SendCall(t *testing.T) {
	cs, cp, transport, _ := newTestCentralSystem(t, ocpp.ProtocolJSON)

	id, err := cs.SendCall(cp, "reset", map[string]string{"type": "Soft"}, nil)
	require.NoError(t, err)
	require.Len(t, transport.sent, 1)
	assert.Equal(t, id, transport.sent[0].UniqueID)
	assert.Equal(t, "Reset", transport.sent[0].Action)
	assert.Equal(t, 1, cp.Pending.Len())

	_, err = cs.SendCall(cp, "Reset", map[string]string{"type": "Soft", "extra": "x"}, nil)
	assert.Equal(t, ocpp.ValidationError, ocpp.CodeOf(err))

	_, err = cs.SendCall(cp, "Reset", map[string]string{}, nil)
	assert.Equal(t, ocpp.ValidationError, ocpp.CodeOf(err))

	_, err = cs.SendCall(cp, "FlyToTheMoon", nil, nil)
	assert.Equal(t, ocpp.NotSupported, ocpp.CodeOf(err))

	_, err = cs.SendCall(cp, "ClearCache", nil, nil)
	require.NoError(t, err)
	assert.Len(t, transport.sent, 2)
}

func TestLocalListAuthorizer(t *testing.T) {
	a := NewLocalListAuthorizer(map[string]types.AuthorizationStatus{
		"GOOD":    types.AuthorizationStatusAccepted,
		"BLOCKED": types.AuthorizationStatusBlocked,
	})

	info := a.Authorize("CP-1", "GOOD")
	assert.Equal(t, types.AuthorizationStatusAccepted, info.Status)
	assert.NotNil(t, info.ExpiryDate)

	info = a.Authorize("CP-1", "BLOCKED")
	assert.Equal(t, types.AuthorizationStatusBlocked, info.Status)
	assert.Nil(t, info.ExpiryDate)

	assert.Equal(t, types.AuthorizationStatusInvalid, a.Authorize("CP-1", "OTHER").Status)
}

func TestLatestEnergyRegister(t *testing.T) {
	values := []types.MeterValue{{
		SampledValue: []types.SampledValue{
			{Value: "230", Measurand: types.MeasurandVoltage, Unit: types.UnitOfMeasureV},
			{Value: "1200"},
		},
	}, {
		SampledValue: []types.SampledValue{{Value: "2.5", Measurand: types.MeasurandEnergyActiveImportRegister, Unit: types.UnitOfMeasureKWh}},
	}}
	wh, ok := latestEnergyRegister(values)
	require.True(t, ok)
	assert.Equal(t, 2500, wh)

	_, ok = latestEnergyRegister(nil)
	assert.False(t, ok)
}

func TestAlertManager_Check(t *testing.T) {
	am := NewAlertManager()
	am.AddThreshold(types.MeasurandSoC, 5, 100)

	values := []types.MeterValue{{
		SampledValue: []types.SampledValue{
			{Value: "230", Measurand: types.MeasurandVoltage, Unit: types.UnitOfMeasureV},
			{Value: "190", Measurand: types.MeasurandVoltage, Unit: types.UnitOfMeasureV},
			{Value: "75", Measurand: types.MeasurandTemperature},
			{Value: "55", Measurand: types.MeasurandPowerActiveImport, Unit: types.UnitOfMeasureKW},
			{Value: "3", Measurand: types.MeasurandSoC},
			{Value: "99999"},
			{Value: "n/a", Measurand: types.MeasurandCurrentImport},
		},
	}}

	alerts := am.Check("CP-1", 2, values)
	require.Len(t, alerts, 4)
	assert.Equal(t, types.MeasurandVoltage, alerts[0].Measurand)
	assert.Equal(t, 190.0, alerts[0].Value)
	assert.Equal(t, 2, alerts[0].ConnectorID)
	assert.Equal(t, types.MeasurandTemperature, alerts[1].Measurand)
	assert.Equal(t, 55000.0, alerts[2].Value)
	assert.Equal(t, types.MeasurandSoC, alerts[3].Measurand)

	assert.Len(t, am.Thresholds(), 5)
	assert.Empty(t, am.Check("CP-1", 1, nil))
}
