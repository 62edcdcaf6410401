package ocpp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootNotificationEnvelope = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope" xmlns:wsa5="http://www.w3.org/2005/08/addressing" xmlns:cs="urn://Ocpp/Cs/2012/06/">
  <SOAP-ENV:Header>
    <cs:chargeBoxIdentity>CB-0001</cs:chargeBoxIdentity>
    <wsa5:MessageID>urn:uuid:1234</wsa5:MessageID>
    <wsa5:From><wsa5:Address>http://10.0.0.5:8080/</wsa5:Address></wsa5:From>
    <wsa5:ReplyTo><wsa5:Address>http://www.w3.org/2005/08/addressing/anonymous</wsa5:Address></wsa5:ReplyTo>
    <wsa5:To>http://central.example/ocpp</wsa5:To>
    <wsa5:Action>/BootNotification</wsa5:Action>
  </SOAP-ENV:Header>
  <SOAP-ENV:Body>
    <cs:bootNotificationRequest>
      <cs:chargePointVendor>Acme</cs:chargePointVendor>
      <cs:chargePointModel>Fast &amp; Furious</cs:chargePointModel>
    </cs:bootNotificationRequest>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

func TestDecodeEnvelope_StationDialect(t *testing.T) {
	env, err := DecodeEnvelope([]byte(bootNotificationEnvelope))
	require.NoError(t, err)

	assert.Equal(t, DialectCentralSystem, env.Dialect)
	assert.Equal(t, CentralSystemNamespace, env.Namespace)
	assert.Equal(t, "bootNotificationRequest", env.NotificationName)
	assert.Equal(t, "CB-0001", env.Headers.Value("chargeBoxIdentity"))
	assert.Equal(t, "http://10.0.0.5:8080/", env.Headers.Value("From"))
	assert.Equal(t, "http://www.w3.org/2005/08/addressing/anonymous", env.Headers.Value("ReplyTo"))
	assert.Equal(t, "http://central.example/ocpp", env.Headers.Value("To"))
	assert.Equal(t, Fields{
		{Key: "chargePointVendor", Value: "Acme"},
		{Key: "chargePointModel", Value: "Fast & Furious"},
	}, env.Values)
	assert.Equal(t, "BootNotification", env.Action())
}

func TestDecodeEnvelope_EmulatorDialect(t *testing.T) {
	raw := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:a="http://www.w3.org/2005/08/addressing">
<s:Header><chargeBoxIdentity xmlns="urn://Ocpp/Cp/2012/06/">CB-7</chargeBoxIdentity><a:MessageID>m-1</a:MessageID><a:Action>/RemoteStartTransaction</a:Action></s:Header>
<s:Body><remoteStartTransactionRequest xmlns="urn://Ocpp/Cp/2012/06/"><idTag>TAG1</idTag><connectorId>1</connectorId></remoteStartTransactionRequest></s:Body>
</s:Envelope>`

	env, err := DecodeEnvelope([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, DialectChargePoint, env.Dialect)
	assert.Equal(t, ChargePointNamespace, env.Namespace)

	msg, err := env.Message()
	require.NoError(t, err)
	assert.Equal(t, Call, msg.TypeID)
	assert.Equal(t, "m-1", msg.UniqueID)
	assert.Equal(t, "RemoteStartTransaction", msg.Action)
	assert.JSONEq(t, `{"idTag":"TAG1","connectorId":1}`, string(msg.Payload))
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`<Envelope><Body></Body></Envelope>`))
	assert.Equal(t, ProtocolError, CodeOf(err))

	_, err = DecodeEnvelope([]byte(`<root/>`))
	assert.Equal(t, ProtocolError, CodeOf(err))

	_, err = DecodeEnvelope([]byte(`<s:Envelope><s:Body><a>`))
	assert.Equal(t, ProtocolError, CodeOf(err))
}

func TestPrepareEnvelopeResponse_SwapsAddressing(t *testing.T) {
	request := &Envelope{NotificationName: "heartbeatRequest"}
	request.Headers.Set("chargeBoxIdentity", "CB-1")
	request.Headers.Set("MessageID", "m-9")
	request.Headers.Set("From", "A")
	request.Headers.Set("To", "B")
	request.Headers.Set("ReplyTo", "R")
	request.Headers.Set("Action", "/Heartbeat")

	response := PrepareEnvelopeResponse(request)
	assert.Equal(t, "B", response.Headers.Value("From"))
	assert.Equal(t, "A", response.Headers.Value("To"))
	assert.Equal(t, "CB-1", response.Headers.Value("chargeBoxIdentity"))
	assert.Equal(t, "m-9", response.Headers.Value("MessageID"))
	assert.Equal(t, "R", response.Headers.Value("ReplyTo"))
	assert.Equal(t, "/HeartbeatResponse", response.Headers.Value("Action"))
	assert.Equal(t, "heartbeatResponse", response.NotificationName)
}

func TestEnvelope_EncodeDecodeRoundTrip(t *testing.T) {
	for _, dialect := range []Dialect{DialectCentralSystem, DialectChargePoint} {
		env := &Envelope{Dialect: dialect, Namespace: ChargePointNamespace, NotificationName: "getConfigurationResponse"}
		env.Headers.Set("chargeBoxIdentity", "CB-1")
		env.Headers.Set("MessageID", "m-1")
		env.Headers.Set("From", "http://a/")
		env.Headers.Set("To", "http://b/")
		env.Headers.Set("Action", "/GetConfigurationResponse")
		env.Values.Add("configurationKey.key", "HeartbeatInterval")
		env.Values.Add("configurationKey.readonly", "false")
		env.Values.Add("configurationKey.value", "300")
		env.Values.Add("configurationKey[1].key", "Model")
		env.Values.Add("configurationKey[1].readonly", "true")
		env.Values.Add("configurationKey[1].value", "<x>")
		env.Values.Add("unknownKey", "Nope")
		env.Values.Add("unknownKey[1]", "Gone")

		raw, err := env.Encode()
		require.NoError(t, err)

		decoded, err := DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, env, decoded)
	}
}

func TestEnvelope_MessageRoundTrip(t *testing.T) {
	messages := []struct {
		msg    *Message
		action string
	}{
		{&Message{TypeID: Call, UniqueID: "u1", Action: "StartTransaction", Payload: json.RawMessage(`{"connectorId":1,"idTag":"TAG1","meterStart":0,"timestamp":"2024-01-01T10:00:00Z"}`)}, ""},
		{&Message{TypeID: CallResult, UniqueID: "u2", Payload: json.RawMessage(`{"idTagInfo":{"status":"Accepted"},"transactionId":7}`)}, "StartTransaction"},
		{&Message{TypeID: CallError, UniqueID: "u3", ErrorCode: NotSupported, ErrorDescription: "unknown action", Payload: json.RawMessage(`{}`)}, "Foo"},
	}
	for _, tc := range messages {
		t.Run(tc.msg.TypeID.String(), func(t *testing.T) {
			env, err := EnvelopeFor(tc.msg, tc.action, "CB-1", DialectCentralSystem, CentralSystemNamespace)
			require.NoError(t, err)
			raw, err := env.Encode()
			require.NoError(t, err)

			decoded, err := DecodeEnvelope(raw)
			require.NoError(t, err)
			msg, err := decoded.Message()
			require.NoError(t, err)

			assert.Equal(t, tc.msg.TypeID, msg.TypeID)
			assert.Equal(t, tc.msg.UniqueID, msg.UniqueID)
			assert.Equal(t, tc.msg.Action, msg.Action)
			assert.Equal(t, tc.msg.ErrorCode, msg.ErrorCode)
			assert.Equal(t, tc.msg.ErrorDescription, msg.ErrorDescription)
			assert.JSONEq(t, string(tc.msg.Payload), string(msg.Payload))
		})
	}
}

func TestEnvelope_RepeatedGroupsRoundTrip(t *testing.T) {
	payload := `{"connectorId":1,"transactionId":7,"meterValue":[` +
		`{"timestamp":"2024-01-01T10:00:00.123Z","sampledValue":[{"value":"1","measurand":"Energy.Active.Import.Register"},{"value":"230","measurand":"Voltage"}]},` +
		`{"timestamp":"2024-01-01T10:01:00.456Z","sampledValue":[{"value":"2","measurand":"Energy.Active.Import.Register"}]}]}`
	call := &Message{TypeID: Call, UniqueID: "u1", Action: "MeterValues", Payload: json.RawMessage(payload)}

	for _, dialect := range []Dialect{DialectCentralSystem, DialectChargePoint} {
		env, err := EnvelopeFor(call, "", "CB-1", dialect, CentralSystemNamespace)
		require.NoError(t, err)
		assert.Equal(t, Fields{
			{Key: "connectorId", Value: "1"},
			{Key: "transactionId", Value: "7"},
			{Key: "meterValue.timestamp", Value: "2024-01-01T10:00:00.123Z"},
			{Key: "meterValue.sampledValue.value", Value: "1"},
			{Key: "meterValue.sampledValue.measurand", Value: "Energy.Active.Import.Register"},
			{Key: "meterValue.sampledValue[1].value", Value: "230"},
			{Key: "meterValue.sampledValue[1].measurand", Value: "Voltage"},
			{Key: "meterValue[1].timestamp", Value: "2024-01-01T10:01:00.456Z"},
			{Key: "meterValue[1].sampledValue.value", Value: "2"},
			{Key: "meterValue[1].sampledValue.measurand", Value: "Energy.Active.Import.Register"},
		}, env.Values)

		raw, err := env.Encode()
		require.NoError(t, err)
		decoded, err := DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, env.Values, decoded.Values)

		msg, err := decoded.Message()
		require.NoError(t, err)
		assert.JSONEq(t, payload, string(msg.Payload))
	}
}

func TestNewFault(t *testing.T) {
	request := &Envelope{Dialect: DialectChargePoint, NotificationName: "resetRequest"}
	request.Headers.Set("MessageID", "m-5")

	fault := NewFault(request, NewError(NotSupported, "no handler for reset"))
	assert.True(t, fault.IsFault())
	assert.Equal(t, "s:Sender", fault.Values.Value("Code.Value"))
	assert.Equal(t, FaultAction, fault.Headers.Value("Action"))

	raw, err := fault.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<s:Fault>")

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	ocppErr := decoded.FaultError()
	require.NotNil(t, ocppErr)
	assert.Equal(t, NotSupported, ocppErr.Code)
	assert.Equal(t, "no handler for reset", ocppErr.Description)
}

func TestValuesToPayload_Lists(t *testing.T) {
	var values Fields
	values.Add("key", "HeartbeatInterval")
	payload, err := ValuesToPayload(values)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":["HeartbeatInterval"]}`, string(payload))

	values = nil
	values.Add("expiryDate", "2024-05-01T12:00:00.000+02:00")
	values.Add("reservationId", "12")
	payload, err = ValuesToPayload(values)
	require.NoError(t, err)
	assert.JSONEq(t, `{"expiryDate":"2024-05-01T10:00:00Z","reservationId":12}`, string(payload))

	values = nil
	values.Add("meterValue.timestamp", "2024-05-01T12:00:00.125+02:00")
	values.Add("meterValue.sampledValue.value", "5")
	payload, err = ValuesToPayload(values)
	require.NoError(t, err)
	assert.JSONEq(t, `{"meterValue":[{"timestamp":"2024-05-01T10:00:00.125Z","sampledValue":[{"value":"5"}]}]}`, string(payload))
}
