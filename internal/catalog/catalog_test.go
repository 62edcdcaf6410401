package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp-engine/internal/ocpp"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		payload string
		code    ocpp.ErrorCode
	}{
		{"valid remote start", "RemoteStartTransaction", `{"connectorId":1,"idTag":"TAG1"}`, ""},
		{"case insensitive action", "remotestarttransaction", `{"idTag":"TAG1"}`, ""},
		{"empty payload for no-field operation", "ClearCache", ``, ""},
		{"valid reserve", "ReserveNow", `{"connectorId":1,"expiryDate":"2024-05-01T12:00:00Z","idTag":"A","reservationId":3}`, ""},
		{"unknown key", "RemoteStartTransaction", `{"idTag":"TAG1","colour":"red"}`, ocpp.ValidationError},
		{"missing required", "RemoteStopTransaction", `{}`, ocpp.ValidationError},
		{"wrong type", "RemoteStopTransaction", `{"transactionId":"7"}`, ocpp.ValidationError},
		{"fractional integer", "UnlockConnector", `{"connectorId":1.5}`, ocpp.ValidationError},
		{"bad dateTime", "ReserveNow", `{"connectorId":1,"expiryDate":"tomorrow","idTag":"A","reservationId":3}`, ocpp.ValidationError},
		{"not an object", "Reset", `["Hard"]`, ocpp.ValidationError},
		{"unknown operation", "Teleport", `{}`, ocpp.NotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.action, json.RawMessage(tt.payload))
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, ocpp.CodeOf(err))
		})
	}
}

func TestOperations_ByOrigin(t *testing.T) {
	central := Operations(ocpp.RoleCentralSystem)
	station := Operations(ocpp.RoleChargePoint)

	assert.NotEmpty(t, central)
	assert.NotEmpty(t, station)
	for _, op := range central {
		assert.Equal(t, ocpp.RoleCentralSystem, op.Origin)
	}

	op, ok := Lookup("TRIGGERMESSAGE")
	require.True(t, ok)
	assert.Equal(t, "TriggerMessage", op.Name)
	assert.Equal(t, ocpp.RoleCentralSystem, op.Origin)
}
