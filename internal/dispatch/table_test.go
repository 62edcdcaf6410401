package dispatch

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/ocpp"
)

func newCall(t *testing.T, action string, payload interface{}) *ocpp.Message {
	t.Helper()
	msg, err := ocpp.NewCall(action, payload)
	require.NoError(t, err)
	return msg
}

func TestTable_HandleCall(t *testing.T) {
	cp := chargepoint.New("CP-1", ocpp.ProtocolJSON, 1, nil, time.Minute)

	table := NewTable(ocpp.RoleCentralSystem)
	thenRan := false
	table.Register("Heartbeat", func(_ *chargepoint.ChargePoint, _ *ocpp.Message) (Reply, error) {
		return Reply{
			Payload: map[string]string{"currentTime": "2024-01-01T00:00:00Z"},
			Then:    func() { thenRan = true },
		}, nil
	})
	table.Register("Authorize", func(_ *chargepoint.ChargePoint, _ *ocpp.Message) (Reply, error) {
		return Reply{}, ocpp.NewError(ocpp.ValidationError, "idTag missing")
	})
	table.Register("DataTransfer", func(_ *chargepoint.ChargePoint, _ *ocpp.Message) (Reply, error) {
		return Reply{}, errors.New("disk full")
	})
	table.Register("MeterValues", func(_ *chargepoint.ChargePoint, _ *ocpp.Message) (Reply, error) {
		panic("boom")
	})

	t.Run("success", func(t *testing.T) {
		call := newCall(t, "heartbeat", nil)
		response, then := table.HandleCall(cp, call)
		require.NotNil(t, then)
		then()
		assert.True(t, thenRan)
		assert.Equal(t, ocpp.CallResult, response.TypeID)
		assert.Equal(t, call.UniqueID, response.UniqueID)
		assert.JSONEq(t, `{"currentTime":"2024-01-01T00:00:00Z"}`, string(response.Payload))
	})

	tests := []struct {
		action string
		code   ocpp.ErrorCode
	}{
		{"Authorize", ocpp.ValidationError},
		{"DataTransfer", ocpp.InternalError},
		{"MeterValues", ocpp.InternalError},
		{"FirmwareStatusNotification", ocpp.NotSupported},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			call := newCall(t, tt.action, nil)
			response, then := table.HandleCall(cp, call)
			assert.Nil(t, then)
			assert.Equal(t, ocpp.CallError, response.TypeID)
			assert.Equal(t, tt.code, response.ErrorCode)
			assert.Equal(t, call.UniqueID, response.UniqueID)
			assert.Equal(t, tt.action, response.Action)
		})
	}
}

func TestTable_ChargePointRoleDropsAction(t *testing.T) {
	cp := chargepoint.New("CP-1", ocpp.ProtocolJSON, 1, nil, time.Minute)
	table := NewTable(ocpp.RoleChargePoint)
	table.Register("ClearCache", func(_ *chargepoint.ChargePoint, _ *ocpp.Message) (Reply, error) {
		return Reply{Payload: json.RawMessage(`{"status":"Accepted"}`)}, nil
	})

	response, _ := table.HandleCall(cp, newCall(t, "ClearCache", nil))
	assert.Empty(t, response.Action)
	assert.Equal(t, []string{"ClearCache"}, table.Actions())
	assert.Equal(t, ocpp.RoleChargePoint, table.Role())
}
