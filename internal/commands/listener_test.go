package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/services"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, chargePointID, action string, payload json.RawMessage) (*services.OperationResult, error) {
	args := m.Called(chargePointID, action, string(payload))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.OperationResult), args.Error(1)
}

func TestListener_Handle(t *testing.T) {
	executor := new(MockExecutor)
	executor.On("Execute", "CP-1", "Reset", `{"type":"Hard"}`).Return(&services.OperationResult{
		ChargePointID: "CP-1", Action: "Reset", Status: "Accepted",
	}, nil)
	executor.On("Execute", "CP-1", "ClearCache", `{}`).Return(&services.OperationResult{
		ChargePointID: "CP-1", Action: "ClearCache", ErrorCode: ocpp.NotSupported,
	}, nil)
	executor.On("Execute", "CP-2", "Reset", `{"type":"Hard"}`).Return(nil, services.ErrChargePointNotFound)
	executor.On("Execute", "CP-1", "Reset", `{"type":"Later"}`).Return(nil, ocpp.NewError(ocpp.TypeConstraintViolation, "bad type"))
	executor.On("Execute", "CP-3", "Reset", `{"type":"Hard"}`).Return(nil, correlation.ErrTimeout)

	l := NewListener(executor, "", time.Second)
	assert.Equal(t, DefaultSubject, l.subject)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"accepted", `{"action":"Reset","chargePointId":"CP-1","payload":{"type":"Hard"}}`, http.StatusOK, ""},
		{"call error", `{"action":"ClearCache","chargePointId":"CP-1","payload":{}}`, http.StatusBadRequest, ""},
		{"unknown charge point", `{"action":"Reset","chargePointId":"CP-2","payload":{"type":"Hard"}}`, http.StatusNotFound, "NotFound"},
		{"rejected payload", `{"action":"Reset","chargePointId":"CP-1","payload":{"type":"Later"}}`, http.StatusBadRequest, "TypeConstraintViolation"},
		{"timeout", `{"action":"Reset","chargePointId":"CP-3","payload":{"type":"Hard"}}`, http.StatusRequestTimeout, "Timeout"},
		{"missing action", `{"chargePointId":"CP-1"}`, http.StatusBadRequest, "ValidationError"},
		{"malformed", `{"action":`, http.StatusBadRequest, "ValidationError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := l.Handle(context.Background(), []byte(tt.body))
			assert.Equal(t, tt.status, response.Status)
			if tt.code == "" {
				assert.Nil(t, response.Err)
				require.NotNil(t, response.Result)
				return
			}
			require.NotNil(t, response.Err)
			assert.Equal(t, tt.code, response.Err.Code)
		})
	}
	executor.AssertNotCalled(t, "Execute", "CP-1", "", mock.Anything)
}

func TestListener_ResponseEncoding(t *testing.T) {
	response := Response{Status: http.StatusOK, Result: &services.OperationResult{ChargePointID: "CP-1", Action: "Reset", Status: "Accepted"}}
	data, err := json.Marshal(response)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":200,"result":{"chargePointId":"CP-1","action":"Reset","uniqueId":"","status":"Accepted"}}`, string(data))
}
