// Package services holds the inbound-API business logic shared by the HTTP
// and NATS command paths.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/catalog"
	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/ocpp"
)

var ErrChargePointNotFound = errors.New("charge point not found")

// CallSender originates a Call toward a charge point. *handlers.CentralSystem
// implements it.
type CallSender interface {
	SendCall(cp *chargepoint.ChargePoint, action string, payload interface{}, cont correlation.Continuation) (string, error)
}

// OperationObserver is told the HTTP status every operation ended with.
type OperationObserver interface {
	OperationCompleted(action string, status int)
}

// OperationResult is the outcome of one operation sent to a charge point.
type OperationResult struct {
	ChargePointID    string          `json:"chargePointId"`
	Action           string          `json:"action"`
	UniqueID         string          `json:"uniqueId"`
	Status           string          `json:"status,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	ErrorCode        ocpp.ErrorCode  `json:"errorCode,omitempty"`
	ErrorDescription string          `json:"errorDescription,omitempty"`
}

// Failed reports whether the charge point answered with a CallError.
func (r *OperationResult) Failed() bool {
	return r.ErrorCode != ""
}

// Decode unmarshals the reply payload into v.
func (r *OperationResult) Decode(v interface{}) error {
	return json.Unmarshal(r.Payload, v)
}

// OperationService validates an operator request against the operation
// catalog, sends it to the charge point and waits for the correlated reply.
type OperationService struct {
	chargePoints *chargepoint.Registry
	sender       CallSender
	timeout      time.Duration
	observer     OperationObserver
}

// NewOperationService creates the service. observer may be nil; a zero
// timeout selects correlation.DefaultCallTimeout.
func NewOperationService(chargePoints *chargepoint.Registry, sender CallSender, timeout time.Duration, observer OperationObserver) *OperationService {
	if timeout <= 0 {
		timeout = correlation.DefaultCallTimeout
	}
	return &OperationService{
		chargePoints: chargePoints,
		sender:       sender,
		timeout:      timeout,
		observer:     observer,
	}
}

func (s *OperationService) Timeout() time.Duration {
	return s.timeout
}

// Execute runs action against chargePointID. Validation failures are
// returned before the charge point is looked up. A CallError reply is a
// result, not an error.
func (s *OperationService) Execute(ctx context.Context, chargePointID, action string, payload json.RawMessage) (result *OperationResult, err error) {
	defer func() {
		if s.observer != nil {
			s.observer.OperationCompleted(action, StatusFor(result, err))
		}
	}()

	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	op, ok := catalog.Lookup(action)
	if !ok {
		return nil, ocpp.NewError(ocpp.NotSupported, "unknown operation %s", action)
	}
	if op.Origin != ocpp.RoleCentralSystem {
		return nil, ocpp.NewError(ocpp.NotSupported, "%s is not sent by the Central System", op.Name)
	}
	if err := op.Validate(payload); err != nil {
		return nil, err
	}

	cp, ok := s.chargePoints.Get(chargePointID)
	if !ok {
		return nil, ErrChargePointNotFound
	}

	cont, replies := correlation.Await()
	uniqueID, err := s.sender.SendCall(cp, op.Name, payload, cont)
	if err != nil {
		return nil, err
	}
	reply, err := correlation.Wait(ctx, replies, s.timeout)
	if err != nil {
		log.WithFields(log.Fields{
			"chargePoint": chargePointID,
			"action":      op.Name,
			"uniqueId":    uniqueID,
		}).Warnf("OPERATION: No reply: %v", err)
		return nil, err
	}

	result = &OperationResult{
		ChargePointID: chargePointID,
		Action:        op.Name,
		UniqueID:      uniqueID,
	}
	if reply.TypeID == ocpp.CallError {
		result.ErrorCode = reply.ErrorCode
		result.ErrorDescription = reply.ErrorDescription
		if reply.ErrorCode == ocpp.GenericError && reply.ErrorDescription == "timeout" {
			return result, correlation.ErrTimeout
		}
		return result, nil
	}
	result.Payload = reply.Payload
	var status struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(reply.Payload, &status) == nil {
		result.Status = status.Status
	}
	return result, nil
}

// StatusFor maps the outcome of Execute onto an HTTP status.
func StatusFor(result *OperationResult, err error) int {
	if err != nil {
		var ocppErr *ocpp.Error
		switch {
		case errors.Is(err, ErrChargePointNotFound), errors.Is(err, correlation.ErrNotConnected):
			return http.StatusNotFound
		case errors.Is(err, correlation.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			return http.StatusRequestTimeout
		case errors.As(err, &ocppErr) && ocppErr.Code.IsClientError():
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
	if result != nil && result.Failed() {
		if result.ErrorCode.IsClientError() {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
	return http.StatusOK
}
