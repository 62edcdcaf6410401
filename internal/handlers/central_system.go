// Package handlers implements the Central System role: the dispatch table
// answering station-originated calls and the originator of remote commands.
package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/catalog"
	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/dispatch"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/state"
)

const (
	DefaultHeartbeatInterval = 300
	stateTimeout             = 5 * time.Second
)

// EventPublisher receives business events. *mqtt.Publisher implements it.
type EventPublisher interface {
	PublishTransactionEvent(clientID, eventType string, event interface{})
	PublishConnectorEvent(clientID string, event interface{})
	PublishMeterReadingEvent(clientID string, event interface{})
}

// Options configures a CentralSystem. Zero values fall back to an in-memory
// state, a transaction counter starting at 1000, an accept-all authorizer and
// the default meter alert thresholds.
type Options struct {
	HeartbeatInterval int
	Authorizer        Authorizer
	Transactions      state.Sequence
	BusinessState     state.BusinessState
	Events            EventPublisher
	Alerts            *AlertManager
}

// CentralSystem answers station calls and originates remote commands.
type CentralSystem struct {
	heartbeatInterval int
	authorizer        Authorizer
	transactions      state.Sequence
	businessState     state.BusinessState
	events            EventPublisher
	alerts            *AlertManager
	now               func() time.Time
	table             *dispatch.Table
}

func NewCentralSystem(opts Options) *CentralSystem {
	cs := &CentralSystem{
		heartbeatInterval: opts.HeartbeatInterval,
		authorizer:        opts.Authorizer,
		transactions:      opts.Transactions,
		businessState:     opts.BusinessState,
		events:            opts.Events,
		alerts:            opts.Alerts,
		now:               time.Now,
	}
	if cs.heartbeatInterval <= 0 {
		cs.heartbeatInterval = DefaultHeartbeatInterval
	}
	if cs.authorizer == nil {
		cs.authorizer = NewAcceptAllAuthorizer()
	}
	if cs.transactions == nil {
		cs.transactions = state.NewMemorySequence(1000)
	}
	if cs.businessState == nil {
		cs.businessState = state.NewMemoryBusinessState()
	}
	if cs.alerts == nil {
		cs.alerts = NewAlertManager()
	}

	t := dispatch.NewTable(ocpp.RoleCentralSystem)
	t.Register("Authorize", cs.handleAuthorize)
	t.Register("BootNotification", cs.handleBootNotification)
	t.Register("DataTransfer", cs.handleDataTransfer)
	t.Register("DiagnosticsStatusNotification", cs.handleStatusReport)
	t.Register("FirmwareStatusNotification", cs.handleStatusReport)
	t.Register("Heartbeat", cs.handleHeartbeat)
	t.Register("MeterValues", cs.handleMeterValues)
	t.Register("StartTransaction", cs.handleStartTransaction)
	t.Register("StatusNotification", cs.handleStatusNotification)
	t.Register("StopTransaction", cs.handleStopTransaction)
	cs.table = t
	return cs
}

// Table returns the dispatch table for station-originated calls.
func (cs *CentralSystem) Table() *dispatch.Table {
	return cs.table
}

func (cs *CentralSystem) BusinessState() state.BusinessState {
	return cs.businessState
}

// SetClock replaces the time source, used by tests.
func (cs *CentralSystem) SetClock(now func() time.Time) {
	cs.now = now
}

// SendCall originates action toward cp. The payload is checked against the
// operation catalog before anything is sent.
func (cs *CentralSystem) SendCall(cp *chargepoint.ChargePoint, action string, payload interface{}, cont correlation.Continuation) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", ocpp.NewError(ocpp.FormationViolation, "invalid %s payload: %v", action, err)
	}
	if payload == nil {
		raw = json.RawMessage(`{}`)
	}
	op, ok := catalog.Lookup(action)
	if !ok {
		return "", ocpp.NewError(ocpp.NotSupported, "unknown operation %s", action)
	}
	if err := op.Validate(raw); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"chargePoint": cp.Identity(), "action": op.Name}).Info("REMOTE_COMMAND: Sending call")
	return cp.Call(op.Name, json.RawMessage(raw), cont)
}

func (cs *CentralSystem) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), stateTimeout)
}

func (cs *CentralSystem) handleAuthorize(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.AuthorizeRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	if req.IdTag == "" {
		return dispatch.Reply{}, ocpp.NewError(ocpp.OccurenceConstraintViolation, "idTag is required")
	}
	info := cs.authorizer.Authorize(cp.Identity(), req.IdTag)
	log.Printf("AUTHORIZE: %s presented %s, %s", cp.Identity(), req.IdTag, info.Status)
	return dispatch.Reply{Payload: core.AuthorizeConfirmation{IdTagInfo: info}}, nil
}

func (cs *CentralSystem) handleBootNotification(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.BootNotificationRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	log.Printf("BOOT_NOTIFICATION: %s model=%s vendor=%s", cp.Identity(), req.ChargePointModel, req.ChargePointVendor)

	now := cs.now()
	cp.SetBootInfo(chargepoint.BootInfo{
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		SerialNumber:    req.ChargePointSerialNumber,
		FirmwareVersion: req.FirmwareVersion,
	})
	cp.SetRegistration(core.RegistrationStatusAccepted)
	cp.Touch(now)

	ctx, cancel := cs.storeContext()
	defer cancel()
	info := &state.ChargePointInfo{
		ClientID:        cp.Identity(),
		Protocol:        string(cp.Protocol()),
		Address:         cp.Address(),
		Vendor:          req.ChargePointVendor,
		Model:           req.ChargePointModel,
		FirmwareVersion: req.FirmwareVersion,
		Registration:    string(core.RegistrationStatusAccepted),
		LastSeen:        now,
		IsOnline:        true,
	}
	if err := cs.businessState.SetChargePointInfo(ctx, info); err != nil {
		log.Printf("BOOT_NOTIFICATION: Error storing charge point info: %v", err)
	}

	return dispatch.Reply{Payload: core.NewBootNotificationConfirmation(types.NewDateTime(now), cs.heartbeatInterval, core.RegistrationStatusAccepted)}, nil
}

func (cs *CentralSystem) handleHeartbeat(cp *chargepoint.ChargePoint, _ *ocpp.Message) (dispatch.Reply, error) {
	now := cs.now()
	cp.Touch(now)
	log.Debugf("HEARTBEAT: %s", cp.Identity())
	return dispatch.Reply{Payload: core.NewHeartbeatConfirmation(types.NewDateTime(now))}, nil
}

func (cs *CentralSystem) handleDataTransfer(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.DataTransferRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	log.Printf("DATA_TRANSFER: %s vendor=%s messageId=%s", cp.Identity(), req.VendorId, req.MessageId)
	return dispatch.Reply{Payload: core.NewDataTransferConfirmation(core.DataTransferStatusAccepted)}, nil
}

// handleStatusReport acknowledges firmware and diagnostics status reports.
func (cs *CentralSystem) handleStatusReport(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req struct {
		Status string `json:"status"`
	}
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	log.Printf("STATUS_REPORT: %s %s: %s", cp.Identity(), call.Action, req.Status)
	return dispatch.Reply{Payload: struct{}{}}, nil
}
