package emulator

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/config"
	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/dispatch"
	"ocpp-engine/internal/ocpp"
)

// passThroughActions are answered from fixtures.
var passThroughActions = []string{
	"ChangeAvailability",
	"ClearChargingProfile",
	"DataTransfer",
	"GetCompositeSchedule",
	"GetDiagnostics",
	"GetLocalListVersion",
	"SendLocalList",
	"SetChargingProfile",
	"UnlockConnector",
	"UpdateFirmware",
}

func (e *Emulator) newTable() *dispatch.Table {
	t := dispatch.NewTable(ocpp.RoleChargePoint)
	t.Register("CancelReservation", e.handleCancelReservation)
	t.Register("ChangeConfiguration", e.handleChangeConfiguration)
	t.Register("ClearCache", e.handleClearCache)
	t.Register("GetConfiguration", e.handleGetConfiguration)
	t.Register("RemoteStartTransaction", e.handleRemoteStartTransaction)
	t.Register("RemoteStopTransaction", e.handleRemoteStopTransaction)
	t.Register("ReserveNow", e.handleReserveNow)
	t.Register("Reset", e.handleReset)
	t.Register("TriggerMessage", e.handleTriggerMessage)
	for _, action := range passThroughActions {
		t.Register(action, e.handleFixture)
	}
	return t
}

// handleRemoteStartTransaction moves an Available connector to Preparing and
// resolves the idTag once the reply has been sent.
func (e *Emulator) handleRemoteStartTransaction(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.RemoteStartTransactionRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	if req.IdTag == "" {
		return dispatch.Reply{}, ocpp.NewError(ocpp.OccurenceConstraintViolation, "idTag is required")
	}

	connector := e.startableConnector(req.ConnectorId, req.IdTag)
	if connector == nil {
		log.Printf("REMOTE_START: No connector available for %s", req.IdTag)
		return dispatch.Reply{Payload: core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusRejected)}, nil
	}

	id := connector.ID()
	return dispatch.Reply{
		Payload: core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusAccepted),
		Then: func() {
			connector.SetIdTag(req.IdTag)
			e.setStatus(id, core.ChargePointStatusPreparing)
			e.authorizeRemoteStart(id, req.IdTag)
		},
	}, nil
}

// startableConnector picks the requested connector, or the first one that can
// start a transaction for idTag.
func (e *Emulator) startableConnector(requested *int, idTag string) *chargepoint.Connector {
	canStart := func(c *chargepoint.Connector) bool {
		switch c.Status() {
		case core.ChargePointStatusAvailable:
			_, held := c.Reservation()
			return !held
		case core.ChargePointStatusReserved:
			r, held := c.Reservation()
			return held && r.IdTag == idTag
		}
		return false
	}

	if requested != nil && *requested > 0 {
		c, ok := e.cp.Connector(*requested)
		if !ok || !canStart(c) {
			return nil
		}
		return c
	}
	for _, c := range e.cp.Connectors() {
		if canStart(c) {
			return c
		}
	}
	return nil
}

// authorizeRemoteStart resolves idTag from the cache when local
// pre-authorization is enabled, otherwise asks the Central System.
func (e *Emulator) authorizeRemoteStart(connectorID int, idTag string) {
	proceed := func(info *types.IdTagInfo) {
		if info == nil || info.Status != types.AuthorizationStatusAccepted {
			log.Printf("REMOTE_START: %s not authorized", idTag)
			e.setStatus(connectorID, core.ChargePointStatusAvailable)
			return
		}
		e.SendStartTransaction(connectorID, idTag)
	}

	cfg := e.cp.Config
	if !cfg.BoolValue("AuthorizeRemoteTxRequests", true) {
		e.SendStartTransaction(connectorID, idTag)
		return
	}
	if cfg.BoolValue(config.KeyLocalPreAuthorize, false) && cfg.BoolValue(config.KeyAuthorizationCacheEnabled, true) {
		if entry, ok := e.cp.AuthCache.Lookup(idTag); ok && entry.Status == types.AuthorizationStatusAccepted {
			log.Printf("REMOTE_START: %s authorized from cache", idTag)
			proceed(&types.IdTagInfo{Status: entry.Status, ParentIdTag: entry.ParentIdTag})
			return
		}
	}
	e.SendAuthorize(idTag, proceed)
}

// handleRemoteStopTransaction ends a Charging transaction. A reservation
// still held on the connector must belong to the active idTag.
func (e *Emulator) handleRemoteStopTransaction(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.RemoteStopTransactionRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	rejected := dispatch.Reply{Payload: core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusRejected)}

	connector, ok := cp.ConnectorByTransaction(req.TransactionId)
	if !ok || connector.Status() != core.ChargePointStatusCharging {
		log.Printf("REMOTE_STOP: Transaction %d is not charging", req.TransactionId)
		return rejected, nil
	}
	if r, held := connector.Reservation(); held && r.IdTag != connector.IdTag() {
		log.Printf("REMOTE_STOP: Reservation %d does not belong to %s", r.ID, connector.IdTag())
		return rejected, nil
	}

	return dispatch.Reply{
		Payload: core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusAccepted),
		Then: func() {
			e.stopTransaction(connector, core.ReasonRemote)
		},
	}, nil
}

// stopTransaction clears the transaction, moves the connector to Finishing
// and reports the stop.
func (e *Emulator) stopTransaction(connector *chargepoint.Connector, reason core.Reason) {
	transactionID, idTag, meter := connector.StopTransaction()
	if transactionID == chargepoint.NoTransaction {
		return
	}
	delete(e.lastMeter, connector.ID())
	log.WithFields(log.Fields{
		"chargePoint": e.cp.Identity(),
		"connectorId": connector.ID(),
	}).Infof("STOP_TRANSACTION: Stopping transaction %d (%s)", transactionID, reason)
	e.setStatus(connector.ID(), core.ChargePointStatusFinishing)
	e.SendStopTransaction(transactionID, idTag, meter, reason)
}

func (e *Emulator) handleReserveNow(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req reservation.ReserveNowRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	if req.ExpiryDate == nil {
		return dispatch.Reply{}, ocpp.NewError(ocpp.OccurenceConstraintViolation, "expiryDate is required")
	}

	connector, ok := cp.Connector(req.ConnectorId)
	if !ok || req.ConnectorId == 0 {
		return dispatch.Reply{Payload: reservation.NewReserveNowConfirmation(reservation.ReservationStatusRejected)}, nil
	}

	status := connector.Reserve(chargepoint.Reservation{
		ID:          req.ReservationId,
		IdTag:       req.IdTag,
		ParentIdTag: req.ParentIdTag,
		Expiry:      req.ExpiryDate.Time,
	})
	log.Printf("RESERVE_NOW: Reservation %d on connector %d for %s: %s", req.ReservationId, req.ConnectorId, req.IdTag, status)

	reply := dispatch.Reply{Payload: reservation.NewReserveNowConfirmation(status)}
	if status == reservation.ReservationStatusAccepted && connector.Status() != core.ChargePointStatusReserved {
		reply.Then = func() { e.setStatus(req.ConnectorId, core.ChargePointStatusReserved) }
	}
	return reply, nil
}

func (e *Emulator) handleCancelReservation(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req reservation.CancelReservationRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	for _, connector := range cp.Connectors() {
		if !connector.CancelReservation(req.ReservationId) {
			continue
		}
		log.Printf("CANCEL_RESERVATION: Reservation %d cancelled on connector %d", req.ReservationId, connector.ID())
		reply := dispatch.Reply{Payload: reservation.NewCancelReservationConfirmation(reservation.CancelReservationStatusAccepted)}
		if connector.Status() == core.ChargePointStatusReserved {
			id := connector.ID()
			reply.Then = func() { e.setStatus(id, core.ChargePointStatusAvailable) }
		}
		return reply, nil
	}
	return dispatch.Reply{Payload: reservation.NewCancelReservationConfirmation(reservation.CancelReservationStatusRejected)}, nil
}

func (e *Emulator) handleChangeConfiguration(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.ChangeConfigurationRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	status := cp.Config.ChangeConfiguration(req.Key, req.Value)
	log.Printf("CHANGE_CONFIGURATION: %s=%s: %s", req.Key, req.Value, status)
	return dispatch.Reply{Payload: core.NewChangeConfigurationConfirmation(status)}, nil
}

func (e *Emulator) handleGetConfiguration(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.GetConfigurationRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	keys, unknown := cp.Config.GetConfiguration(req.Key)
	response := core.NewGetConfigurationConfirmation(keys)
	response.UnknownKey = unknown
	return dispatch.Reply{Payload: response}, nil
}

func (e *Emulator) handleClearCache(cp *chargepoint.ChargePoint, _ *ocpp.Message) (dispatch.Reply, error) {
	cp.AuthCache.Clear()
	return dispatch.Reply{Payload: core.NewClearCacheConfirmation(core.ClearCacheStatusAccepted)}, nil
}

// handleReset stops running transactions and registers again.
func (e *Emulator) handleReset(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.ResetRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	reason := core.ReasonSoftReset
	if req.Type == core.ResetTypeHard {
		reason = core.ReasonHardReset
	}
	log.Printf("RESET: %s reset requested", req.Type)

	return dispatch.Reply{
		Payload: core.NewResetConfirmation(core.ResetStatusAccepted),
		Then: func() {
			for _, connector := range cp.Connectors() {
				e.stopTransaction(connector, reason)
			}
			cp.SetRegistration(core.RegistrationStatusPending)
			e.SendBootNotification()
		},
	}, nil
}

func (e *Emulator) handleTriggerMessage(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req remotetrigger.TriggerMessageRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	log.Printf("TRIGGER_MESSAGE: %s requested", req.RequestedMessage)

	var run func()
	switch req.RequestedMessage {
	case core.BootNotificationFeatureName:
		run = e.SendBootNotification
	case core.HeartbeatFeatureName:
		run = e.SendHeartbeat
	case core.StatusNotificationFeatureName:
		run = func() {
			for _, c := range e.triggeredConnectors(req.ConnectorId, true) {
				e.SendStatusNotification(c.ID(), c.Status(), c.ErrorCode())
			}
		}
	case core.MeterValuesFeatureName:
		run = func() {
			for _, c := range e.triggeredConnectors(req.ConnectorId, false) {
				e.SendMeterValues(c.ID(), types.ReadingContextTrigger)
			}
		}
	case firmware.DiagnosticsStatusNotificationFeatureName, firmware.FirmwareStatusNotificationFeatureName:
		return dispatch.Reply{Payload: remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusNotImplemented)}, nil
	default:
		return dispatch.Reply{Payload: remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusRejected)}, nil
	}

	if req.ConnectorId != nil && *req.ConnectorId > 0 {
		if _, ok := cp.Connector(*req.ConnectorId); !ok {
			return dispatch.Reply{Payload: remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusRejected)}, nil
		}
	}
	return dispatch.Reply{
		Payload: remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusAccepted),
		Then:    run,
	}, nil
}

// triggeredConnectors resolves the connectorId of a TriggerMessage. Without
// one every connector is reported, including connector 0 when withStation.
func (e *Emulator) triggeredConnectors(connectorID *int, withStation bool) []*chargepoint.Connector {
	if connectorID != nil && *connectorID > 0 {
		if c, ok := e.cp.Connector(*connectorID); ok {
			return []*chargepoint.Connector{c}
		}
		return nil
	}
	var result []*chargepoint.Connector
	if withStation {
		if c, ok := e.cp.Connector(0); ok {
			result = append(result, c)
		}
	}
	return append(result, e.cp.Connectors()...)
}

// handleFixture answers actions without emulated behavior with a stored reply.
func (e *Emulator) handleFixture(_ *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	payload, err := e.fixtures.Load(call.Action)
	if err != nil {
		return dispatch.Reply{}, err
	}
	log.Printf("FIXTURE: Answering %s from stored response", call.Action)
	return dispatch.Reply{Payload: payload}, nil
}
