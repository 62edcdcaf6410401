package handlers

import (
	"strconv"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/dispatch"
	"ocpp-engine/internal/mqtt"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/state"
)

// handleStatusNotification mirrors the reported connector status. Statuses
// that do not exist in the OCPP version of the station's binding are refused.
func (cs *CentralSystem) handleStatusNotification(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.StatusNotificationRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	if !chargepoint.AllowedStatus(cp.Protocol(), req.Status) {
		return dispatch.Reply{}, ocpp.NewError(ocpp.PropertyConstraintViolation, "status %s is not valid over %s", req.Status, cp.Protocol())
	}
	connector, err := cp.EnsureConnector(req.ConnectorId)
	if err != nil {
		return dispatch.Reply{}, ocpp.NewError(ocpp.PropertyConstraintViolation, "%v", err)
	}

	previous := connector.Status()
	if err := cp.SetStatus(req.ConnectorId, req.Status, req.ErrorCode); err != nil {
		return dispatch.Reply{}, err
	}
	log.WithFields(log.Fields{
		"chargePoint": cp.Identity(),
		"connectorId": req.ConnectorId,
	}).Infof("STATUS_NOTIFICATION: %s -> %s (%s)", previous, req.Status, req.ErrorCode)

	var transactionID *int
	if id := connector.TransactionID(); id != chargepoint.NoTransaction {
		transactionID = &id
	}

	ctx, cancel := cs.storeContext()
	defer cancel()
	status := &state.ConnectorStatus{
		ConnectorID:   req.ConnectorId,
		Status:        string(req.Status),
		ErrorCode:     string(req.ErrorCode),
		TransactionID: transactionID,
		LastUpdate:    cs.now(),
	}
	if err := cs.businessState.SetConnectorStatus(ctx, cp.Identity(), status); err != nil {
		log.Printf("STATUS_NOTIFICATION: Failed to store connector status: %v", err)
	}

	if cs.events != nil && previous != req.Status {
		cs.events.PublishConnectorEvent(cp.Identity(), &mqtt.ConnectorEvent{
			ConnectorID:     req.ConnectorId,
			Status:          string(req.Status),
			PreviousStatus:  string(previous),
			TransactionID:   transactionID,
			ErrorCode:       string(req.ErrorCode),
			Info:            req.Info,
			VendorID:        req.VendorId,
			VendorErrorCode: req.VendorErrorCode,
		})
	}
	return dispatch.Reply{Payload: core.NewStatusNotificationConfirmation()}, nil
}

// handleStartTransaction assigns the next transaction id. An id is assigned
// even when the idTag is refused; the station is told through idTagInfo.
func (cs *CentralSystem) handleStartTransaction(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.StartTransactionRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	connector, err := cp.EnsureConnector(req.ConnectorId)
	if err != nil || req.ConnectorId == 0 {
		return dispatch.Reply{}, ocpp.NewError(ocpp.PropertyConstraintViolation, "invalid connectorId %d", req.ConnectorId)
	}

	transactionID, err := cs.transactions.Next()
	if err != nil {
		return dispatch.Reply{}, err
	}
	info := cs.authorizer.Authorize(cp.Identity(), req.IdTag)

	startTime := cs.now()
	if req.Timestamp != nil {
		startTime = req.Timestamp.Time
	}
	connector.StartTransaction(transactionID, req.IdTag)
	connector.SetMeterValue(req.MeterStart)

	ctx, cancel := cs.storeContext()
	defer cancel()
	tx := &state.TransactionInfo{
		TransactionID: transactionID,
		ClientID:      cp.Identity(),
		ConnectorID:   req.ConnectorId,
		IdTag:         req.IdTag,
		StartTime:     startTime,
		MeterStart:    req.MeterStart,
		CurrentMeter:  req.MeterStart,
		Status:        state.TransactionActive,
	}
	if err := cs.businessState.CreateTransaction(ctx, tx); err != nil {
		log.Printf("START_TRANSACTION: Failed to store transaction: %v", err)
	}
	if cs.events != nil {
		cs.events.PublishTransactionEvent(cp.Identity(), "started",
			mqtt.NewTransactionStartedEvent(transactionID, req.ConnectorId, req.IdTag, req.MeterStart, startTime))
	}

	log.WithFields(log.Fields{
		"chargePoint": cp.Identity(),
		"connectorId": req.ConnectorId,
	}).Infof("START_TRANSACTION: Assigned transaction %d to %s (%s)", transactionID, req.IdTag, info.Status)
	return dispatch.Reply{Payload: core.NewStartTransactionConfirmation(info, transactionID)}, nil
}

func (cs *CentralSystem) handleStopTransaction(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.StopTransactionRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}
	stopTime := cs.now()
	if req.Timestamp != nil {
		stopTime = req.Timestamp.Time
	}

	if connector, ok := cp.ConnectorByTransaction(req.TransactionId); ok {
		connector.StopTransaction()
		connector.SetMeterValue(req.MeterStop)
	}

	ctx, cancel := cs.storeContext()
	defer cancel()
	tx, err := cs.businessState.GetTransaction(ctx, req.TransactionId)
	if err != nil {
		// the record may have expired; the stop is still acknowledged
		log.Printf("STOP_TRANSACTION: Transaction %d not found: %v", req.TransactionId, err)
	} else {
		meterStop := req.MeterStop
		tx.CurrentMeter = req.MeterStop
		tx.MeterStop = &meterStop
		tx.StopTime = &stopTime
		tx.Reason = string(req.Reason)
		tx.Status = state.TransactionStopped
		if err := cs.businessState.UpdateTransaction(ctx, tx); err != nil {
			log.Printf("STOP_TRANSACTION: Failed to update transaction: %v", err)
		}
		if cs.events != nil {
			cs.events.PublishTransactionEvent(cp.Identity(), "completed",
				mqtt.NewTransactionCompletedEvent(tx.TransactionID, tx.ConnectorID, tx.IdTag, tx.MeterStart, req.MeterStop, tx.StartTime, stopTime, string(req.Reason)))
		}
	}

	log.Printf("STOP_TRANSACTION: %s stopped transaction %d at %d Wh (%s)", cp.Identity(), req.TransactionId, req.MeterStop, req.Reason)
	response := core.NewStopTransactionConfirmation()
	if req.IdTag != "" {
		response.IdTagInfo = cs.authorizer.Authorize(cp.Identity(), req.IdTag)
	}
	return dispatch.Reply{Payload: response}, nil
}

// handleMeterValues updates the mirrored meter from the energy register,
// checks the samples against the alert thresholds and forwards a reading event.
func (cs *CentralSystem) handleMeterValues(cp *chargepoint.ChargePoint, call *ocpp.Message) (dispatch.Reply, error) {
	var req core.MeterValuesRequest
	if err := call.DecodePayload(&req); err != nil {
		return dispatch.Reply{}, err
	}

	if wh, ok := latestEnergyRegister(req.MeterValue); ok {
		if connector, found := cp.Connector(req.ConnectorId); found {
			connector.SetMeterValue(wh)
		}
		if req.TransactionId != nil {
			cs.updateTransactionMeter(*req.TransactionId, wh)
		}
	}

	cs.alerts.Check(cp.Identity(), req.ConnectorId, req.MeterValue)

	if cs.events != nil {
		if event := mqtt.NewMeterReadingEvent(req.ConnectorId, req.TransactionId, req.MeterValue); event != nil {
			cs.events.PublishMeterReadingEvent(cp.Identity(), event)
		}
	}
	return dispatch.Reply{Payload: core.NewMeterValuesConfirmation()}, nil
}

func (cs *CentralSystem) updateTransactionMeter(transactionID, wh int) {
	ctx, cancel := cs.storeContext()
	defer cancel()
	tx, err := cs.businessState.GetTransaction(ctx, transactionID)
	if err != nil {
		log.Printf("METER_VALUES: Transaction %d not found: %v", transactionID, err)
		return
	}
	tx.CurrentMeter = wh
	if err := cs.businessState.UpdateTransaction(ctx, tx); err != nil {
		log.Printf("METER_VALUES: Failed to update transaction meter: %v", err)
	}
}

// latestEnergyRegister returns the last Energy.Active.Import.Register sample
// in Wh. Samples without a measurand are that register.
func latestEnergyRegister(values []types.MeterValue) (int, bool) {
	wh, found := 0, false
	for _, mv := range values {
		for _, sample := range mv.SampledValue {
			if sample.Measurand != "" && sample.Measurand != types.MeasurandEnergyActiveImportRegister {
				continue
			}
			v, err := strconv.ParseFloat(sample.Value, 64)
			if err != nil {
				continue
			}
			if sample.Unit == types.UnitOfMeasureKWh {
				v *= 1000
			}
			wh, found = int(v), true
		}
	}
	return wh, found
}
