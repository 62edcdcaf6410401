package emulator

import (
	"strconv"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/config"
	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/ocpp"
)

// send issues a Call and logs when the station is offline. Offline sends are
// dropped; the continuation never runs.
func (e *Emulator) send(action string, payload interface{}, cont correlation.Continuation) bool {
	if _, err := e.cp.Call(action, payload, cont); err != nil {
		log.WithFields(log.Fields{"chargePoint": e.cp.Identity(), "action": action}).Warnf("EMULATOR: Call not sent: %v", err)
		return false
	}
	return true
}

// SendAuthorize asks the Central System about idTag and passes the resulting
// idTagInfo to done. done receives nil when no answer could be obtained.
func (e *Emulator) SendAuthorize(idTag string, done func(info *types.IdTagInfo)) {
	sent := e.send("Authorize", core.AuthorizeRequest{IdTag: idTag}, func(reply *ocpp.Message, _ correlation.Session) {
		if reply.TypeID == ocpp.CallError {
			done(nil)
			return
		}
		var conf core.AuthorizeConfirmation
		if err := reply.DecodePayload(&conf); err != nil || conf.IdTagInfo == nil {
			log.Printf("AUTHORIZE: Invalid reply for %s: %v", idTag, err)
			done(nil)
			return
		}
		if e.cp.Config.BoolValue(config.KeyAuthorizationCacheEnabled, true) {
			e.cp.AuthCache.Update(idTag, conf.IdTagInfo)
		}
		done(conf.IdTagInfo)
	})
	if !sent {
		done(nil)
	}
}

// SendBootNotification registers the station. Until it is Accepted the tick
// retries after the interval the Central System returned.
func (e *Emulator) SendBootNotification() {
	request := core.BootNotificationRequest{
		ChargePointVendor:       e.config.Vendor,
		ChargePointModel:        e.config.Model,
		ChargePointSerialNumber: e.config.SerialNumber,
		FirmwareVersion:         e.config.FirmwareVersion,
	}
	sent := e.send("BootNotification", request, func(reply *ocpp.Message, _ correlation.Session) {
		retry := DefaultBootRetry
		if reply.TypeID == ocpp.CallError {
			e.bootRetryAt = e.now().Add(retry)
			return
		}
		var conf core.BootNotificationConfirmation
		if err := reply.DecodePayload(&conf); err != nil {
			log.Printf("BOOT_NOTIFICATION: Invalid reply: %v", err)
			e.bootRetryAt = e.now().Add(retry)
			return
		}
		if conf.Interval > 0 {
			retry = time.Duration(conf.Interval) * time.Second
		}
		e.cp.SetRegistration(conf.Status)
		log.Printf("BOOT_NOTIFICATION: %s registration %s, interval %d", e.cp.Identity(), conf.Status, conf.Interval)

		if conf.Status != core.RegistrationStatusAccepted {
			e.bootRetryAt = e.now().Add(retry)
			return
		}
		if conf.Interval > 0 {
			e.cp.Config.Set(config.KeyHeartbeatInterval, strconv.Itoa(conf.Interval))
		}
		e.lastHeartbeat = e.now()
		for _, c := range e.triggeredConnectors(nil, true) {
			e.setStatus(c.ID(), c.Status())
		}
	})
	if !sent {
		e.bootRetryAt = e.now().Add(DefaultBootRetry)
	}
}

func (e *Emulator) SendHeartbeat() {
	e.lastHeartbeat = e.now()
	e.send("Heartbeat", core.HeartbeatRequest{}, func(reply *ocpp.Message, _ correlation.Session) {
		var conf core.HeartbeatConfirmation
		if err := reply.DecodePayload(&conf); err == nil && conf.CurrentTime != nil {
			log.Debugf("HEARTBEAT: Central System time %s", conf.CurrentTime.FormatTimestamp())
		}
	})
}

// SendMeterValues reports the energy register of a connector.
func (e *Emulator) SendMeterValues(connectorID int, readingContext types.ReadingContext) {
	c, ok := e.cp.Connector(connectorID)
	if !ok {
		return
	}
	request := core.MeterValuesRequest{
		ConnectorId: connectorID,
		MeterValue: []types.MeterValue{{
			Timestamp: types.NewDateTime(e.now()),
			SampledValue: []types.SampledValue{{
				Value:     strconv.Itoa(c.MeterValue()),
				Context:   readingContext,
				Measurand: types.MeasurandEnergyActiveImportRegister,
				Unit:      types.UnitOfMeasureWh,
			}},
		}},
	}
	if id := c.TransactionID(); id != chargepoint.NoTransaction {
		request.TransactionId = &id
	}
	e.send("MeterValues", request, nil)
}

// SendStartTransaction opens a transaction on connectorID. The outcome is
// applied when the Central System replies.
func (e *Emulator) SendStartTransaction(connectorID int, idTag string) {
	c, ok := e.cp.Connector(connectorID)
	if !ok {
		return
	}
	request := core.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  c.MeterValue(),
		Timestamp:   types.NewDateTime(e.now()),
	}
	if r, held := c.Reservation(); held && r.IdTag == idTag {
		id := r.ID
		request.ReservationId = &id
	}
	sent := e.send("StartTransaction", request, func(reply *ocpp.Message, _ correlation.Session) {
		e.transactionStarted(c, idTag, reply)
	})
	if !sent {
		e.setStatus(connectorID, core.ChargePointStatusAvailable)
	}
}

func (e *Emulator) transactionStarted(c *chargepoint.Connector, idTag string, reply *ocpp.Message) {
	if reply.TypeID == ocpp.CallError {
		log.Printf("START_TRANSACTION: Refused on connector %d: %s", c.ID(), reply.ErrorDescription)
		e.setStatus(c.ID(), core.ChargePointStatusAvailable)
		return
	}
	var conf core.StartTransactionConfirmation
	if err := reply.DecodePayload(&conf); err != nil || conf.IdTagInfo == nil {
		log.Printf("START_TRANSACTION: Invalid reply on connector %d: %v", c.ID(), err)
		e.setStatus(c.ID(), core.ChargePointStatusAvailable)
		return
	}
	if e.cp.Config.BoolValue(config.KeyAuthorizationCacheEnabled, true) {
		e.cp.AuthCache.Update(idTag, conf.IdTagInfo)
	}

	if conf.IdTagInfo.Status != types.AuthorizationStatusAccepted {
		log.Printf("START_TRANSACTION: %s not accepted (%s)", idTag, conf.IdTagInfo.Status)
		if conf.TransactionId > 0 {
			e.SendStopTransaction(conf.TransactionId, idTag, c.MeterValue(), core.ReasonDeAuthorized)
		}
		e.setStatus(c.ID(), core.ChargePointStatusAvailable)
		return
	}

	if r, held := c.Reservation(); held && r.IdTag == idTag {
		c.CancelReservation(r.ID)
	}
	c.StartTransaction(conf.TransactionId, idTag)
	e.lastMeter[c.ID()] = e.now()
	log.WithFields(log.Fields{
		"chargePoint": e.cp.Identity(),
		"connectorId": c.ID(),
	}).Infof("START_TRANSACTION: Transaction %d started for %s", conf.TransactionId, idTag)
	e.setStatus(c.ID(), core.ChargePointStatusCharging)
}

// SendStatusNotification reports a connector status, mapped onto the status
// set of the station's binding.
func (e *Emulator) SendStatusNotification(connectorID int, status core.ChargePointStatus, errorCode core.ChargePointErrorCode) {
	if errorCode == "" {
		errorCode = core.NoError
	}
	request := core.StatusNotificationRequest{
		ConnectorId: connectorID,
		ErrorCode:   errorCode,
		Status:      chargepoint.ReportedStatus(e.cp.Protocol(), status),
		Timestamp:   types.NewDateTime(e.now()),
	}
	e.send("StatusNotification", request, nil)
}

func (e *Emulator) SendStopTransaction(transactionID int, idTag string, meterStop int, reason core.Reason) {
	request := core.StopTransactionRequest{
		IdTag:         idTag,
		MeterStop:     meterStop,
		Timestamp:     types.NewDateTime(e.now()),
		TransactionId: transactionID,
		Reason:        reason,
	}
	e.send("StopTransaction", request, func(reply *ocpp.Message, _ correlation.Session) {
		var conf core.StopTransactionConfirmation
		if reply.TypeID == ocpp.CallResult && reply.DecodePayload(&conf) == nil && conf.IdTagInfo != nil && idTag != "" {
			e.cp.AuthCache.Update(idTag, conf.IdTagInfo)
		}
	})
}

// notifyStatus is the charge point status hook: every assignment is
// reported while connected.
func (e *Emulator) notifyStatus(cp *chargepoint.ChargePoint, connectorID int, status core.ChargePointStatus, errorCode core.ChargePointErrorCode) {
	if !cp.Connected() {
		return
	}
	e.SendStatusNotification(connectorID, status, errorCode)
}

// energyIncrement is the energy delivered by a charging connector in one tick.
func energyIncrement() int {
	values, err := faker.RandomInt(5, 20, 1)
	if err != nil || len(values) == 0 {
		return 10
	}
	return values[0]
}
