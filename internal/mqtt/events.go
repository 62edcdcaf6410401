package mqtt

import (
	"strconv"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"
)

// TransactionEvent represents transaction lifecycle events
type TransactionEvent struct {
	TransactionID int       `json:"transactionId"`
	ConnectorID   int       `json:"connectorId"`
	IdTag         string    `json:"idTag"`
	MeterStart    int       `json:"meterStart"`
	MeterStop     int       `json:"meterStop,omitempty"`
	StartTime     time.Time `json:"startTime"`
	StopTime      time.Time `json:"stopTime,omitempty"`
	EnergyUsed    float64   `json:"energyUsed,omitempty"` // kWh
	Duration      float64   `json:"duration,omitempty"`   // minutes
	Reason        string    `json:"reason,omitempty"`
	Status        string    `json:"status"`
}

// ConnectorEvent represents connector status change events
type ConnectorEvent struct {
	ConnectorID     int    `json:"connectorId"`
	Status          string `json:"status"`
	PreviousStatus  string `json:"previousStatus,omitempty"`
	TransactionID   *int   `json:"transactionId,omitempty"`
	ErrorCode       string `json:"errorCode,omitempty"`
	Info            string `json:"info,omitempty"`
	VendorID        string `json:"vendorId,omitempty"`
	VendorErrorCode string `json:"vendorErrorCode,omitempty"`
}

// MeterReadingEvent summarizes one MeterValues request
type MeterReadingEvent struct {
	TransactionID *int                      `json:"transactionId,omitempty"`
	ConnectorID   int                       `json:"connectorId"`
	Timestamp     time.Time                 `json:"timestamp"`
	Measurands    map[string]MeterMeasurand `json:"measurands"`
	CurrentPower  float64                   `json:"currentPower,omitempty"` // kW
	TotalEnergy   float64                   `json:"totalEnergy,omitempty"`  // kWh
}

type MeterMeasurand struct {
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	Context  string  `json:"context,omitempty"`
	Location string  `json:"location,omitempty"`
	Phase    string  `json:"phase,omitempty"`
}

func NewTransactionStartedEvent(transactionID, connectorID int, idTag string, meterStart int, startTime time.Time) *TransactionEvent {
	return &TransactionEvent{
		TransactionID: transactionID,
		ConnectorID:   connectorID,
		IdTag:         idTag,
		MeterStart:    meterStart,
		StartTime:     startTime,
		Status:        "started",
	}
}

func NewTransactionCompletedEvent(transactionID, connectorID int, idTag string, meterStart, meterStop int, startTime, stopTime time.Time, reason string) *TransactionEvent {
	return &TransactionEvent{
		TransactionID: transactionID,
		ConnectorID:   connectorID,
		IdTag:         idTag,
		MeterStart:    meterStart,
		MeterStop:     meterStop,
		StartTime:     startTime,
		StopTime:      stopTime,
		EnergyUsed:    float64(meterStop-meterStart) / 1000.0,
		Duration:      stopTime.Sub(startTime).Minutes(),
		Reason:        reason,
		Status:        "completed",
	}
}

// NewMeterReadingEvent converts OCPP meter values, scaling Wh to kWh and W to
// kW. Samples without a measurand count as the active energy register.
func NewMeterReadingEvent(connectorID int, transactionID *int, meterValues []types.MeterValue) *MeterReadingEvent {
	if len(meterValues) == 0 {
		return nil
	}

	timestamp := time.Now()
	if meterValues[0].Timestamp != nil {
		timestamp = meterValues[0].Timestamp.Time
	}

	event := &MeterReadingEvent{
		TransactionID: transactionID,
		ConnectorID:   connectorID,
		Timestamp:     timestamp,
		Measurands:    make(map[string]MeterMeasurand),
	}

	for _, meterValue := range meterValues {
		for _, sample := range meterValue.SampledValue {
			measurand := string(sample.Measurand)
			if measurand == "" {
				measurand = string(types.MeasurandEnergyActiveImportRegister)
			}

			value, err := strconv.ParseFloat(sample.Value, 64)
			if err != nil {
				log.Printf("MQTT: Failed to parse meter value %s: %v", sample.Value, err)
				continue
			}

			unit := string(sample.Unit)
			if unit == "" {
				unit = string(types.UnitOfMeasureWh)
			}
			if unit == string(types.UnitOfMeasureWh) && (measurand == string(types.MeasurandEnergyActiveImportRegister) || measurand == string(types.MeasurandEnergyReactiveImportRegister)) {
				value = value / 1000.0
				unit = "kWh"
			}
			if unit == string(types.UnitOfMeasureW) && (measurand == string(types.MeasurandPowerActiveImport) || measurand == string(types.MeasurandPowerReactiveImport)) {
				value = value / 1000.0
				unit = "kW"
			}

			event.Measurands[measurand] = MeterMeasurand{
				Value:    value,
				Unit:     unit,
				Context:  string(sample.Context),
				Location: string(sample.Location),
				Phase:    string(sample.Phase),
			}

			switch measurand {
			case string(types.MeasurandPowerActiveImport):
				event.CurrentPower = value
			case string(types.MeasurandEnergyActiveImportRegister):
				event.TotalEnergy = value
			}
		}
	}
	return event
}
