package handlers

import (
	"sort"
	"strconv"
	"sync"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"
)

// AlertThreshold is the accepted range of one measurand.
type AlertThreshold struct {
	Measurand types.Measurand `json:"measurand"`
	MinValue  float64         `json:"min"`
	MaxValue  float64         `json:"max"`
}

// Alert is a sampled value outside its threshold.
type Alert struct {
	ChargePointID string          `json:"chargePointId"`
	ConnectorID   int             `json:"connectorId"`
	Measurand     types.Measurand `json:"measurand"`
	Value         float64         `json:"value"`
	Threshold     AlertThreshold  `json:"threshold"`
}

// AlertManager checks reported meter samples against per-measurand ranges.
type AlertManager struct {
	thresholds map[types.Measurand]AlertThreshold
	mu         sync.RWMutex
}

// NewAlertManager creates an alert manager with the default thresholds of a
// 230V AC installation.
func NewAlertManager() *AlertManager {
	am := &AlertManager{
		thresholds: make(map[types.Measurand]AlertThreshold),
	}
	am.AddThreshold(types.MeasurandPowerActiveImport, 0, 50000)
	am.AddThreshold(types.MeasurandTemperature, -10, 70)
	am.AddThreshold(types.MeasurandVoltage, 207, 253)
	am.AddThreshold(types.MeasurandCurrentImport, 0, 80)
	return am
}

// AddThreshold sets the accepted range of measurand, replacing any previous one.
func (am *AlertManager) AddThreshold(measurand types.Measurand, min, max float64) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.thresholds[measurand] = AlertThreshold{Measurand: measurand, MinValue: min, MaxValue: max}
}

// Thresholds returns the configured thresholds sorted by measurand.
func (am *AlertManager) Thresholds() []AlertThreshold {
	am.mu.RLock()
	defer am.mu.RUnlock()
	result := make([]AlertThreshold, 0, len(am.thresholds))
	for _, t := range am.thresholds {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Measurand < result[j].Measurand })
	return result
}

// Check returns an alert for every numeric sample outside its range and logs
// it. Samples without a measurand are energy registers and never alert.
func (am *AlertManager) Check(chargePointID string, connectorID int, values []types.MeterValue) []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	var alerts []Alert
	for _, mv := range values {
		for _, sample := range mv.SampledValue {
			threshold, ok := am.thresholds[sample.Measurand]
			if !ok {
				continue
			}
			value, err := strconv.ParseFloat(sample.Value, 64)
			if err != nil {
				continue
			}
			if sample.Unit == types.UnitOfMeasureKW {
				value *= 1000
			}
			if value >= threshold.MinValue && value <= threshold.MaxValue {
				continue
			}
			log.WithFields(log.Fields{
				"chargePoint": chargePointID,
				"connectorId": connectorID,
			}).Warnf("ALERT: %s out of range: %.2f (%.2f..%.2f)", sample.Measurand, value, threshold.MinValue, threshold.MaxValue)
			alerts = append(alerts, Alert{
				ChargePointID: chargePointID,
				ConnectorID:   connectorID,
				Measurand:     sample.Measurand,
				Value:         value,
				Threshold:     threshold,
			})
		}
	}
	return alerts
}
