package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	log "github.com/sirupsen/logrus"
)

// Keys read by the engine itself.
const (
	KeyHeartbeatInterval         = "HeartbeatInterval"
	KeyCentralSystemURL          = "CentralSystemURL"
	KeyLocalPreAuthorize         = "LocalPreAuthorize"
	KeyAuthorizationCacheEnabled = "AuthorizationCacheEnabled"
	KeyMeterValueSampleInterval  = "MeterValueSampleInterval"
	KeyNumberOfConnectors        = "NumberOfConnectors"
	KeyResetRetries              = "ResetRetries"
)

// Persister stores the full configuration of a charge point. It is called
// after every accepted change.
type Persister interface {
	SaveConfiguration(clientID string, values []ConfigValue) error
}

// ConfigurationManager is the ordered configuration key store of one charge point
type ConfigurationManager struct {
	clientID  string
	persister Persister
	keys      []*ConfigValue
	index     map[string]*ConfigValue
	mu        sync.RWMutex
}

// ConfigValue represents a configuration key-value pair
type ConfigValue struct {
	Key       string             `json:"key"`
	Value     string             `json:"value"`
	ReadOnly  bool               `json:"readonly"`
	Validator func(string) error `json:"-"`
}

// NewConfigurationManager creates the key store for clientID, seeded with the
// standard OCPP keys. persister may be nil.
func NewConfigurationManager(clientID string, persister Persister) *ConfigurationManager {
	cm := &ConfigurationManager{
		clientID:  clientID,
		persister: persister,
		index:     make(map[string]*ConfigValue),
	}
	cm.initializeStandardKeys()
	return cm
}

func (cm *ConfigurationManager) define(key, value string, readOnly bool, validator func(string) error) {
	if existing, ok := cm.index[key]; ok {
		existing.Value = value
		existing.ReadOnly = readOnly
		existing.Validator = validator
		return
	}
	v := &ConfigValue{Key: key, Value: value, ReadOnly: readOnly, Validator: validator}
	cm.keys = append(cm.keys, v)
	cm.index[key] = v
}

// initializeStandardKeys sets up the Core profile keys plus the keys the
// emulator reads.
func (cm *ConfigurationManager) initializeStandardKeys() {
	cm.define(KeyHeartbeatInterval, "300", false, integerValidator(0, 86400))
	cm.define("ConnectionTimeOut", "60", false, integerValidator(0, 3600))
	cm.define(KeyResetRetries, "3", false, integerValidator(0, 10))
	cm.define("BlinkRepeat", "3", false, integerValidator(0, 10))
	cm.define("LightIntensity", "50", false, integerValidator(0, 100))

	cm.define("MeterValuesSampledData", "Energy.Active.Import.Register", false, csvValidator(measurands))
	cm.define("MeterValuesAlignedData", "Energy.Active.Import.Register", false, csvValidator(measurands))
	cm.define(KeyMeterValueSampleInterval, "60", false, integerValidator(0, 3600))
	cm.define("ClockAlignedDataInterval", "900", false, integerValidator(0, 86400))
	cm.define("StopTxnSampledData", "Energy.Active.Import.Register", false, csvValidator(measurands))

	cm.define("LocalAuthorizeOffline", "true", false, booleanValidator())
	cm.define(KeyLocalPreAuthorize, "false", false, booleanValidator())
	cm.define(KeyAuthorizationCacheEnabled, "true", false, booleanValidator())
	cm.define("AuthorizeRemoteTxRequests", "true", false, booleanValidator())
	cm.define("StopTransactionOnInvalidId", "true", false, booleanValidator())

	cm.define(KeyCentralSystemURL, "", false, nil)
	cm.define("WebSocketPingInterval", "60", false, integerValidator(0, 3600))

	cm.define(KeyNumberOfConnectors, "1", true, integerValidator(0, 100))
	cm.define("ChargeProfileMaxStackLevel", "10", true, integerValidator(1, 100))
	cm.define("ChargingScheduleAllowedChargingRateUnit", "Current,Power", true, csvValidator([]string{"Current", "Power"}))
	cm.define("GetConfigurationMaxKeys", "100", true, integerValidator(1, 1000))
	cm.define("SupportedFeatureProfiles", "Core,Reservation,RemoteTrigger", true,
		csvValidator([]string{"Core", "SmartCharging", "RemoteTrigger", "LocalAuthListManagement", "Reservation", "FirmwareManagement"}))
}

var measurands = []string{
	"Energy.Active.Import.Register",
	"Energy.Reactive.Import.Register",
	"Energy.Active.Export.Register",
	"Energy.Reactive.Export.Register",
	"Power.Active.Import",
	"Power.Reactive.Import",
	"Power.Active.Export",
	"Power.Reactive.Export",
	"Current.Import",
	"Current.Export",
	"Voltage",
	"Temperature",
}

func integerValidator(min, max int) func(string) error {
	return func(v string) error {
		val, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("must be an integer")
		}
		if val < min || val > max {
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	}
}

func booleanValidator() func(string) error {
	return func(v string) error {
		v = strings.ToLower(v)
		if v != "true" && v != "false" {
			return fmt.Errorf("must be true or false")
		}
		return nil
	}
}

func csvValidator(allowedValues []string) func(string) error {
	return func(v string) error {
		if v == "" {
			return nil
		}
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			found := false
			for _, allowed := range allowedValues {
				if part == allowed {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("invalid value: %s", part)
			}
		}
		return nil
	}
}

// Load overlays stored values. Keys unknown to the standard set are kept as
// vendor keys without a validator.
func (cm *ConfigurationManager) Load(values []ConfigValue) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, v := range values {
		if existing, ok := cm.index[v.Key]; ok {
			existing.Value = v.Value
			existing.ReadOnly = v.ReadOnly
			continue
		}
		cm.define(v.Key, v.Value, v.ReadOnly, nil)
	}
}

// GetConfiguration returns the requested keys in store order, or every key
// when keys is empty. Keys that do not exist are reported separately.
func (cm *ConfigurationManager) GetConfiguration(keys []string) ([]core.ConfigurationKey, []string) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var configurationKeys []core.ConfigurationKey
	var unknownKeys []string

	if len(keys) == 0 {
		for _, v := range cm.keys {
			configurationKeys = append(configurationKeys, toConfigurationKey(v))
		}
		return configurationKeys, unknownKeys
	}

	for _, key := range keys {
		if v, exists := cm.index[key]; exists {
			configurationKeys = append(configurationKeys, toConfigurationKey(v))
		} else {
			unknownKeys = append(unknownKeys, key)
		}
	}
	return configurationKeys, unknownKeys
}

func toConfigurationKey(v *ConfigValue) core.ConfigurationKey {
	value := v.Value
	return core.ConfigurationKey{
		Key:      v.Key,
		Readonly: v.ReadOnly,
		Value:    &value,
	}
}

// ChangeConfiguration updates key. Absent keys are NotSupported, readonly keys
// and invalid values are Rejected. Every accepted change persists the whole
// key set.
func (cm *ConfigurationManager) ChangeConfiguration(key, value string) core.ConfigurationStatus {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	current, exists := cm.index[key]
	if !exists {
		return core.ConfigurationStatusNotSupported
	}
	if current.ReadOnly {
		return core.ConfigurationStatusRejected
	}
	if current.Validator != nil {
		if err := current.Validator(value); err != nil {
			log.Printf("CONFIG: Validation failed for %s=%s on %s: %v", key, value, cm.clientID, err)
			return core.ConfigurationStatusRejected
		}
	}

	oldValue := current.Value
	current.Value = value
	if cm.persister != nil {
		if err := cm.persister.SaveConfiguration(cm.clientID, cm.snapshotLocked()); err != nil {
			log.Printf("CONFIG: Error saving configuration for %s: %v", cm.clientID, err)
			current.Value = oldValue
			return core.ConfigurationStatusRejected
		}
	}

	if requiresReboot(key) {
		return core.ConfigurationStatusRebootRequired
	}
	return core.ConfigurationStatusAccepted
}

// requiresReboot checks if changing a configuration key requires reboot
func requiresReboot(key string) bool {
	return key == KeyCentralSystemURL || key == KeyHeartbeatInterval
}

// GetConfigValue gets a single configuration value
func (cm *ConfigurationManager) GetConfigValue(key string) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	v, exists := cm.index[key]
	if !exists {
		return "", false
	}
	return v.Value, true
}

// IntValue returns key as an integer, or def when absent or not numeric.
func (cm *ConfigurationManager) IntValue(key string, def int) int {
	value, ok := cm.GetConfigValue(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return n
}

// BoolValue returns key as a boolean, or def when absent or not a boolean.
func (cm *ConfigurationManager) BoolValue(key string, def bool) bool {
	value, ok := cm.GetConfigValue(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return b
}

// Set writes key without validation or persistence. It is used for values the
// station itself owns, such as the number of connectors.
func (cm *ConfigurationManager) Set(key, value string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if v, ok := cm.index[key]; ok {
		v.Value = value
		return
	}
	cm.define(key, value, false, nil)
}

// Snapshot returns a copy of every key in store order.
func (cm *ConfigurationManager) Snapshot() []ConfigValue {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.snapshotLocked()
}

func (cm *ConfigurationManager) snapshotLocked() []ConfigValue {
	result := make([]ConfigValue, 0, len(cm.keys))
	for _, v := range cm.keys {
		result = append(result, ConfigValue{Key: v.Key, Value: v.Value, ReadOnly: v.ReadOnly})
	}
	return result
}
