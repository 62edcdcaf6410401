package services

import (
	"context"
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	log "github.com/sirupsen/logrus"
)

// ConfigurationService reads and changes configuration keys on live charge
// points.
type ConfigurationService struct {
	operations *OperationService
}

func NewConfigurationService(operations *OperationService) *ConfigurationService {
	return &ConfigurationService{operations: operations}
}

// ConfigurationEntry is one configuration key reported by a station.
type ConfigurationEntry struct {
	Value    *string `json:"value,omitempty"`
	Readonly bool    `json:"readonly"`
}

// LiveConfiguration is a station's GetConfiguration answer.
type LiveConfiguration struct {
	ClientID      string                        `json:"clientId"`
	Configuration map[string]ConfigurationEntry `json:"configuration"`
	UnknownKeys   []string                      `json:"unknownKeys,omitempty"`
}

// GetLiveConfiguration fetches keys from clientID, or every key when keys is
// empty.
func (s *ConfigurationService) GetLiveConfiguration(ctx context.Context, clientID string, keys []string) (*LiveConfiguration, *OperationResult, error) {
	payload, err := json.Marshal(core.NewGetConfigurationRequest(keys))
	if err != nil {
		return nil, nil, err
	}
	log.Printf("SEND_REQUEST: Sending GetConfiguration to %s with keys: %v", clientID, keys)
	result, err := s.operations.Execute(ctx, clientID, "GetConfiguration", payload)
	if err != nil || result.Failed() {
		return nil, result, err
	}

	var conf core.GetConfigurationConfirmation
	if err := result.Decode(&conf); err != nil {
		return nil, result, err
	}
	live := &LiveConfiguration{
		ClientID:      clientID,
		Configuration: make(map[string]ConfigurationEntry, len(conf.ConfigurationKey)),
		UnknownKeys:   conf.UnknownKey,
	}
	for _, kv := range conf.ConfigurationKey {
		live.Configuration[kv.Key] = ConfigurationEntry{Value: kv.Value, Readonly: kv.Readonly}
	}
	return live, result, nil
}

// ChangeLiveConfiguration sets key on clientID and returns the station's
// ConfigurationStatus.
func (s *ConfigurationService) ChangeLiveConfiguration(ctx context.Context, clientID, key, value string) (*OperationResult, error) {
	payload, err := json.Marshal(core.NewChangeConfigurationRequest(key, value))
	if err != nil {
		return nil, err
	}
	log.Printf("SEND_REQUEST: Sending ChangeConfiguration %s=%s to %s", key, value, clientID)
	return s.operations.Execute(ctx, clientID, "ChangeConfiguration", payload)
}
