package chargepoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"ocpp-engine/config"
	"ocpp-engine/internal/ocpp"
)

// ConnectorConfig is the persisted description of one connector.
type ConnectorConfig struct {
	ConnectorID int                    `json:"connectorId"`
	Status      core.ChargePointStatus `json:"status,omitempty"`
	Voltage     Voltage                `json:"voltage,omitempty"`
	Interface   InterfaceKind          `json:"interface,omitempty"`
}

// StationFile is the per-station JSON document holding connectors and
// configuration keys.
type StationFile struct {
	Connectors        []ConnectorConfig    `json:"connectorId"`
	ConfigurationKeys []config.ConfigValue `json:"configurationKey"`
}

// LoadStationFile reads a station file.
func LoadStationFile(path string) (*StationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read station file %s: %w", path, err)
	}
	var station StationFile
	if err := json.Unmarshal(data, &station); err != nil {
		return nil, fmt.Errorf("failed to parse station file %s: %w", path, err)
	}
	return &station, nil
}

// Save writes the station file through a temporary file so a crash never
// leaves a truncated document behind.
func (s *StationFile) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal station file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create station file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write station file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write station file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// restoredStatus is the status a connector resumes with after a restart.
// Transactions and reservations are not persisted, so only Available and
// Unavailable carry over; Faulted connectors come back Unavailable.
func restoredStatus(status core.ChargePointStatus) core.ChargePointStatus {
	switch status {
	case core.ChargePointStatusUnavailable, core.ChargePointStatusFaulted:
		return core.ChargePointStatusUnavailable
	}
	return core.ChargePointStatusAvailable
}

// Build creates the charge point described by the station file. Connectors
// start Available or Unavailable.
func (s *StationFile) Build(identity string, protocol ocpp.Protocol, persister config.Persister, callTimeout time.Duration) *ChargePoint {
	cfg := config.NewConfigurationManager(identity, persister)
	cfg.Load(s.ConfigurationKeys)

	count := 0
	for _, c := range s.Connectors {
		if c.ConnectorID > count {
			count = c.ConnectorID
		}
	}
	if count == 0 {
		count = 1
	}

	cp := New(identity, protocol, count, cfg, callTimeout)
	for _, c := range s.Connectors {
		connector, ok := cp.Connector(c.ConnectorID)
		if !ok || c.ConnectorID == 0 {
			continue
		}
		connector.SetKind(c.Voltage, c.Interface)
		connector.setStatus(restoredStatus(c.Status), "")
	}
	return cp
}

// FilePersister rewrites a station file on every accepted configuration change.
type FilePersister struct {
	path    string
	mu      sync.Mutex
	station *StationFile
}

func NewFilePersister(path string, station *StationFile) *FilePersister {
	if station == nil {
		station = &StationFile{}
	}
	return &FilePersister{path: path, station: station}
}

// SaveConfiguration implements config.Persister.
func (p *FilePersister) SaveConfiguration(clientID string, values []config.ConfigValue) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.station.ConfigurationKeys = values
	return p.station.Save(p.path)
}

// SaveStation replaces the whole document, used on shutdown.
func (p *FilePersister) SaveStation(station *StationFile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.station = station
	return p.station.Save(p.path)
}
