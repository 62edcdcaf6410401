package chargepoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"ocpp-engine/config"
	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/ocpp"
)

// Transport moves encoded messages to the peer of a charge point session.
type Transport interface {
	Send(msg *ocpp.Message) error
	Close() error
	RemoteAddr() string
}

// StatusNotifier is called after every connector status assignment.
type StatusNotifier func(cp *ChargePoint, connectorID int, status core.ChargePointStatus, errorCode core.ChargePointErrorCode)

// BootInfo is what a station reported in its last BootNotification.
type BootInfo struct {
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

// ChargePoint is one station session: identity, transport binding, connectors
// and the stores the station owns.
type ChargePoint struct {
	identity string
	protocol ocpp.Protocol

	// Connector 0 is the whole station, the rest are physical sockets.
	connectors []*Connector

	Config    *config.ConfigurationManager
	AuthCache *AuthorizationCache
	Pending   *correlation.Manager

	mu            sync.RWMutex
	address       string
	transport     Transport
	registration  core.RegistrationStatus
	updateCount   int
	notifier      StatusNotifier
	bootInfo      BootInfo
	lastHeartbeat time.Time
}

// ChargePointState is a point-in-time copy of a ChargePoint.
type ChargePointState struct {
	Identity      string                  `json:"identity"`
	Protocol      ocpp.Protocol           `json:"protocol"`
	Address       string                  `json:"address,omitempty"`
	Connected     bool                    `json:"connected"`
	Registration  core.RegistrationStatus `json:"registrationStatus"`
	BootInfo      BootInfo                `json:"bootInfo"`
	LastHeartbeat *time.Time              `json:"lastHeartbeat,omitempty"`
	PendingCalls  int                     `json:"pendingCalls"`
	Connectors    []ConnectorState        `json:"connectors"`
}

// New creates a charge point with connectorCount physical connectors.
func New(identity string, protocol ocpp.Protocol, connectorCount int, cfg *config.ConfigurationManager, callTimeout time.Duration) *ChargePoint {
	if cfg == nil {
		cfg = config.NewConfigurationManager(identity, nil)
	}
	cp := &ChargePoint{
		identity:     identity,
		protocol:     protocol,
		Config:       cfg,
		AuthCache:    NewAuthorizationCache(),
		Pending:      correlation.NewManager(callTimeout),
		registration: core.RegistrationStatusPending,
	}
	for id := 0; id <= connectorCount; id++ {
		cp.connectors = append(cp.connectors, NewConnector(id))
	}
	cfg.Set(config.KeyNumberOfConnectors, fmt.Sprintf("%d", connectorCount))
	return cp
}

// Identity implements correlation.Session.
func (cp *ChargePoint) Identity() string {
	return cp.identity
}

func (cp *ChargePoint) Protocol() ocpp.Protocol {
	return cp.protocol
}

// Address is the peer endpoint used for OCPP-S callbacks.
func (cp *ChargePoint) Address() string {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.address
}

func (cp *ChargePoint) SetAddress(address string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.address = address
}

// SetNotifier installs the hook run on every status assignment.
func (cp *ChargePoint) SetNotifier(n StatusNotifier) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.notifier = n
}

// Connector returns connector id, 0 being the station itself.
func (cp *ChargePoint) Connector(id int) (*Connector, bool) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	if id < 0 || id >= len(cp.connectors) {
		return nil, false
	}
	return cp.connectors[id], true
}

// EnsureConnector returns connector id, growing the station up to it when a
// peer reports a connector not seen before.
func (cp *ChargePoint) EnsureConnector(id int) (*Connector, error) {
	if c, ok := cp.Connector(id); ok {
		return c, nil
	}
	if id < 0 {
		return nil, fmt.Errorf("invalid connector id %d", id)
	}
	cp.mu.Lock()
	for n := len(cp.connectors); n <= id; n++ {
		cp.connectors = append(cp.connectors, NewConnector(n))
	}
	c := cp.connectors[id]
	count := len(cp.connectors) - 1
	cp.mu.Unlock()
	cp.Config.Set(config.KeyNumberOfConnectors, fmt.Sprintf("%d", count))
	return c, nil
}

// Connectors returns the physical connectors in id order.
func (cp *ChargePoint) Connectors() []*Connector {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	result := make([]*Connector, len(cp.connectors)-1)
	copy(result, cp.connectors[1:])
	return result
}

// ConnectorByTransaction finds the connector running transactionID.
func (cp *ChargePoint) ConnectorByTransaction(transactionID int) (*Connector, bool) {
	for _, c := range cp.Connectors() {
		if c.TransactionID() == transactionID {
			return c, true
		}
	}
	return nil, false
}

// SetStatus assigns a connector status and always runs the notifier, even when
// the status did not change.
func (cp *ChargePoint) SetStatus(connectorID int, status core.ChargePointStatus, errorCode core.ChargePointErrorCode) error {
	c, ok := cp.Connector(connectorID)
	if !ok {
		return fmt.Errorf("connector %d not found on %s", connectorID, cp.identity)
	}
	c.setStatus(status, errorCode)

	cp.mu.RLock()
	notify := cp.notifier
	cp.mu.RUnlock()
	if notify != nil {
		notify(cp, connectorID, status, c.ErrorCode())
	}
	return nil
}

func (cp *ChargePoint) Registration() core.RegistrationStatus {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.registration
}

func (cp *ChargePoint) SetRegistration(status core.RegistrationStatus) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.registration = status
}

func (cp *ChargePoint) SetBootInfo(info BootInfo) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.bootInfo = info
}

// Touch records a heartbeat from the station.
func (cp *ChargePoint) Touch(at time.Time) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.lastHeartbeat = at
}

// Attach binds t as the live transport and returns the one it replaces.
func (cp *ChargePoint) Attach(t Transport) Transport {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	old := cp.transport
	cp.transport = t
	if t != nil && t.RemoteAddr() != "" {
		cp.address = t.RemoteAddr()
	}
	return old
}

// Detach unbinds t if it is still the live transport.
func (cp *ChargePoint) Detach(t Transport) bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.transport != t {
		return false
	}
	cp.transport = nil
	return true
}

// Connected implements correlation.Session.
func (cp *ChargePoint) Connected() bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.transport != nil
}

// SendMessage implements correlation.Session.
func (cp *ChargePoint) SendMessage(msg *ocpp.Message) error {
	cp.mu.RLock()
	t := cp.transport
	cp.mu.RUnlock()
	if t == nil {
		return correlation.ErrNotConnected
	}
	return t.Send(msg)
}

// Call originates action toward the peer through the correlation manager.
func (cp *ChargePoint) Call(action string, payload interface{}, cont correlation.Continuation) (string, error) {
	msg, err := ocpp.NewCall(action, payload)
	if err != nil {
		return "", err
	}
	return cp.Pending.Send(cp, msg, cont)
}

// Snapshot copies the charge point state.
func (cp *ChargePoint) Snapshot() ChargePointState {
	cp.mu.RLock()
	state := ChargePointState{
		Identity:     cp.identity,
		Protocol:     cp.protocol,
		Address:      cp.address,
		Connected:    cp.transport != nil,
		Registration: cp.registration,
		BootInfo:     cp.bootInfo,
	}
	if !cp.lastHeartbeat.IsZero() {
		hb := cp.lastHeartbeat
		state.LastHeartbeat = &hb
	}
	cp.mu.RUnlock()

	state.PendingCalls = cp.Pending.Len()
	if c, ok := cp.Connector(0); ok {
		state.Connectors = append(state.Connectors, c.Snapshot())
	}
	for _, c := range cp.Connectors() {
		state.Connectors = append(state.Connectors, c.Snapshot())
	}
	return state
}

// Station builds the persisted form of the charge point.
func (cp *ChargePoint) Station() *StationFile {
	station := &StationFile{ConfigurationKeys: cp.Config.Snapshot()}
	for _, c := range cp.Connectors() {
		s := c.Snapshot()
		station.Connectors = append(station.Connectors, ConnectorConfig{
			ConnectorID: s.ConnectorID,
			Status:      restoredStatus(s.Status),
			Voltage:     s.Voltage,
			Interface:   s.Interface,
		})
	}
	return station
}

var ocpp15Statuses = map[core.ChargePointStatus]bool{
	core.ChargePointStatusAvailable:   true,
	StatusOccupied:                    true,
	core.ChargePointStatusReserved:    true,
	core.ChargePointStatusUnavailable: true,
	core.ChargePointStatusFaulted:     true,
}

var ocpp16Statuses = map[core.ChargePointStatus]bool{
	core.ChargePointStatusAvailable:     true,
	core.ChargePointStatusPreparing:     true,
	core.ChargePointStatusCharging:      true,
	core.ChargePointStatusSuspendedEVSE: true,
	core.ChargePointStatusSuspendedEV:   true,
	core.ChargePointStatusFinishing:     true,
	core.ChargePointStatusReserved:      true,
	core.ChargePointStatusUnavailable:   true,
	core.ChargePointStatusFaulted:       true,
}

// AllowedStatus reports whether status exists in the OCPP version spoken over
// protocol: 1.5 for SOAP, 1.6 for JSON.
func AllowedStatus(protocol ocpp.Protocol, status core.ChargePointStatus) bool {
	if protocol == ocpp.ProtocolSOAP {
		return ocpp15Statuses[status]
	}
	return ocpp16Statuses[status]
}

// ReportedStatus maps a status onto the set allowed for protocol. The 1.6
// in-use states collapse into Occupied for SOAP peers.
func ReportedStatus(protocol ocpp.Protocol, status core.ChargePointStatus) core.ChargePointStatus {
	if AllowedStatus(protocol, status) {
		return status
	}
	if protocol == ocpp.ProtocolSOAP {
		return StatusOccupied
	}
	if status == StatusOccupied {
		return core.ChargePointStatusCharging
	}
	return status
}
