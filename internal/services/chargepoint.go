package services

import (
	"ocpp-engine/internal/chargepoint"
)

// ChargePointService is the directory of charge points known to the
// Central System.
type ChargePointService struct {
	chargePoints *chargepoint.Registry
}

func NewChargePointService(chargePoints *chargepoint.Registry) *ChargePointService {
	return &ChargePointService{chargePoints: chargePoints}
}

// GetAllChargePoints returns a snapshot of every known charge point.
func (s *ChargePointService) GetAllChargePoints() []chargepoint.ChargePointState {
	list := s.chargePoints.List()
	result := make([]chargepoint.ChargePointState, 0, len(list))
	for _, cp := range list {
		result = append(result, cp.Snapshot())
	}
	return result
}

func (s *ChargePointService) GetChargePoint(clientID string) (chargepoint.ChargePointState, error) {
	cp, ok := s.chargePoints.Get(clientID)
	if !ok {
		return chargepoint.ChargePointState{}, ErrChargePointNotFound
	}
	return cp.Snapshot(), nil
}

func (s *ChargePointService) GetAllConnectors(clientID string) ([]chargepoint.ConnectorState, error) {
	snapshot, err := s.GetChargePoint(clientID)
	if err != nil {
		return nil, err
	}
	return snapshot.Connectors, nil
}

// GetConnector returns one connector. ok is false when the station has not
// reported it.
func (s *ChargePointService) GetConnector(clientID string, connectorID int) (state chargepoint.ConnectorState, ok bool, err error) {
	connectors, err := s.GetAllConnectors(clientID)
	if err != nil {
		return chargepoint.ConnectorState{}, false, err
	}
	for _, c := range connectors {
		if c.ConnectorID == connectorID {
			return c, true, nil
		}
	}
	return chargepoint.ConnectorState{}, false, nil
}

// IsOnline reports whether clientID has a live transport.
func (s *ChargePointService) IsOnline(clientID string) bool {
	cp, ok := s.chargePoints.Get(clientID)
	return ok && cp.Connected()
}

// GetConnectedClients returns the identities with a live transport.
func (s *ChargePointService) GetConnectedClients() []string {
	var clients []string
	for _, cp := range s.chargePoints.List() {
		if cp.Connected() {
			clients = append(clients, cp.Identity())
		}
	}
	return clients
}
