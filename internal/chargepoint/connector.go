package chargepoint

import (
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
)

// StatusOccupied is the OCPP 1.5 status covering every in-use state.
const StatusOccupied core.ChargePointStatus = "Occupied"

// NoTransaction marks a connector without an active transaction.
const NoTransaction = -1

type Voltage string

const (
	VoltageAC      Voltage = "AC"
	VoltageDC      Voltage = "DC"
	VoltageUnknown Voltage = "Unknown"
)

type InterfaceKind string

const (
	InterfaceSchuko       InterfaceKind = "Schuko"
	InterfaceType1        InterfaceKind = "Type1"
	InterfaceType2        InterfaceKind = "Type2"
	InterfaceCCS1         InterfaceKind = "CCS1"
	InterfaceCCS2         InterfaceKind = "CCS2"
	InterfaceCHAdeMO      InterfaceKind = "CHAdeMO"
	InterfaceCommando     InterfaceKind = "Commando"
	InterfaceTesla        InterfaceKind = "Tesla"
	InterfaceSuperCharger InterfaceKind = "SuperCharger"
	InterfaceUnknown      InterfaceKind = "Unknown"
)

// Reservation holds the reservation currently placed on a connector.
type Reservation struct {
	ID          int       `json:"reservationId"`
	IdTag       string    `json:"idTag"`
	ParentIdTag string    `json:"parentIdTag,omitempty"`
	Expiry      time.Time `json:"expiryDate"`
}

// Connector is one socket of a charge point. Connector 0 stands for the
// whole station. Status is written through ChargePoint.SetStatus so every
// change is reported to the peer.
type Connector struct {
	id                   int
	status               core.ChargePointStatus
	errorCode            core.ChargePointErrorCode
	currentTransactionId int
	idTag                string
	reservation          *Reservation
	meterValue           int
	voltage              Voltage
	interfaceKind        InterfaceKind
	mutex                sync.Mutex
}

// ConnectorState is a point-in-time copy of a Connector.
type ConnectorState struct {
	ConnectorID   int                       `json:"connectorId"`
	Status        core.ChargePointStatus    `json:"status"`
	ErrorCode     core.ChargePointErrorCode `json:"errorCode"`
	TransactionID int                       `json:"transactionId"`
	IdTag         string                    `json:"idTag,omitempty"`
	Reservation   *Reservation              `json:"reservation,omitempty"`
	MeterValue    int                       `json:"meterValue"`
	Voltage       Voltage                   `json:"voltage"`
	Interface     InterfaceKind             `json:"interface"`
}

func NewConnector(id int) *Connector {
	return &Connector{
		id:                   id,
		status:               core.ChargePointStatusAvailable,
		errorCode:            core.NoError,
		currentTransactionId: NoTransaction,
		voltage:              VoltageUnknown,
		interfaceKind:        InterfaceUnknown,
	}
}

func (c *Connector) ID() int {
	return c.id
}

func (c *Connector) Status() core.ChargePointStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.status
}

func (c *Connector) ErrorCode() core.ChargePointErrorCode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.errorCode
}

func (c *Connector) setStatus(status core.ChargePointStatus, errorCode core.ChargePointErrorCode) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status = status
	if errorCode != "" {
		c.errorCode = errorCode
	}
}

// SetKind sets the electrical characteristics loaded from the station file.
func (c *Connector) SetKind(voltage Voltage, kind InterfaceKind) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if voltage != "" {
		c.voltage = voltage
	}
	if kind != "" {
		c.interfaceKind = kind
	}
}

// TransactionID returns the active transaction id or NoTransaction.
func (c *Connector) TransactionID() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.currentTransactionId
}

// IdTag returns the idTag of the active or starting transaction.
func (c *Connector) IdTag() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.idTag
}

// SetIdTag records the idTag a transaction is being started for.
func (c *Connector) SetIdTag(idTag string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.idTag = idTag
}

// StartTransaction binds transactionID to the connector.
func (c *Connector) StartTransaction(transactionID int, idTag string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.currentTransactionId = transactionID
	c.idTag = idTag
}

// StopTransaction clears the active transaction and returns its id, idTag and
// final meter value.
func (c *Connector) StopTransaction() (transactionID int, idTag string, meter int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	transactionID, idTag, meter = c.currentTransactionId, c.idTag, c.meterValue
	c.currentTransactionId = NoTransaction
	c.idTag = ""
	return transactionID, idTag, meter
}

// MeterValue returns the energy register in Wh.
func (c *Connector) MeterValue() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.meterValue
}

// AddEnergy advances the energy register. Negative amounts are ignored so
// the register never decreases.
func (c *Connector) AddEnergy(wh int) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if wh > 0 {
		c.meterValue += wh
	}
	return c.meterValue
}

// SetMeterValue sets the register, used by the Central System to mirror the
// value reported by a station.
func (c *Connector) SetMeterValue(wh int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.meterValue = wh
}

// Reserve applies a ReserveNow request. A repeat of the reservation already
// held (same id and idTag) is accepted again and refreshes the expiry.
func (c *Connector) Reserve(r Reservation) reservation.ReservationStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch {
	case r.ID <= 0, c.status == core.ChargePointStatusFaulted:
		return reservation.ReservationStatusFaulted
	case c.status == core.ChargePointStatusUnavailable:
		return reservation.ReservationStatusUnavailable
	}

	if c.reservation != nil && c.reservation.ID == r.ID {
		if c.reservation.IdTag != r.IdTag {
			return reservation.ReservationStatusOccupied
		}
		c.reservation.Expiry = r.Expiry
		c.reservation.ParentIdTag = r.ParentIdTag
		return reservation.ReservationStatusAccepted
	}

	if c.status != core.ChargePointStatusAvailable {
		return reservation.ReservationStatusOccupied
	}
	held := r
	c.reservation = &held
	return reservation.ReservationStatusAccepted
}

// CancelReservation clears the reservation if it carries reservationID.
func (c *Connector) CancelReservation(reservationID int) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.reservation == nil || c.reservation.ID != reservationID {
		return false
	}
	c.reservation = nil
	return true
}

// ExpireReservation clears a reservation whose expiry is before now.
func (c *Connector) ExpireReservation(now time.Time) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.reservation == nil || !now.After(c.reservation.Expiry) {
		return false
	}
	c.reservation = nil
	return true
}

// Reservation returns a copy of the current reservation.
func (c *Connector) Reservation() (Reservation, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.reservation == nil {
		return Reservation{}, false
	}
	return *c.reservation, true
}

// Snapshot copies the connector state.
func (c *Connector) Snapshot() ConnectorState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	state := ConnectorState{
		ConnectorID:   c.id,
		Status:        c.status,
		ErrorCode:     c.errorCode,
		TransactionID: c.currentTransactionId,
		IdTag:         c.idTag,
		MeterValue:    c.meterValue,
		Voltage:       c.voltage,
		Interface:     c.interfaceKind,
	}
	if c.reservation != nil {
		r := *c.reservation
		state.Reservation = &r
	}
	return state
}
