// Package emulator plays the Charge Point role: it answers Central System
// commands, originates station messages and runs the periodic connector
// bookkeeping. All state changes happen on the goroutine running Run.
package emulator

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/config"
	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/session"
)

const (
	DefaultTickInterval   = time.Second
	DefaultBootRetry      = 60 * time.Second
	defaultReconnectDelay = 5 * time.Second
	maxReconnectDelay     = time.Minute
)

// Config holds the emulated station settings.
type Config struct {
	Identity         string
	CentralSystemURL string
	StationFile      string
	FixtureDir       string
	Connectors       int
	Vendor           string
	Model            string
	FirmwareVersion  string
	// SerialNumber is reported in BootNotification. When empty one is
	// generated in New and kept for the lifetime of the emulator.
	SerialNumber     string
	CallTimeout      time.Duration
	TickInterval     time.Duration
}

// Connection is a live link to the Central System.
type Connection interface {
	chargepoint.Transport
	ReadLoop(onFrame func(data []byte)) error
}

// Dialer opens a Connection to the Central System.
type Dialer func(ctx context.Context) (Connection, error)

// Emulator is a single emulated charge point.
type Emulator struct {
	config    Config
	cp        *chargepoint.ChargePoint
	persister *chargepoint.FilePersister
	fixtures  *Fixtures
	session   *session.Handler

	inbox chan func()
	done  chan struct{}
	now   func() time.Time

	lastHeartbeat time.Time
	bootRetryAt   time.Time
	lastMeter     map[int]time.Time
}

// New builds the emulator from its station file. A missing file is created
// with cfg.Connectors connectors.
func New(cfg Config) (*Emulator, error) {
	if cfg.Identity == "" {
		return nil, errors.New("charge point identity is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Connectors <= 0 {
		cfg.Connectors = 1
	}
	if cfg.Vendor == "" {
		cfg.Vendor = "ocpp-engine"
	}
	if cfg.Model == "" {
		cfg.Model = "emulator"
	}
	if cfg.SerialNumber == "" {
		cfg.SerialNumber = faker.CCNumber()
	}

	station, err := loadStation(cfg)
	if err != nil {
		return nil, err
	}

	e := &Emulator{
		config:    cfg,
		fixtures:  NewFixtures(cfg.FixtureDir, cfg.Identity),
		inbox:     make(chan func(), 64),
		done:      make(chan struct{}),
		now:       time.Now,
		lastMeter: make(map[int]time.Time),
	}
	if cfg.StationFile != "" {
		e.persister = chargepoint.NewFilePersister(cfg.StationFile, station)
		e.cp = station.Build(cfg.Identity, ocpp.ProtocolJSON, e.persister, cfg.CallTimeout)
	} else {
		e.cp = station.Build(cfg.Identity, ocpp.ProtocolJSON, nil, cfg.CallTimeout)
	}
	if cfg.CentralSystemURL != "" {
		e.cp.Config.Set(config.KeyCentralSystemURL, cfg.CentralSystemURL)
	}
	e.cp.SetNotifier(e.notifyStatus)
	e.session = session.NewHandler(e.newTable(), nil)
	return e, nil
}

func loadStation(cfg Config) (*chargepoint.StationFile, error) {
	if cfg.StationFile != "" {
		station, err := chargepoint.LoadStationFile(cfg.StationFile)
		if err == nil {
			return station, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Printf("EMULATOR: Station file %s not found, creating it", cfg.StationFile)
	}

	station := &chargepoint.StationFile{}
	for id := 1; id <= cfg.Connectors; id++ {
		station.Connectors = append(station.Connectors, chargepoint.ConnectorConfig{
			ConnectorID: id,
			Voltage:     chargepoint.VoltageAC,
			Interface:   chargepoint.InterfaceType2,
		})
	}
	if cfg.StationFile != "" {
		if err := station.Save(cfg.StationFile); err != nil {
			return nil, err
		}
	}
	return station, nil
}

// ChargePoint returns the emulated station.
func (e *Emulator) ChargePoint() *chargepoint.ChargePoint {
	return e.cp
}

// SetClock replaces the time source, used by tests.
func (e *Emulator) SetClock(now func() time.Time) {
	e.now = now
	e.cp.AuthCache.SetClock(now)
	e.cp.Pending.SetClock(now)
}

// Run processes posted work and the periodic tick until ctx is done.
func (e *Emulator) Run(ctx context.Context) error {
	defer close(e.done)
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	log.Printf("EMULATOR: Charge point %s running", e.cp.Identity())
	for {
		select {
		case <-ctx.Done():
			e.cp.Pending.FailAll(e.cp, "session closed")
			e.save()
			return ctx.Err()
		case fn := <-e.inbox:
			fn()
		case <-ticker.C:
			e.tick()
		}
	}
}

// Post runs fn on the emulator goroutine. It returns false once Run has
// stopped.
func (e *Emulator) Post(fn func()) bool {
	select {
	case e.inbox <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Deliver hands a received frame to the emulator goroutine.
func (e *Emulator) Deliver(data []byte) {
	e.Post(func() { e.session.HandleFrame(e.cp, data) })
}

// KeepConnected dials the Central System and redials with a growing delay
// whenever the connection drops, until ctx is done.
func (e *Emulator) KeepConnected(ctx context.Context, dial Dialer) {
	delay := defaultReconnectDelay
	for ctx.Err() == nil {
		conn, err := dial(ctx)
		if err != nil {
			log.Printf("EMULATOR: Failed to connect to %s: %v, retrying in %s", e.config.CentralSystemURL, err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		delay = defaultReconnectDelay

		e.Post(func() { e.connected(conn) })
		closed := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-closed:
			}
		}()
		err = conn.ReadLoop(e.Deliver)
		close(closed)
		log.Printf("EMULATOR: Connection to Central System closed: %v", err)
		e.Post(func() { e.cp.Detach(conn) })
	}
}

// connected binds conn and registers with the Central System.
func (e *Emulator) connected(conn chargepoint.Transport) {
	e.cp.Attach(conn)
	e.cp.SetAddress(conn.RemoteAddr())
	e.cp.SetRegistration(core.RegistrationStatusPending)
	e.SendBootNotification()
}

// tick runs the once-per-interval bookkeeping.
func (e *Emulator) tick() {
	now := e.now()
	e.cp.Pending.CleanupExpiredRequests(e.cp)

	if !e.cp.Connected() {
		return
	}
	if e.cp.Registration() != core.RegistrationStatusAccepted {
		if !e.bootRetryAt.IsZero() && !now.Before(e.bootRetryAt) {
			e.bootRetryAt = time.Time{}
			e.SendBootNotification()
		}
		return
	}

	interval := time.Duration(e.cp.Config.IntValue(config.KeyHeartbeatInterval, 300)) * time.Second
	if interval > 0 && now.Sub(e.lastHeartbeat) >= interval {
		e.SendHeartbeat()
	}

	sampleInterval := time.Duration(e.cp.Config.IntValue(config.KeyMeterValueSampleInterval, 60)) * time.Second
	for _, c := range e.cp.Connectors() {
		if c.ExpireReservation(now) && c.Status() == core.ChargePointStatusReserved {
			log.Printf("EMULATOR: Reservation on connector %d expired", c.ID())
			e.setStatus(c.ID(), core.ChargePointStatusAvailable)
		}
		switch c.Status() {
		case core.ChargePointStatusCharging:
			c.AddEnergy(energyIncrement())
			if sampleInterval > 0 && now.Sub(e.lastMeter[c.ID()]) >= sampleInterval {
				e.lastMeter[c.ID()] = now
				e.SendMeterValues(c.ID(), types.ReadingContextSamplePeriodic)
			}
		case core.ChargePointStatusFinishing:
			e.setStatus(c.ID(), core.ChargePointStatusAvailable)
		}
	}
}

func (e *Emulator) setStatus(connectorID int, status core.ChargePointStatus) {
	if err := e.cp.SetStatus(connectorID, status, core.NoError); err != nil {
		log.Printf("EMULATOR: %v", err)
	}
}

// save rewrites the station file with the current connectors and keys.
func (e *Emulator) save() {
	if e.persister == nil {
		return
	}
	if err := e.persister.SaveStation(e.cp.Station()); err != nil {
		log.Printf("EMULATOR: Failed to save station file: %v", err)
	}
}
