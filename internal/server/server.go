// Package server wires the Central System process: OCPP-J and OCPP-S
// endpoints, the HTTP API, metrics and the optional Redis, MQTT, badger and
// NATS backends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/commands"
	"ocpp-engine/internal/correlation"
	"ocpp-engine/internal/handlers"
	"ocpp-engine/internal/metrics"
	"ocpp-engine/internal/mqtt"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/services"
	"ocpp-engine/internal/session"
	"ocpp-engine/internal/state"
)

const sweepInterval = time.Second

// Config holds the server configuration
type Config struct {
	HTTPPort          string
	HeartbeatInterval int
	CallTimeout       time.Duration
	// SOAPPublicURL is this server's OCPP-S endpoint as seen by stations,
	// sent in the From header of callbacks.
	SOAPPublicURL string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisStateTTL time.Duration

	MQTTEnabled               bool
	MQTTHost                  string
	MQTTPort                  int
	MQTTUsername              string
	MQTTPassword              string
	MQTTClientID              string
	MQTTBusinessEventsEnabled bool
	MQTTFramesEnabled         bool

	NATSEnabled bool
	NATSURL     string
	NATSSubject string

	// TransactionDBPath holds the badger transaction-id sequence; empty keeps
	// the counter in memory.
	TransactionDBPath string
}

// Server represents the Central System with all its components
type Server struct {
	config Config

	registry      *chargepoint.Registry
	centralSystem *handlers.CentralSystem
	session       *session.Handler
	metrics       *metrics.Metrics
	operations    *services.OperationService

	redisClient   *redis.Client
	sequence      *state.BadgerSequence
	mqttPublisher *mqtt.Publisher
	commands      *commands.Listener

	router     *mux.Router
	httpServer *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer creates a new server instance. Backends that fail to open abort
// the construction.
func NewServer(config Config) (*Server, error) {
	if config.CallTimeout <= 0 {
		config.CallTimeout = correlation.DefaultCallTimeout
	}
	s := &Server{config: config}

	s.registry = chargepoint.NewRegistry(func(identity string, protocol ocpp.Protocol) *chargepoint.ChargePoint {
		return chargepoint.New(identity, protocol, 0, nil, config.CallTimeout)
	})
	s.metrics = metrics.New(s.registry)

	opts := handlers.Options{HeartbeatInterval: config.HeartbeatInterval}

	if config.RedisEnabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
		})
		businessState := state.NewRedisBusinessState(s.redisClient, config.RedisStateTTL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := businessState.Ping(ctx)
		cancel()
		if err != nil {
			s.redisClient.Close()
			return nil, fmt.Errorf("failed to reach Redis at %s: %w", config.RedisAddr, err)
		}
		log.Printf("Business state stored in Redis at %s", config.RedisAddr)
		opts.BusinessState = businessState
	}

	if config.TransactionDBPath != "" {
		sequence, err := state.OpenBadgerSequence(config.TransactionDBPath, 1000)
		if err != nil {
			s.closeBackends()
			return nil, err
		}
		s.sequence = sequence
		opts.Transactions = sequence
	}

	if config.MQTTEnabled {
		publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
			BrokerHost:            config.MQTTHost,
			BrokerPort:            config.MQTTPort,
			Username:              config.MQTTUsername,
			Password:              config.MQTTPassword,
			ClientID:              config.MQTTClientID,
			QoS:                   0, // At most once delivery
			BusinessEventsEnabled: config.MQTTBusinessEventsEnabled,
			FramesEnabled:         config.MQTTFramesEnabled,
		})
		if err != nil {
			s.closeBackends()
			return nil, err
		}
		s.mqttPublisher = publisher
		opts.Events = publisher
	}

	s.centralSystem = handlers.NewCentralSystem(opts)
	s.session = session.NewHandler(s.centralSystem.Table(), s.metrics)
	s.operations = services.NewOperationService(s.registry, s.centralSystem, config.CallTimeout, s.metrics)
	s.registry.OnRemove(s.chargePointRemoved)

	if config.NATSEnabled {
		s.commands = commands.NewListener(s.operations, config.NATSSubject, config.CallTimeout+5*time.Second)
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Registry() *chargepoint.Registry {
	return s.registry
}

func (s *Server) Operations() *services.OperationService {
	return s.operations
}

// Start connects the optional brokers, starts the pending-call sweep and
// serves HTTP on the configured port.
func (s *Server) Start(ctx context.Context) error {
	if s.mqttPublisher != nil {
		if err := s.mqttPublisher.Connect(); err != nil {
			log.Printf("Failed to connect to MQTT broker: %v", err)
		} else {
			log.Println("MQTT publisher connected successfully")
		}
	}
	if s.commands != nil {
		if err := s.commands.Start(s.config.NATSURL); err != nil {
			return err
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepPendingCalls(ctx)
	}()

	s.httpServer = &http.Server{
		Addr:    ":" + s.config.HTTPPort,
		Handler: s.router,
	}
	go func() {
		log.Printf("Central System listening on port %s", s.config.HTTPPort)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed to start: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("Error stopping HTTP server: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	for _, cp := range s.registry.List() {
		cp.Pending.FailAll(cp, "session closed")
	}
	if s.commands != nil {
		s.commands.Stop()
	}
	if s.mqttPublisher != nil {
		s.mqttPublisher.Disconnect()
	}
	s.closeBackends()
	return nil
}

func (s *Server) closeBackends() {
	if s.sequence != nil {
		if err := s.sequence.Close(); err != nil {
			log.Printf("Error closing transaction sequence: %v", err)
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
}

// sweepPendingCalls expires overdue calls of every charge point once per
// sweepInterval.
func (s *Server) sweepPendingCalls(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cp := range s.registry.List() {
				if n := cp.Pending.CleanupExpiredRequests(cp); n > 0 {
					log.WithField("chargePoint", cp.Identity()).Warnf("PENDING_REQUEST: %d call(s) timed out", n)
				}
			}
		}
	}
}

// chargePointRemoved marks a destroyed charge point offline in the business
// state.
func (s *Server) chargePointRemoved(cp *chargepoint.ChargePoint) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	businessState := s.centralSystem.BusinessState()
	info, err := businessState.GetChargePointInfo(ctx, cp.Identity())
	if err != nil {
		return
	}
	info.IsOnline = false
	info.LastSeen = time.Now()
	if err := businessState.SetChargePointInfo(ctx, info); err != nil {
		log.Printf("Error setting charge point offline for %s: %v", cp.Identity(), err)
	}
}
