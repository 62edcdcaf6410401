package server

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	v1 "ocpp-engine/internal/api/v1"
	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/ocpp"
	"ocpp-engine/internal/services"
	"ocpp-engine/internal/transport"
)

const maxSOAPRequest = 1 << 20

// setupRoutes registers the OCPP endpoints, metrics and the v1 API.
func (s *Server) setupRoutes() {
	router := mux.NewRouter()

	router.HandleFunc("/ocpp/{identity}", s.handleWebsocket).Methods("GET")
	router.HandleFunc("/soap", s.handleSOAP).Methods("POST")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	v1.RegisterRoutes(router, v1.Services{
		Role:              "central",
		ChargePoints:      services.NewChargePointService(s.registry),
		Transactions:      services.NewTransactionService(s.centralSystem.BusinessState(), s.registry),
		Operations:        s.operations,
		RemoteTransaction: services.NewRemoteTransactionService(s.operations, s.centralSystem.BusinessState()),
		Configuration:     services.NewConfigurationService(s.operations),
		TriggerMessage:    services.NewTriggerMessageService(s.operations),
	})
	s.router = router
}

// handleWebsocket serves one OCPP-J session for the identity in the path.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]

	conn, err := transport.Upgrade(w, r)
	if err != nil {
		log.WithField("chargePoint", identity).Warnf("WEBSOCKET: Upgrade refused: %v", err)
		return
	}

	t := s.observe(identity, ocpp.ProtocolJSON, conn)
	cp, reattached := s.registry.Attach(identity, ocpp.ProtocolJSON, t)
	log.WithFields(log.Fields{
		"chargePoint": identity,
		"address":     conn.RemoteAddr(),
		"reattached":  reattached,
	}).Info("WEBSOCKET: Charge point connected")

	err = conn.ReadLoop(func(data []byte) {
		s.mirrorInbound(identity, data)
		s.session.HandleFrame(cp, data)
	})
	if err != nil {
		log.WithField("chargePoint", identity).Warnf("WEBSOCKET: Session ended: %v", err)
	} else {
		log.WithField("chargePoint", identity).Info("WEBSOCKET: Session closed")
	}
	s.registry.Release(identity, t)
}

// handleSOAP serves one OCPP-S exchange. The station's From address becomes
// the callback endpoint for Central System calls.
func (s *Server) handleSOAP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSOAPRequest))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	env, err := ocpp.DecodeEnvelope(body)
	if err != nil {
		log.Printf("SOAP: Rejected request: %v", err)
		s.metrics.MessageRejected(ocpp.ProtocolSOAP, ocpp.CodeOf(err))
		s.writeEnvelope(w, ocpp.NewFault(&ocpp.Envelope{}, err))
		return
	}
	identity := env.Headers.Value("chargeBoxIdentity")
	if identity == "" {
		s.metrics.MessageRejected(ocpp.ProtocolSOAP, ocpp.ProtocolError)
		s.writeEnvelope(w, ocpp.NewFault(env, ocpp.NewError(ocpp.ProtocolError, "missing chargeBoxIdentity header")))
		return
	}

	cp := s.registry.Register(identity, ocpp.ProtocolSOAP)
	if from := env.Headers.Value("From"); from != "" && (!cp.Connected() || cp.Address() != from) {
		client := transport.NewSOAPClient(identity, from, s.config.SOAPPublicURL, s.config.CallTimeout, func(reply *ocpp.Message) {
			s.session.HandleMessage(cp, reply)
		})
		if old := cp.Attach(s.observe(identity, ocpp.ProtocolSOAP, client)); old != nil {
			old.Close()
		}
		log.WithFields(log.Fields{"chargePoint": identity, "address": from}).Info("SOAP: Callback endpoint registered")
	}

	reply, then := s.session.HandleEnvelope(cp, env)
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if msg, err := reply.Message(); err == nil {
		s.observeSent(identity, ocpp.ProtocolSOAP, msg)
	}
	s.writeEnvelope(w, reply)
	if then != nil {
		then()
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, env *ocpp.Envelope) {
	data, err := env.Encode()
	if err != nil {
		log.Printf("SOAP: Failed to encode reply: %v", err)
		http.Error(w, "failed to encode reply", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if fault := env.FaultError(); fault != nil {
		status = http.StatusInternalServerError
		if fault.Code.IsClientError() {
			status = http.StatusBadRequest
		}
	}
	w.Header().Set("Content-Type", transport.SOAPContentType)
	w.WriteHeader(status)
	w.Write(data)
}

// observedTransport counts and mirrors every message sent to a station.
type observedTransport struct {
	chargepoint.Transport
	identity string
	protocol ocpp.Protocol
	server   *Server
}

func (s *Server) observe(identity string, protocol ocpp.Protocol, t chargepoint.Transport) *observedTransport {
	return &observedTransport{Transport: t, identity: identity, protocol: protocol, server: s}
}

func (t *observedTransport) Send(msg *ocpp.Message) error {
	if err := t.Transport.Send(msg); err != nil {
		return err
	}
	t.server.observeSent(t.identity, t.protocol, msg)
	return nil
}

func (s *Server) observeSent(identity string, protocol ocpp.Protocol, msg *ocpp.Message) {
	s.metrics.MessageSent(protocol, msg)
	if s.mqttPublisher != nil {
		s.mqttPublisher.PublishFrame(identity, "out", msg)
	}
}

// mirrorInbound publishes the messages of a received frame to MQTT.
func (s *Server) mirrorInbound(identity string, data []byte) {
	if s.mqttPublisher == nil {
		return
	}
	for len(bytes.TrimSpace(data)) > 0 {
		msg, n, err := ocpp.Decode(data)
		if err != nil {
			return
		}
		s.mqttPublisher.PublishFrame(identity, "in", msg)
		data = data[n:]
	}
}
