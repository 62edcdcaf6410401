// Package session drives inbound traffic of one charge point session: it
// splits received data into messages, answers Calls through a dispatch table
// and hands replies to the correlation manager.
package session

import (
	"bytes"
	"strings"

	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/ocpp"
)

// Router answers inbound Calls. *dispatch.Table implements it.
type Router interface {
	Role() ocpp.Role
	HandleCall(cp *chargepoint.ChargePoint, call *ocpp.Message) (*ocpp.Message, func())
}

// Observer is told about every inbound message and every rejected frame.
type Observer interface {
	MessageReceived(protocol ocpp.Protocol, typ ocpp.MessageType, action string)
	MessageRejected(protocol ocpp.Protocol, code ocpp.ErrorCode)
}

type Handler struct {
	router   Router
	observer Observer
}

// NewHandler creates a session handler. observer may be nil.
func NewHandler(router Router, observer Observer) *Handler {
	return &Handler{router: router, observer: observer}
}

// HandleFrame processes every OCPP-J message contained in data and returns how
// many were handled. Decoding stops at the first malformed frame, which is
// answered with a CallError addressed to whatever unique id could be read.
func (h *Handler) HandleFrame(cp *chargepoint.ChargePoint, data []byte) int {
	handled := 0
	for len(bytes.TrimSpace(data)) > 0 {
		msg, n, err := ocpp.Decode(data)
		if err != nil {
			log.WithFields(log.Fields{
				"chargePoint": cp.Identity(),
				"uniqueId":    msg.UniqueID,
			}).Warnf("SESSION: Failed to decode frame: %v", err)
			if h.observer != nil {
				h.observer.MessageRejected(ocpp.ProtocolJSON, ocpp.CodeOf(err))
			}
			h.send(cp, ocpp.NewCallErrorFor(msg, h.router.Role(), err))
			return handled
		}
		data = data[n:]
		handled++
		h.HandleMessage(cp, msg)
	}
	return handled
}

// HandleMessage routes one decoded message. Calls are answered before the
// handler's follow-up work runs so the peer sees the reply first.
func (h *Handler) HandleMessage(cp *chargepoint.ChargePoint, msg *ocpp.Message) {
	if h.observer != nil {
		h.observer.MessageReceived(cp.Protocol(), msg.TypeID, h.actionOf(cp, msg))
	}
	switch msg.TypeID {
	case ocpp.Call:
		response, then := h.router.HandleCall(cp, msg)
		h.send(cp, response)
		if then != nil {
			then()
		}
	case ocpp.CallResult, ocpp.CallError:
		cp.Pending.Resolve(msg.UniqueID, msg, cp)
	}
}

func (h *Handler) actionOf(cp *chargepoint.ChargePoint, msg *ocpp.Message) string {
	if msg.Action != "" {
		return msg.Action
	}
	action, _ := cp.Pending.Action(msg.UniqueID)
	return action
}

func (h *Handler) send(cp *chargepoint.ChargePoint, msg *ocpp.Message) {
	if err := cp.SendMessage(msg); err != nil {
		log.Printf("SESSION: Failed to send %s %s to %s: %v", msg.TypeID, msg.UniqueID, cp.Identity(), err)
	}
}

// HandleEnvelope processes one OCPP-S request and returns the envelope to
// write back on the same HTTP exchange. Response and fault envelopes resolve
// pending calls and produce no reply.
func (h *Handler) HandleEnvelope(cp *chargepoint.ChargePoint, env *ocpp.Envelope) (*ocpp.Envelope, func()) {
	msg, err := env.Message()
	if err != nil {
		if h.observer != nil {
			h.observer.MessageRejected(ocpp.ProtocolSOAP, ocpp.CodeOf(err))
		}
		return ocpp.NewFault(env, err), nil
	}
	if h.observer != nil {
		h.observer.MessageReceived(ocpp.ProtocolSOAP, msg.TypeID, h.actionOf(cp, msg))
	}
	if msg.TypeID != ocpp.Call {
		cp.Pending.Resolve(msg.UniqueID, msg, cp)
		return nil, nil
	}

	response, then := h.router.HandleCall(cp, msg)
	if response.TypeID == ocpp.CallError {
		return ocpp.NewFault(env, response.Err()), then
	}
	reply := ocpp.PrepareEnvelopeResponse(env)
	values, err := ocpp.PayloadToValues(response.Payload)
	if err != nil {
		return ocpp.NewFault(env, ocpp.NewError(ocpp.InternalError, "failed to encode %s response: %v", msg.Action, err)), nil
	}
	reply.Values = values
	RenameForSOAP(msg.Action, reply.Values)
	return reply, then
}

// OCPP 1.5 names a few response fields differently from 1.6.
var soapResponseRenames = map[string][][2]string{
	"bootnotification": {{"interval", "heartbeatInterval"}},
}

// RenameForSOAP rewrites the 1.6 field names of an action's response values
// into their 1.5 spelling.
func RenameForSOAP(action string, values ocpp.Fields) {
	for _, r := range soapResponseRenames[strings.ToLower(action)] {
		values.RenameValue(r[0], r[1])
	}
}

// RenameFromSOAP is the inverse of RenameForSOAP.
func RenameFromSOAP(action string, values ocpp.Fields) {
	for _, r := range soapResponseRenames[strings.ToLower(action)] {
		values.RenameValue(r[1], r[0])
	}
}
