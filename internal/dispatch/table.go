// Package dispatch maps inbound OCPP actions to handlers for one peer role.
package dispatch

import (
	"errors"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"ocpp-engine/internal/chargepoint"
	"ocpp-engine/internal/ocpp"
)

// Reply is the outcome of a handler: the response payload and optional work
// to run once the response has been sent.
type Reply struct {
	Payload interface{}
	Then    func()
}

// Handler answers one inbound Call for a charge point.
type Handler func(cp *chargepoint.ChargePoint, call *ocpp.Message) (Reply, error)

// Table is a dispatch table keyed by lower-cased action name.
type Table struct {
	role     ocpp.Role
	handlers map[string]Handler
	names    map[string]string
}

func NewTable(role ocpp.Role) *Table {
	return &Table{
		role:     role,
		handlers: make(map[string]Handler),
		names:    make(map[string]string),
	}
}

func (t *Table) Role() ocpp.Role {
	return t.role
}

// Register binds action to h, replacing any previous binding.
func (t *Table) Register(action string, h Handler) {
	key := strings.ToLower(action)
	t.handlers[key] = h
	t.names[key] = action
}

// Lookup finds the handler of action, ignoring case.
func (t *Table) Lookup(action string) (Handler, bool) {
	h, ok := t.handlers[strings.ToLower(action)]
	return h, ok
}

// Actions lists the registered action names.
func (t *Table) Actions() []string {
	result := make([]string, 0, len(t.names))
	for _, name := range t.names {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HandleCall runs the handler for call and builds the reply frame. Unknown
// actions answer NotSupported; handler errors and panics answer with their
// protocol code, InternalError when they carry none. The session stays open
// in every case.
func (t *Table) HandleCall(cp *chargepoint.ChargePoint, call *ocpp.Message) (response *ocpp.Message, then func()) {
	h, ok := t.Lookup(call.Action)
	if !ok {
		log.Printf("REQUEST_HANDLER: Unsupported action %s from %s", call.Action, cp.Identity())
		return ocpp.NewCallErrorFor(call, t.role, ocpp.NewError(ocpp.NotSupported, "action %s is not supported", call.Action)), nil
	}

	reply, err := t.invoke(h, cp, call)
	if err != nil {
		log.WithFields(log.Fields{
			"chargePoint": cp.Identity(),
			"uniqueId":    call.UniqueID,
			"action":      call.Action,
		}).Warnf("REQUEST_HANDLER: %v", err)
		return ocpp.NewCallErrorFor(call, t.role, err), nil
	}

	response = ocpp.PrepareResponse(call, t.role)
	if err := response.WithPayload(reply.Payload); err != nil {
		return ocpp.NewCallErrorFor(call, t.role, ocpp.NewError(ocpp.InternalError, "failed to encode %s response: %v", call.Action, err)), nil
	}
	return response, reply.Then
}

func (t *Table) invoke(h Handler, cp *chargepoint.ChargePoint, call *ocpp.Message) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ocpp.NewError(ocpp.InternalError, "%s handler panicked: %v", call.Action, r)
		}
	}()
	reply, err = h(cp, call)
	if err != nil {
		var ocppErr *ocpp.Error
		if !errors.As(err, &ocppErr) {
			err = &ocpp.Error{Code: ocpp.InternalError, Description: err.Error()}
		}
	}
	return reply, err
}
