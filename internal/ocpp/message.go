package ocpp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the leading element of an OCPP-J frame.
type MessageType int

const (
	Call       MessageType = 2
	CallResult MessageType = 3
	CallError  MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case Call:
		return "Call"
	case CallResult:
		return "CallResult"
	case CallError:
		return "CallError"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Role is the peer role a process plays on a session.
type Role int

const (
	RoleCentralSystem Role = iota
	RoleChargePoint
)

func (r Role) String() string {
	if r == RoleChargePoint {
		return "chargepoint"
	}
	return "central"
}

// Protocol is the transport binding a station speaks.
type Protocol string

const (
	ProtocolSOAP Protocol = "SOAP"
	ProtocolJSON Protocol = "JSON"
)

var emptyPayload = json.RawMessage(`{}`)

// Message is the wire-neutral form of a Call, CallResult or CallError.
//
// Action is only meaningful for Call, ErrorCode and ErrorDescription only for
// CallError. Payload is never nil once a Message has been built by this package.
type Message struct {
	TypeID           MessageType
	UniqueID         string
	Action           string
	ErrorCode        ErrorCode
	ErrorDescription string
	Payload          json.RawMessage
}

// NewCall builds a Call with a fresh unique id.
func NewCall(action string, payload interface{}) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", action, err)
	}
	return &Message{
		TypeID:   Call,
		UniqueID: NewUniqueID(),
		Action:   action,
		Payload:  raw,
	}, nil
}

// PrepareResponse creates the CallResult stub answering request. The Central
// System keeps the request action on the stub so a later error reply can still
// report which action failed.
func PrepareResponse(request *Message, role Role) *Message {
	response := &Message{
		TypeID:   CallResult,
		UniqueID: request.UniqueID,
		Payload:  emptyPayload,
	}
	if role == RoleCentralSystem {
		response.Action = request.Action
	}
	return response
}

// WithPayload sets the payload of a response stub.
func (m *Message) WithPayload(payload interface{}) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	m.Payload = raw
	return nil
}

// NewCallErrorFor turns err into a CallError answering request.
func NewCallErrorFor(request *Message, role Role, err error) *Message {
	response := PrepareResponse(request, role)
	response.TypeID = CallError
	response.ErrorCode = CodeOf(err)
	response.ErrorDescription = err.Error()
	response.Payload = emptyPayload
	var ocppErr *Error
	if errors.As(err, &ocppErr) {
		response.ErrorDescription = ocppErr.Description
		if ocppErr.Details != nil {
			if raw, mErr := marshalPayload(ocppErr.Details); mErr == nil {
				response.Payload = raw
			}
		}
	}
	return response
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	payload := m.Payload
	if len(payload) == 0 {
		payload = emptyPayload
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return NewError(FormationViolation, "invalid %s payload: %v", m.describe(), err)
	}
	return nil
}

// Err returns the CallError carried by m as an *Error, or nil for other types.
func (m *Message) Err() *Error {
	if m.TypeID != CallError {
		return nil
	}
	return &Error{Code: m.ErrorCode, Description: m.ErrorDescription}
}

func (m *Message) describe() string {
	if m.Action != "" {
		return m.Action
	}
	return m.TypeID.String()
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return emptyPayload, nil
	case json.RawMessage:
		if len(bytes.TrimSpace(p)) == 0 {
			return emptyPayload, nil
		}
		return p, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(raw, []byte("null")) {
		return emptyPayload, nil
	}
	return raw, nil
}
