package ocpp

import (
	"strings"
)

// EnvelopeFor wraps m in a SOAP envelope addressed to chargeBoxIdentity.
// CallResult and CallError messages do not carry an action on the wire, so
// the caller names the operation they answer.
func EnvelopeFor(m *Message, action, chargeBoxIdentity string, dialect Dialect, namespace string) (*Envelope, error) {
	if action == "" {
		action = m.Action
	}
	if action == "" {
		return nil, NewError(FormationViolation, "SOAP message %s has no action", m.UniqueID)
	}

	env := &Envelope{Dialect: dialect, Namespace: namespace}
	if chargeBoxIdentity != "" {
		env.Headers.Set("chargeBoxIdentity", chargeBoxIdentity)
	}
	env.Headers.Set("MessageID", m.UniqueID)

	switch m.TypeID {
	case Call:
		env.Headers.Set("Action", "/"+action)
		env.NotificationName = NotificationNameFor(action, "Request")
	case CallResult:
		env.Headers.Set("Action", "/"+action+"Response")
		env.NotificationName = NotificationNameFor(action, "Response")
	case CallError:
		env.Headers.Set("Action", FaultAction)
		env.Namespace = SOAPNamespace
		env.NotificationName = "Fault"
		side := "Receiver"
		if m.ErrorCode.IsClientError() {
			side = "Sender"
		}
		env.Values.Add("Code.Value", dialect.prefixes().envelope+":"+side)
		env.Values.Add("Code.Subcode.Value", string(m.ErrorCode))
		env.Values.Add("Reason.Text", m.ErrorDescription)
		return env, nil
	default:
		return nil, NewError(ProtocolError, "cannot wrap message type %d", int(m.TypeID))
	}

	values, err := PayloadToValues(m.Payload)
	if err != nil {
		return nil, err
	}
	env.Values = values
	return env, nil
}

// Message converts the envelope into the wire-neutral form. The addressing
// MessageID is the correlation id; a reply envelope carries its request's id.
func (e *Envelope) Message() (*Message, error) {
	msg := &Message{UniqueID: e.Headers.Value("MessageID"), Payload: emptyPayload}
	switch {
	case e.IsFault():
		fault := e.FaultError()
		msg.TypeID = CallError
		msg.ErrorCode = fault.Code
		msg.ErrorDescription = fault.Description
		return msg, nil
	case strings.HasSuffix(e.NotificationName, "Response"):
		msg.TypeID = CallResult
	default:
		msg.TypeID = Call
		msg.Action = e.Action()
	}
	payload, err := ValuesToPayload(e.Values)
	if err != nil {
		return nil, err
	}
	msg.Payload = payload
	return msg, nil
}
