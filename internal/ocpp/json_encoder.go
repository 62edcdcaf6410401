package ocpp

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Encode serializes m into its OCPP-J array form. An empty payload is always
// written as {}.
func Encode(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(strconv.Itoa(int(m.TypeID)))
	buf.WriteByte(',')
	if err := writeJSONString(&buf, m.UniqueID); err != nil {
		return nil, err
	}

	switch m.TypeID {
	case Call:
		if m.Action == "" {
			return nil, NewError(FormationViolation, "call %s has no action", m.UniqueID)
		}
		buf.WriteByte(',')
		if err := writeJSONString(&buf, m.Action); err != nil {
			return nil, err
		}
	case CallResult:
	case CallError:
		buf.WriteByte(',')
		if err := writeJSONString(&buf, string(m.ErrorCode)); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		if err := writeJSONString(&buf, m.ErrorDescription); err != nil {
			return nil, err
		}
	default:
		return nil, NewError(ProtocolError, "cannot encode message type %d", int(m.TypeID))
	}

	payload := bytes.TrimSpace(m.Payload)
	if len(payload) == 0 {
		payload = emptyPayload
	}
	if !json.Valid(payload) {
		return nil, NewError(FormationViolation, "payload of %s is not valid JSON", m.UniqueID)
	}
	buf.WriteByte(',')
	buf.Write(payload)
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(raw)
	return nil
}
