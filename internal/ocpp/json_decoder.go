package ocpp

import (
	"encoding/json"
)

type decodeState int

const (
	stateBegin decodeState = iota
	stateMessageTypeID
	stateUniqueID
	stateAction
	stateErrorCode
	stateErrorDescription
	statePayloadBegin
	statePayloadObject
	statePayloadArray
	statePayloadScalar
	stateClose
	stateEnd
)

type frameDecoder struct {
	buf []byte
	pos int
	msg *Message
}

// Decode parses the first OCPP-J frame found in data.
//
// It returns the decoded message and the offset of the first byte after the
// closing ']' of that frame, so a caller holding several coalesced frames can
// continue decoding from data[n:]. On failure the returned message carries
// whatever was parsed before the fault (typically the unique id), which lets
// the caller address a ProtocolError reply.
func Decode(data []byte) (*Message, int, error) {
	d := &frameDecoder{buf: data, msg: &Message{}}
	state := stateBegin
	for state != stateEnd {
		next, err := d.step(state)
		if err != nil {
			return d.msg, 0, err
		}
		state = next
	}
	return d.msg, d.pos, nil
}

func (d *frameDecoder) step(state decodeState) (decodeState, error) {
	switch state {
	case stateBegin:
		d.skipSpace()
		if d.eof() {
			return 0, NewError(ProtocolError, "empty frame")
		}
		if d.buf[d.pos] != '[' {
			return 0, NewError(ProtocolError, "frame must start with '[', got %q", d.buf[d.pos])
		}
		d.pos++
		return stateMessageTypeID, nil

	case stateMessageTypeID:
		d.skipSpace()
		if d.eof() {
			return 0, NewError(ProtocolError, "unterminated frame")
		}
		switch c := d.buf[d.pos]; c {
		case '2':
			d.msg.TypeID = Call
		case '3':
			d.msg.TypeID = CallResult
		case '4':
			d.msg.TypeID = CallError
		default:
			return 0, NewError(ProtocolError, "invalid message type %q", c)
		}
		d.pos++
		if !d.eof() && d.buf[d.pos] >= '0' && d.buf[d.pos] <= '9' {
			return 0, NewError(ProtocolError, "invalid message type")
		}
		if err := d.expect(','); err != nil {
			return 0, err
		}
		return stateUniqueID, nil

	case stateUniqueID:
		id, err := d.readString("uniqueId")
		if err != nil {
			return 0, err
		}
		d.msg.UniqueID = id
		switch d.msg.TypeID {
		case Call:
			if err := d.expect(','); err != nil {
				return 0, err
			}
			return stateAction, nil
		case CallError:
			if err := d.expect(','); err != nil {
				return 0, err
			}
			return stateErrorCode, nil
		}
		return d.payloadOrEnd()

	case stateAction:
		action, err := d.readString("action")
		if err != nil {
			return 0, err
		}
		d.msg.Action = action
		return d.payloadOrEnd()

	case stateErrorCode:
		code, err := d.readString("errorCode")
		if err != nil {
			return 0, err
		}
		d.msg.ErrorCode = ErrorCode(code)
		if err := d.expect(','); err != nil {
			return 0, err
		}
		return stateErrorDescription, nil

	case stateErrorDescription:
		description, err := d.readString("errorDescription")
		if err != nil {
			return 0, err
		}
		d.msg.ErrorDescription = description
		return d.payloadOrEnd()

	case statePayloadBegin:
		d.skipSpace()
		if d.eof() {
			return 0, NewError(ProtocolError, "unterminated frame")
		}
		switch d.buf[d.pos] {
		case '{':
			return statePayloadObject, nil
		case '[':
			return statePayloadArray, nil
		}
		return statePayloadScalar, nil

	case statePayloadObject, statePayloadArray:
		raw, err := d.captureNested()
		if err != nil {
			return 0, err
		}
		d.setPayload(raw)
		return stateClose, nil

	case statePayloadScalar:
		raw := d.captureScalar()
		if string(raw) == "null" {
			raw = nil
		}
		d.setPayload(raw)
		return stateClose, nil

	case stateClose:
		if err := d.expect(']'); err != nil {
			return 0, err
		}
		return stateEnd, nil
	}
	return 0, NewError(InternalError, "unknown decoder state %d", state)
}

// payloadOrEnd handles the position after the last string element: either a
// payload follows or the frame closes and the payload defaults to {}.
func (d *frameDecoder) payloadOrEnd() (decodeState, error) {
	d.skipSpace()
	if d.eof() {
		return 0, NewError(ProtocolError, "unterminated frame")
	}
	switch d.buf[d.pos] {
	case ']':
		d.pos++
		d.msg.Payload = emptyPayload
		return stateEnd, nil
	case ',':
		d.pos++
		return statePayloadBegin, nil
	}
	return 0, NewError(ProtocolError, "unexpected %q after %s element", d.buf[d.pos], d.msg.TypeID)
}

// setPayload stores a balanced payload. A payload that is not valid JSON is
// replaced by an embedded error object instead of failing the frame.
func (d *frameDecoder) setPayload(raw []byte) {
	if len(raw) == 0 {
		d.msg.Payload = emptyPayload
		return
	}
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		d.msg.Payload = faultedPayload(err)
		return
	}
	payload := make(json.RawMessage, len(raw))
	copy(payload, raw)
	d.msg.Payload = payload
}

func faultedPayload(cause error) json.RawMessage {
	raw, err := json.Marshal(map[string]interface{}{
		"error": map[string]string{
			"code":    string(ProtocolError),
			"message": cause.Error(),
		},
	})
	if err != nil {
		return emptyPayload
	}
	return raw
}

// captureNested consumes one bracketed value, skipping over brackets that
// appear inside quoted strings.
func (d *frameDecoder) captureNested() ([]byte, error) {
	start := d.pos
	depth := 0
	inQuotes, escaped := false, false
	for ; d.pos < len(d.buf); d.pos++ {
		c := d.buf[d.pos]
		if inQuotes {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuotes = false
			}
			continue
		}
		switch c {
		case '"':
			inQuotes = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				d.pos++
				return d.buf[start:d.pos], nil
			}
		}
	}
	return nil, NewError(ProtocolError, "unterminated payload")
}

func (d *frameDecoder) captureScalar() []byte {
	start := d.pos
	inQuotes, escaped := false, false
	for ; d.pos < len(d.buf); d.pos++ {
		c := d.buf[d.pos]
		if inQuotes {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuotes = false
			}
			continue
		}
		if c == '"' {
			inQuotes = true
			continue
		}
		if c == ',' || c == ']' || isSpace(c) {
			break
		}
	}
	return d.buf[start:d.pos]
}

func (d *frameDecoder) readString(field string) (string, error) {
	d.skipSpace()
	if d.eof() {
		return "", NewError(ProtocolError, "unterminated frame before %s", field)
	}
	if d.buf[d.pos] != '"' {
		return "", NewError(ProtocolError, "%s must be a string", field)
	}
	start := d.pos
	escaped := false
	for d.pos++; d.pos < len(d.buf); d.pos++ {
		c := d.buf[d.pos]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			d.pos++
			var s string
			if err := json.Unmarshal(d.buf[start:d.pos], &s); err != nil {
				return "", NewError(ProtocolError, "invalid %s: %v", field, err)
			}
			return s, nil
		}
	}
	return "", NewError(ProtocolError, "unterminated %s", field)
}

func (d *frameDecoder) expect(c byte) error {
	d.skipSpace()
	if d.eof() {
		return NewError(ProtocolError, "unterminated frame, expected %q", c)
	}
	if d.buf[d.pos] != c {
		return NewError(ProtocolError, "expected %q, got %q", c, d.buf[d.pos])
	}
	d.pos++
	return nil
}

func (d *frameDecoder) skipSpace() {
	for d.pos < len(d.buf) && isSpace(d.buf[d.pos]) {
		d.pos++
	}
}

func (d *frameDecoder) eof() bool {
	return d.pos >= len(d.buf)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
