package ocpp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const (
	SOAPNamespace          = "http://www.w3.org/2003/05/soap-envelope"
	AddressingNamespace    = "http://www.w3.org/2005/08/addressing"
	CentralSystemNamespace = "urn://Ocpp/Cs/2012/06/"
	ChargePointNamespace   = "urn://Ocpp/Cp/2012/06/"

	FaultAction = "http://www.w3.org/2005/08/addressing/soap/fault"
)

// Addressing headers whose value is wrapped in an Address child element.
var addressHeaders = map[string]bool{
	"From":    true,
	"ReplyTo": true,
	"FaultTo": true,
}

// Dialect selects the namespace prefixes used when writing an envelope.
type Dialect int

const (
	// DialectCentralSystem is the station-facing bind: SOAP-ENV, wsa5 and a
	// cs/cp prefix for OCPP elements.
	DialectCentralSystem Dialect = iota
	// DialectChargePoint is the emulator-facing bind: s, a and a default
	// namespace on OCPP elements.
	DialectChargePoint
)

type dialectPrefixes struct {
	envelope   string
	addressing string
}

func (d Dialect) prefixes() dialectPrefixes {
	if d == DialectChargePoint {
		return dialectPrefixes{envelope: "s", addressing: "a"}
	}
	return dialectPrefixes{envelope: "SOAP-ENV", addressing: "wsa5"}
}

// Field is one entry of an ordered string map.
type Field struct {
	Key   string
	Value string
}

// Fields is an insertion-ordered string map. Duplicate keys are allowed so
// repeated XML elements survive a decode.
type Fields []Field

// Get returns the first value stored under key.
func (f Fields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// Value returns the first value stored under key or "".
func (f Fields) Value(key string) string {
	v, _ := f.Get(key)
	return v
}

// Set replaces the first value stored under key, or appends it.
func (f *Fields) Set(key, value string) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = value
			return
		}
	}
	f.Add(key, value)
}

// Add appends key without looking for an existing entry.
func (f *Fields) Add(key, value string) {
	*f = append(*f, Field{Key: key, Value: value})
}

// Envelope is the decoded form of an OCPP-S message. Nested body elements are
// flattened into dotted keys ("idTagInfo.status"); repeated elements carry an
// index from their second occurrence on ("meterValue[1].timestamp").
type Envelope struct {
	Dialect          Dialect
	Namespace        string
	Headers          Fields
	Values           Fields
	NotificationName string
}

// DecodeEnvelope parses a SOAP envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	env := &Envelope{}

	var (
		path     []string
		keys     []string
		children []map[string]int
		hasChild []bool
		text     strings.Builder
		section  string
		address  string
	)

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewError(ProtocolError, "malformed SOAP envelope: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(hasChild) > 0 {
				hasChild[len(hasChild)-1] = true
			}
			key := t.Name.Local
			if n := len(children); n > 0 {
				if children[n-1] == nil {
					children[n-1] = map[string]int{}
				}
				key = indexedSegment(key, children[n-1][t.Name.Local])
				children[n-1][t.Name.Local]++
			}
			path = append(path, t.Name.Local)
			keys = append(keys, key)
			children = append(children, nil)
			hasChild = append(hasChild, false)
			text.Reset()

			switch len(path) {
			case 1:
				if t.Name.Local != "Envelope" {
					return nil, NewError(ProtocolError, "root element is %s, not Envelope", t.Name.Local)
				}
				if t.Name.Space == "s" {
					env.Dialect = DialectChargePoint
				}
			case 2:
				section = t.Name.Local
			case 3:
				if section == "Body" {
					if env.NotificationName != "" {
						return nil, NewError(ProtocolError, "SOAP body has more than one child")
					}
					env.NotificationName = t.Name.Local
					env.Namespace = namespaceOf(t)
				}
			}

		case xml.CharData:
			text.Write(t)

		case xml.EndElement:
			if len(path) == 0 {
				return nil, NewError(ProtocolError, "unbalanced SOAP envelope")
			}
			depth := len(path)
			value := strings.TrimSpace(text.String())
			leaf := !hasChild[depth-1]

			switch section {
			case "Header":
				if depth == 3 {
					name := path[2]
					if !leaf {
						value = address
					}
					env.Headers.Set(name, value)
					address = ""
				} else if depth == 4 && path[3] == "Address" {
					address = value
				}
			case "Body":
				if depth >= 4 && leaf {
					env.Values.Add(strings.Join(keys[3:], "."), value)
				}
			}

			path = path[:depth-1]
			keys = keys[:depth-1]
			children = children[:depth-1]
			hasChild = hasChild[:depth-1]
			text.Reset()
			if depth == 2 {
				section = ""
			}
		}
	}

	if len(path) != 0 {
		return nil, NewError(ProtocolError, "unterminated SOAP envelope")
	}
	if env.NotificationName == "" {
		return nil, NewError(ProtocolError, "SOAP envelope has an empty body")
	}
	return env, nil
}

// namespaceOf resolves the namespace declared for the element's own prefix.
func namespaceOf(t xml.StartElement) string {
	for _, attr := range t.Attr {
		if t.Name.Space == "" && attr.Name.Space == "" && attr.Name.Local == "xmlns" {
			return attr.Value
		}
		if t.Name.Space != "" && attr.Name.Space == "xmlns" && attr.Name.Local == t.Name.Space {
			return attr.Value
		}
	}
	switch t.Name.Space {
	case "cs":
		return CentralSystemNamespace
	case "cp":
		return ChargePointNamespace
	case "SOAP-ENV", "s":
		return SOAPNamespace
	}
	return ""
}

// Encode writes the envelope as XML.
func (e *Envelope) Encode() ([]byte, error) {
	p := e.Dialect.prefixes()
	namespace := e.Namespace
	if namespace == "" {
		namespace = ChargePointNamespace
		if e.Dialect == DialectCentralSystem {
			namespace = CentralSystemNamespace
		}
	}
	ocppPrefix := ""
	if e.Dialect == DialectCentralSystem && namespace != SOAPNamespace {
		ocppPrefix = "cs"
		if namespace == ChargePointNamespace {
			ocppPrefix = "cp"
		}
	}

	qualify := func(local string) string {
		switch {
		case namespace == SOAPNamespace:
			return p.envelope + ":" + local
		case ocppPrefix != "":
			return ocppPrefix + ":" + local
		}
		return local
	}
	defaultNS := ""
	if ocppPrefix == "" && namespace != SOAPNamespace {
		defaultNS = ` xmlns="` + namespace + `"`
	}

	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<" + p.envelope + ":Envelope")
	b.WriteString(` xmlns:` + p.envelope + `="` + SOAPNamespace + `"`)
	b.WriteString(` xmlns:` + p.addressing + `="` + AddressingNamespace + `"`)
	if ocppPrefix != "" {
		b.WriteString(` xmlns:` + ocppPrefix + `="` + namespace + `"`)
	}
	b.WriteString(">")

	b.WriteString("<" + p.envelope + ":Header>")
	for _, h := range e.Headers {
		if h.Key == "chargeBoxIdentity" {
			name := qualify(h.Key)
			if namespace == SOAPNamespace {
				name = h.Key
			}
			b.WriteString("<" + name + defaultNS + ">")
			writeEscaped(&b, h.Value)
			b.WriteString("</" + name + ">")
			continue
		}
		name := p.addressing + ":" + h.Key
		b.WriteString("<" + name + ">")
		if addressHeaders[h.Key] {
			b.WriteString("<" + p.addressing + ":Address>")
			writeEscaped(&b, h.Value)
			b.WriteString("</" + p.addressing + ":Address>")
		} else {
			writeEscaped(&b, h.Value)
		}
		b.WriteString("</" + name + ">")
	}
	b.WriteString("</" + p.envelope + ":Header>")

	b.WriteString("<" + p.envelope + ":Body>")
	body := qualify(e.NotificationName)
	b.WriteString("<" + body + defaultNS + ">")
	writeNestedValues(&b, e.Values, qualify)
	b.WriteString("</" + body + ">")
	b.WriteString("</" + p.envelope + ":Body>")
	b.WriteString("</" + p.envelope + ":Envelope>")
	return b.Bytes(), nil
}

// writeNestedValues re-nests dotted keys. A segment index or a leaf key
// repeated inside the same group opens a new instance of that group.
func writeNestedValues(b *bytes.Buffer, values Fields, qualify func(string) string) {
	var open []string
	emitted := map[string]bool{}
	for _, f := range values {
		segs := strings.Split(f.Key, ".")
		parents := segs[:len(segs)-1]
		leaf, _ := splitSegment(segs[len(segs)-1])

		common := 0
		for common < len(open) && common < len(parents) && open[common] == parents[common] {
			common++
		}
		if common == len(parents) && common == len(open) && common > 0 && emitted[f.Key] {
			common--
		}
		if common < len(open) {
			for i := len(open) - 1; i >= common; i-- {
				b.WriteString("</" + qualify(elementName(open[i])) + ">")
			}
			open = open[:common]
			emitted = map[string]bool{}
		}
		for _, parent := range parents[common:] {
			b.WriteString("<" + qualify(elementName(parent)) + ">")
			open = append(open, parent)
			emitted = map[string]bool{}
		}
		b.WriteString("<" + qualify(leaf) + ">")
		writeEscaped(b, f.Value)
		b.WriteString("</" + qualify(leaf) + ">")
		emitted[f.Key] = true
	}
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + qualify(elementName(open[i])) + ">")
	}
}

func elementName(seg string) string {
	name, _ := splitSegment(seg)
	return name
}

func writeEscaped(b *bytes.Buffer, s string) {
	_ = xml.EscapeText(b, []byte(s))
}

// PrepareEnvelopeResponse builds the reply envelope for request.
// chargeBoxIdentity, MessageID, ReplyTo and FaultTo are copied, From and To
// are swapped, and Action gets the "Response" suffix.
func PrepareEnvelopeResponse(request *Envelope) *Envelope {
	response := &Envelope{
		Dialect:          request.Dialect,
		Namespace:        request.Namespace,
		NotificationName: strings.TrimSuffix(request.NotificationName, "Request") + "Response",
	}
	for _, name := range []string{"chargeBoxIdentity", "MessageID"} {
		if v, ok := request.Headers.Get(name); ok {
			response.Headers.Set(name, v)
		}
	}
	if v, ok := request.Headers.Get("To"); ok {
		response.Headers.Set("From", v)
	}
	if v, ok := request.Headers.Get("From"); ok {
		response.Headers.Set("To", v)
	}
	for _, name := range []string{"ReplyTo", "FaultTo"} {
		if v, ok := request.Headers.Get(name); ok {
			response.Headers.Set(name, v)
		}
	}
	if v, ok := request.Headers.Get("Action"); ok {
		response.Headers.Set("Action", v+"Response")
	}
	return response
}

// NewFault builds a SOAP 1.2 fault answering request.
func NewFault(request *Envelope, err error) *Envelope {
	fault := PrepareEnvelopeResponse(request)
	fault.Namespace = SOAPNamespace
	fault.NotificationName = "Fault"
	fault.Headers.Set("Action", FaultAction)

	code := CodeOf(err)
	side := "Receiver"
	if code.IsClientError() {
		side = "Sender"
	}
	reason := err.Error()
	var ocppErr *Error
	if errors.As(err, &ocppErr) {
		reason = ocppErr.Description
	}
	prefix := request.Dialect.prefixes().envelope
	fault.Values.Add("Code.Value", prefix+":"+side)
	fault.Values.Add("Code.Subcode.Value", string(code))
	fault.Values.Add("Reason.Text", reason)
	return fault
}

// IsFault reports whether the envelope carries a SOAP fault.
func (e *Envelope) IsFault() bool {
	return e.NotificationName == "Fault"
}

// FaultError converts a fault envelope into an *Error.
func (e *Envelope) FaultError() *Error {
	if !e.IsFault() {
		return nil
	}
	code := e.Values.Value("Code.Subcode.Value")
	if i := strings.LastIndexByte(code, ':'); i >= 0 {
		code = code[i+1:]
	}
	if code == "" {
		code = string(GenericError)
	}
	return &Error{Code: ErrorCode(code), Description: e.Values.Value("Reason.Text")}
}

// Action returns the OCPP action name carried by the envelope, preferring the
// addressing Action header ("/BootNotification") over the body element name.
func (e *Envelope) Action() string {
	action := strings.TrimSuffix(strings.TrimPrefix(e.Headers.Value("Action"), "/"), "Response")
	if action != "" && !strings.Contains(action, "/") {
		return action
	}
	name := strings.TrimSuffix(strings.TrimSuffix(e.NotificationName, "Request"), "Response")
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// NotificationNameFor returns the body element name of action ("Heartbeat",
// "Request") -> "heartbeatRequest".
func NotificationNameFor(action, suffix string) string {
	if action == "" {
		return suffix
	}
	return strings.ToLower(action[:1]) + action[1:] + suffix
}
