// Package catalog describes the payload shape of every OCPP operation the
// engine can originate, so operator supplied payloads can be checked before
// they reach a station.
package catalog

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/relvacode/iso8601"

	"ocpp-engine/internal/ocpp"
)

// Type tags of operation fields.
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeDecimal  = "decimal"
	TypeBoolean  = "boolean"
	TypeDateTime = "dateTime"
	TypeObject   = "object"
	TypeArray    = "array"
)

// Field is one payload member of an operation.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Operation is a catalog entry. Origin is the role that sends the Call.
type Operation struct {
	Name   string    `json:"name"`
	Origin ocpp.Role `json:"-"`
	Fields []Field   `json:"fields"`
}

func req(name, typ string) Field { return Field{Name: name, Type: typ, Required: true} }
func opt(name, typ string) Field { return Field{Name: name, Type: typ} }

var operations = []Operation{
	// Charge point initiated
	{Name: "Authorize", Origin: ocpp.RoleChargePoint, Fields: []Field{req("idTag", TypeString)}},
	{Name: "BootNotification", Origin: ocpp.RoleChargePoint, Fields: []Field{
		req("chargePointVendor", TypeString),
		req("chargePointModel", TypeString),
		opt("chargePointSerialNumber", TypeString),
		opt("chargeBoxSerialNumber", TypeString),
		opt("firmwareVersion", TypeString),
		opt("iccid", TypeString),
		opt("imsi", TypeString),
		opt("meterType", TypeString),
		opt("meterSerialNumber", TypeString),
	}},
	{Name: "DataTransfer", Origin: ocpp.RoleChargePoint, Fields: []Field{
		req("vendorId", TypeString),
		opt("messageId", TypeString),
		opt("data", TypeString),
	}},
	{Name: "DiagnosticsStatusNotification", Origin: ocpp.RoleChargePoint, Fields: []Field{req("status", TypeString)}},
	{Name: "FirmwareStatusNotification", Origin: ocpp.RoleChargePoint, Fields: []Field{req("status", TypeString)}},
	{Name: "Heartbeat", Origin: ocpp.RoleChargePoint},
	{Name: "MeterValues", Origin: ocpp.RoleChargePoint, Fields: []Field{
		req("connectorId", TypeInteger),
		opt("transactionId", TypeInteger),
		req("meterValue", TypeArray),
	}},
	{Name: "StartTransaction", Origin: ocpp.RoleChargePoint, Fields: []Field{
		req("connectorId", TypeInteger),
		req("idTag", TypeString),
		req("meterStart", TypeInteger),
		opt("reservationId", TypeInteger),
		req("timestamp", TypeDateTime),
	}},
	{Name: "StatusNotification", Origin: ocpp.RoleChargePoint, Fields: []Field{
		req("connectorId", TypeInteger),
		req("errorCode", TypeString),
		opt("info", TypeString),
		req("status", TypeString),
		opt("timestamp", TypeDateTime),
		opt("vendorId", TypeString),
		opt("vendorErrorCode", TypeString),
	}},
	{Name: "StopTransaction", Origin: ocpp.RoleChargePoint, Fields: []Field{
		opt("idTag", TypeString),
		req("meterStop", TypeInteger),
		req("timestamp", TypeDateTime),
		req("transactionId", TypeInteger),
		opt("reason", TypeString),
		opt("transactionData", TypeArray),
	}},

	// Central system initiated
	{Name: "CancelReservation", Origin: ocpp.RoleCentralSystem, Fields: []Field{req("reservationId", TypeInteger)}},
	{Name: "ChangeAvailability", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("connectorId", TypeInteger),
		req("type", TypeString),
	}},
	{Name: "ChangeConfiguration", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("key", TypeString),
		req("value", TypeString),
	}},
	{Name: "ClearCache", Origin: ocpp.RoleCentralSystem},
	{Name: "ClearChargingProfile", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		opt("id", TypeInteger),
		opt("connectorId", TypeInteger),
		opt("chargingProfilePurpose", TypeString),
		opt("stackLevel", TypeInteger),
	}},
	{Name: "GetCompositeSchedule", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("connectorId", TypeInteger),
		req("duration", TypeInteger),
		opt("chargingRateUnit", TypeString),
	}},
	{Name: "GetConfiguration", Origin: ocpp.RoleCentralSystem, Fields: []Field{opt("key", TypeArray)}},
	{Name: "GetDiagnostics", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("location", TypeString),
		opt("retries", TypeInteger),
		opt("retryInterval", TypeInteger),
		opt("startTime", TypeDateTime),
		opt("stopTime", TypeDateTime),
	}},
	{Name: "GetLocalListVersion", Origin: ocpp.RoleCentralSystem},
	{Name: "RemoteStartTransaction", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		opt("connectorId", TypeInteger),
		req("idTag", TypeString),
		opt("chargingProfile", TypeObject),
	}},
	{Name: "RemoteStopTransaction", Origin: ocpp.RoleCentralSystem, Fields: []Field{req("transactionId", TypeInteger)}},
	{Name: "ReserveNow", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("connectorId", TypeInteger),
		req("expiryDate", TypeDateTime),
		req("idTag", TypeString),
		opt("parentIdTag", TypeString),
		req("reservationId", TypeInteger),
	}},
	{Name: "Reset", Origin: ocpp.RoleCentralSystem, Fields: []Field{req("type", TypeString)}},
	{Name: "SendLocalList", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("listVersion", TypeInteger),
		opt("localAuthorizationList", TypeArray),
		req("updateType", TypeString),
	}},
	{Name: "SetChargingProfile", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("connectorId", TypeInteger),
		req("csChargingProfiles", TypeObject),
	}},
	{Name: "TriggerMessage", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("requestedMessage", TypeString),
		opt("connectorId", TypeInteger),
	}},
	{Name: "UnlockConnector", Origin: ocpp.RoleCentralSystem, Fields: []Field{req("connectorId", TypeInteger)}},
	{Name: "UpdateFirmware", Origin: ocpp.RoleCentralSystem, Fields: []Field{
		req("location", TypeString),
		opt("retries", TypeInteger),
		req("retrieveDate", TypeDateTime),
		opt("retryInterval", TypeInteger),
	}},
}

var byName = func() map[string]Operation {
	m := make(map[string]Operation, len(operations))
	for _, op := range operations {
		m[strings.ToLower(op.Name)] = op
	}
	return m
}()

// Lookup finds an operation by name, ignoring case.
func Lookup(action string) (Operation, bool) {
	op, ok := byName[strings.ToLower(action)]
	return op, ok
}

// Operations lists the operations originated by role, sorted by name.
func Operations(origin ocpp.Role) []Operation {
	var result []Operation
	for _, op := range operations {
		if op.Origin == origin {
			result = append(result, op)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Validate checks payload against the catalog entry of action. Unknown keys,
// missing required fields and values of the wrong type are ValidationErrors.
func Validate(action string, payload json.RawMessage) error {
	op, ok := Lookup(action)
	if !ok {
		return ocpp.NewError(ocpp.NotSupported, "unknown operation %s", action)
	}
	return op.Validate(payload)
}

// Validate checks payload against the operation's fields.
func (op Operation) Validate(payload json.RawMessage) error {
	values := map[string]interface{}{}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&values); err != nil {
			return ocpp.NewError(ocpp.ValidationError, "%s payload must be a JSON object: %v", op.Name, err)
		}
	}

	known := make(map[string]Field, len(op.Fields))
	for _, f := range op.Fields {
		known[f.Name] = f
	}
	for key := range values {
		if _, ok := known[key]; !ok {
			return ocpp.NewError(ocpp.ValidationError, "unknown field %q for %s", key, op.Name)
		}
	}
	for _, f := range op.Fields {
		value, present := values[f.Name]
		if !present || value == nil {
			if f.Required {
				return ocpp.NewError(ocpp.ValidationError, "missing required field %q for %s", f.Name, op.Name)
			}
			continue
		}
		if !matchesType(f.Type, value) {
			return ocpp.NewError(ocpp.ValidationError, "field %q of %s must be of type %s", f.Name, op.Name, f.Type)
		}
	}
	return nil
}

func matchesType(typ string, value interface{}) bool {
	switch typ {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger:
		n, ok := value.(json.Number)
		if !ok {
			return false
		}
		_, err := n.Int64()
		return err == nil
	case TypeDecimal:
		_, ok := value.(json.Number)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeDateTime:
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := iso8601.ParseString(s)
		return err == nil
	case TypeObject:
		_, ok := value.(map[string]interface{})
		return ok
	case TypeArray:
		_, ok := value.([]interface{})
		return ok
	}
	return false
}
