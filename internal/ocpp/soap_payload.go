package ocpp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// Leaf names whose SOAP text is an integer in the JSON payload.
var integerFields = map[string]bool{
	"connectorId":       true,
	"transactionId":     true,
	"meterStart":        true,
	"meterStop":         true,
	"reservationId":     true,
	"interval":          true,
	"heartbeatInterval": true,
	"retries":           true,
	"retryInterval":     true,
	"listVersion":       true,
	"duration":          true,
	"stackLevel":        true,
	"chargingProfileId": true,
	"numberPhases":      true,
	"startPeriod":       true,
}

var booleanFields = map[string]bool{
	"readonly": true,
}

var dateTimeFields = map[string]bool{
	"timestamp":    true,
	"currentTime":  true,
	"expiryDate":   true,
	"startDate":    true,
	"retrieveDate": true,
	"validFrom":    true,
	"validTo":      true,
}

// Fields that are always arrays in the JSON form even when a single element
// was present on the SOAP side. Root-only names are ambiguous deeper down.
var rootListFields = map[string]bool{
	"key":              true,
	"unknownKey":       true,
	"configurationKey": true,
}

var listFields = map[string]bool{
	"meterValue":      true,
	"sampledValue":    true,
	"transactionData": true,
}

// ValuesToPayload converts flattened SOAP body values into a JSON payload.
// Repeated keys and indexed segments become arrays, and integer, boolean and
// timestamp leaves are typed according to their name.
func ValuesToPayload(values Fields) (json.RawMessage, error) {
	root := map[string]interface{}{}
	for _, f := range values {
		segs := strings.Split(f.Key, ".")
		name, _ := splitSegment(segs[len(segs)-1])
		insertValue(root, segs, convertLeaf(name, f.Value))
	}
	wrapLists(root, true)
	raw, err := json.Marshal(root)
	if err != nil {
		return nil, NewError(FormationViolation, "cannot convert SOAP values: %v", err)
	}
	return raw, nil
}

// indexedSegment names the n-th repetition of an element: "meterValue",
// "meterValue[1]", "meterValue[2]".
func indexedSegment(name string, n int) string {
	if n == 0 {
		return name
	}
	return name + "[" + strconv.Itoa(n) + "]"
}

// splitSegment is the inverse of indexedSegment.
func splitSegment(seg string) (string, int) {
	i := strings.IndexByte(seg, '[')
	if i < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0
	}
	n, err := strconv.Atoi(seg[i+1 : len(seg)-1])
	if err != nil || n < 0 {
		return seg, 0
	}
	return seg[:i], n
}

func insertValue(node map[string]interface{}, segs []string, value interface{}) {
	name, index := splitSegment(segs[0])
	if len(segs) == 1 {
		switch existing := node[name].(type) {
		case nil:
			node[name] = value
		case []interface{}:
			node[name] = append(existing, value)
		default:
			node[name] = []interface{}{existing, value}
		}
		return
	}
	insertValue(element(node, name, index), segs[1:], value)
}

// element returns the index-th object stored under name, turning a single
// object into a list once a second element shows up.
func element(node map[string]interface{}, name string, index int) map[string]interface{} {
	var items []interface{}
	switch existing := node[name].(type) {
	case map[string]interface{}:
		if index == 0 {
			return existing
		}
		items = []interface{}{existing}
	case []interface{}:
		items = existing
	}
	if items == nil {
		child := map[string]interface{}{}
		if index == 0 {
			node[name] = child
			return child
		}
		items = []interface{}{child}
	}
	for len(items) <= index {
		items = append(items, map[string]interface{}{})
	}
	node[name] = items
	child, ok := items[index].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		items[index] = child
	}
	return child
}

func wrapLists(node map[string]interface{}, root bool) {
	for key, value := range node {
		switch v := value.(type) {
		case map[string]interface{}:
			wrapLists(v, false)
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					wrapLists(m, false)
				}
			}
			continue
		}
		if listFields[key] || (root && rootListFields[key]) {
			node[key] = []interface{}{node[key]}
		}
	}
}

func convertLeaf(name, text string) interface{} {
	switch {
	case integerFields[name]:
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n
		}
	case booleanFields[name]:
		if b, err := strconv.ParseBool(text); err == nil {
			return b
		}
	case dateTimeFields[name]:
		if t, err := iso8601.ParseString(text); err == nil {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return text
}

// PayloadToValues flattens a JSON payload into SOAP body values. Object
// members keep their JSON order; array elements repeat their parent key, with
// an index segment from the second element on.
func PayloadToValues(payload json.RawMessage) (Fields, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	root, err := decodeOrdered(dec)
	if err != nil {
		return nil, NewError(FormationViolation, "payload is not valid JSON: %v", err)
	}
	obj, ok := root.(*orderedObject)
	if !ok {
		return nil, NewError(FormationViolation, "payload must be a JSON object")
	}
	var values Fields
	flatten(&values, "", obj)
	return values, nil
}

// orderedObject is a decoded JSON object that remembers its member order.
type orderedObject struct {
	keys   []string
	values map[string]interface{}
}

func decodeOrdered(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := &orderedObject{values: map[string]interface{}{}}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			value, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			if _, dup := obj.values[key]; !dup {
				obj.keys = append(obj.keys, key)
			}
			obj.values[key] = value
		}
		_, err := dec.Token()
		return obj, err
	case '[':
		items := []interface{}{}
		for dec.More() {
			item, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		_, err := dec.Token()
		return items, err
	}
	return nil, fmt.Errorf("unexpected %v", delim)
}

func flatten(values *Fields, prefix string, node interface{}) {
	switch v := node.(type) {
	case *orderedObject:
		for _, k := range v.keys {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if items, ok := v.values[k].([]interface{}); ok {
				for i, item := range items {
					flatten(values, indexedSegment(key, i), item)
				}
				continue
			}
			flatten(values, key, v.values[k])
		}
	case []interface{}:
		for _, item := range v {
			flatten(values, prefix, item)
		}
	case nil:
	case bool:
		values.Add(prefix, strconv.FormatBool(v))
	case json.Number:
		values.Add(prefix, v.String())
	case string:
		values.Add(prefix, v)
	}
}

// RenameValue renames a leaf key in place.
func (f Fields) RenameValue(from, to string) {
	for i := range f {
		if f[i].Key == from {
			f[i].Key = to
		}
	}
}
