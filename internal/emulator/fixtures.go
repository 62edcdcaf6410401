package emulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"ocpp-engine/internal/catalog"
	"ocpp-engine/internal/ocpp"
)

// cannedResponses answer pass-through actions when no fixture file exists.
var cannedResponses = map[string]json.RawMessage{
	"ChangeAvailability":   json.RawMessage(`{"status":"Accepted"}`),
	"ClearChargingProfile": json.RawMessage(`{"status":"Accepted"}`),
	"DataTransfer":         json.RawMessage(`{"status":"Accepted"}`),
	"GetCompositeSchedule": json.RawMessage(`{"status":"Rejected"}`),
	"GetDiagnostics":       json.RawMessage(`{}`),
	"GetLocalListVersion":  json.RawMessage(`{"listVersion":0}`),
	"SendLocalList":        json.RawMessage(`{"status":"Accepted"}`),
	"SetChargingProfile":   json.RawMessage(`{"status":"Accepted"}`),
	"UnlockConnector":      json.RawMessage(`{"status":"Unlocked"}`),
	"UpdateFirmware":       json.RawMessage(`{}`),
}

// Fixtures loads stored responses from <dir>/<identity>/<Action>.json.
type Fixtures struct {
	dir string
}

// NewFixtures returns a fixture loader. An empty dir serves only the canned
// responses.
func NewFixtures(dir, identity string) *Fixtures {
	if dir == "" {
		return &Fixtures{}
	}
	return &Fixtures{dir: filepath.Join(dir, identity)}
}

// Load returns the stored response payload of action.
func (f *Fixtures) Load(action string) (json.RawMessage, error) {
	name := action
	if op, ok := catalog.Lookup(action); ok {
		name = op.Name
	}

	if f.dir != "" {
		data, err := os.ReadFile(filepath.Join(f.dir, name+".json"))
		switch {
		case err == nil:
			if !json.Valid(data) {
				return nil, fmt.Errorf("fixture %s for %s is not valid JSON", f.dir, name)
			}
			return json.RawMessage(data), nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read fixture for %s: %w", name, err)
		}
	}

	if payload, ok := cannedResponses[name]; ok {
		return payload, nil
	}
	return nil, ocpp.NewError(ocpp.NotImplemented, "no stored response for %s", name)
}
