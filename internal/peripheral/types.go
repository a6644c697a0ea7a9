package peripheral

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PeripheralRecord is one device as reported by the bridge. Only id and name
// are interpreted; every other field is kept verbatim and re-emitted on
// marshal.
type PeripheralRecord struct {
	ID   string
	Name string

	rawID  json.RawMessage
	fields map[string]json.RawMessage
}

func (r *PeripheralRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	rawID, ok := fields["id"]
	if !ok {
		rawID, ok = fields["peripheralId"]
	}
	if !ok || len(rawID) == 0 || string(rawID) == "null" {
		return ErrMissingPeripheralID
	}

	var id interface{}
	if err := json.Unmarshal(rawID, &id); err != nil {
		return err
	}
	switch v := id.(type) {
	case string:
		r.ID = v
	case float64:
		r.ID = string(rawID)
	default:
		return fmt.Errorf("peripheral id must be a string or number, got %s", rawID)
	}

	r.Name = ""
	if rawName, ok := fields["name"]; ok && string(rawName) != "null" {
		if err := json.Unmarshal(rawName, &r.Name); err != nil {
			return fmt.Errorf("peripheral name: %w", err)
		}
	}
	r.rawID = rawID
	r.fields = fields
	return nil
}

func (r PeripheralRecord) MarshalJSON() ([]byte, error) {
	if r.fields != nil {
		return json.Marshal(r.fields)
	}
	return json.Marshal(map[string]string{"id": r.ID, "name": r.Name})
}

// RawID returns the id with the JSON type the bridge used, so it can be
// echoed back in a connect request.
func (r PeripheralRecord) RawID() json.RawMessage {
	if len(r.rawID) > 0 {
		return r.rawID
	}
	raw, _ := json.Marshal(r.ID)
	return raw
}

// Field returns a pass-through field by key.
func (r PeripheralRecord) Field(key string) (json.RawMessage, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// ErrorPayload is carried by connection-lost, request-error and
// pairing-unresolved events.
type ErrorPayload struct {
	Message     string `json:"message"`
	ExtensionID string `json:"extensionId"`
}
