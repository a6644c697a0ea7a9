package protocol

import "encoding/json"

// Filter narrows which peripherals the bridge reports during discovery.
// Empty fields are omitted and do not constrain the scan.
type Filter struct {
	Name             string            `json:"name,omitempty" yaml:"name,omitempty"`
	NamePrefix       string            `json:"namePrefix,omitempty" yaml:"namePrefix,omitempty"`
	Services         []string          `json:"services,omitempty" yaml:"services,omitempty"`
	ManufacturerData map[string]string `json:"manufacturerData,omitempty" yaml:"manufacturerData,omitempty"`
}

// DiscoverParams are the params of a discover request.
type DiscoverParams struct {
	Filters          []Filter `json:"filters" yaml:"filters"`
	OptionalServices []string `json:"optionalServices,omitempty" yaml:"optionalServices,omitempty"`
}

// ConnectParams are the params of a connect request. PeripheralID is the
// id exactly as the bridge reported it (string or number).
type ConnectParams struct {
	PeripheralID json.RawMessage `json:"peripheralId"`
	PIN          string          `json:"pin"`
}
