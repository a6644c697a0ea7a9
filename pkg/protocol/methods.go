package protocol

// Outbound methods (client -> bridge).
const (
	MethodDiscover = "discover"
	MethodConnect  = "connect"
	MethodSend     = "send"
)

// Inbound methods (bridge -> client).
const (
	MethodDidDiscoverPeripheral    = "didDiscoverPeripheral"
	MethodUserDidPickPeripheral    = "userDidPickPeripheral"
	MethodUserDidNotPickPeripheral = "userDidNotPickPeripheral"
	MethodDidReceiveMessage        = "didReceiveMessage"
)
