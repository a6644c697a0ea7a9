package protocol

// Host-facing lifecycle events emitted by a peripheral session.
const (
	EventListUpdated       = "peripheral.list.updated"
	EventUserPicked        = "peripheral.user.picked"
	EventScanTimeout       = "peripheral.scan.timeout"
	EventConnected         = "peripheral.connected"
	EventDisconnected      = "peripheral.disconnected"
	EventConnectionLost    = "peripheral.connection.lost"
	EventRequestError      = "peripheral.request.error"
	EventPairingUnresolved = "peripheral.pairing.unresolved"
)
