package protocol

// Version information for the protocol module.
const (
	// Version is the current version of the wire protocol.
	Version = "1.0.0"

	// MinCompatibleVersion is the minimum peer version this module can talk to.
	MinCompatibleVersion = "1.0.0"
)
