package httpapi

// ServerVersion is the release version reported by /v1/status.
const ServerVersion = "1.4.0"

// ProtocolVersion is the Relay protocol generation this server speaks;
// the update checker compares it against Relay's /meta answer.
const ProtocolVersion = "1.1"
