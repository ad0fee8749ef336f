package models

import "time"

// Environment selects the APNs environment a device token belongs to.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

// ValidEnvironment reports whether e is one of the two known values.
func ValidEnvironment(e Environment) bool {
	return e == EnvSandbox || e == EnvProduction
}

// Device is one push registration: a device token bound to a UPS on
// this server. The device token is stored AES-GCM encrypted; token_hash
// is the SHA-256 hex of the plaintext token and is what lookups key on.
type Device struct {
	ID             int64
	UPSID          string
	UPSAlias       *string
	DeviceToken    string // encrypted blob as stored
	TokenHash      string
	InstallationID *string
	ServerID       *string
	UPSHidden      bool
	Environment    Environment
	CreatedAt      time.Time
}
