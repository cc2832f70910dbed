package iotdevice

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rtmaster/iothub/internal/deviceconfig"
)

// AuthMode identifies how the bound transport authenticates to the hub.
// It determines whether credential rotation is available at all (x509
// forbids it, per spec.md §3) and whether AutoRenew defaults on.
type AuthMode uint8

const (
	// AuthSharedKey authenticates with a shared-access-signature minted
	// from a device connection string. Supports rotation.
	AuthSharedKey AuthMode = iota

	// AuthBearer authenticates with an externally-minted bearer token
	// supplied by the caller. Supports rotation.
	AuthBearer

	// AuthX509 authenticates with a client certificate. Rotation is
	// rejected synchronously with ErrIncompatibleAuth.
	AuthX509
)

// String returns a human-readable auth mode name.
func (a AuthMode) String() string {
	switch a {
	case AuthSharedKey:
		return "SHARED_KEY"
	case AuthBearer:
		return "BEARER"
	case AuthX509:
		return "X509"
	default:
		return "UNKNOWN"
	}
}

// Config carries the few knobs spec.md makes variable (§6 Constants,
// §4.3). The zero value is usable: a zero SASRenewalInterval or
// SASTokenLifetime falls back to the 45- and 60-minute defaults and
// AutoRenew is off. DefaultConfig sets the defaults explicitly.
type Config struct {
	// AuthMode determines whether UpdateCredential is permitted.
	AuthMode AuthMode

	// SASRenewalInterval is how long after scheduling the renewal timer
	// fires. Defaults to 45 minutes (spec.md §6).
	SASRenewalInterval time.Duration

	// SASTokenLifetime is how long a freshly minted signature remains
	// valid from the minting instant. Defaults to 60 minutes.
	SASTokenLifetime time.Duration

	// AutoRenew enables the background renewal timer. Defaults to true
	// for AuthSharedKey and AuthBearer, false for AuthX509 (rotation is
	// not possible under x509 regardless of this flag).
	AutoRenew bool

	// ConnectionString is the device connection string, parsed on each
	// automatic renewal to mint the renewed signature. Only meaningful
	// under AuthSharedKey.
	ConnectionString string
}

// DefaultConfig returns the spec-mandated defaults for the given auth
// mode: a 45-minute renewal interval, a 60-minute token lifetime, and
// auto-renewal enabled unless auth is x509.
func DefaultConfig(mode AuthMode) Config {
	return Config{
		AuthMode:           mode,
		SASRenewalInterval: 45 * time.Minute,
		SASTokenLifetime:   60 * time.Minute,
		AutoRenew:          mode != AuthX509,
	}
}

// ConfigFromYAML loads a Config from r, an ambient convenience the spec
// does not require (SPEC_FULL.md §3.3): connection strings and renewal
// knobs live comfortably in a file, the way the teacher resolves
// on-disk artifacts with the same library (internal/deviceconfig).
// Fields the file omits fall back to DefaultConfig for the parsed auth
// mode.
func ConfigFromYAML(r io.Reader) (Config, error) {
	resolved, err := deviceconfig.Load(r)
	if err != nil {
		return Config{}, err
	}
	mode, err := parseAuthMode(resolved.AuthMode)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig(mode)
	cfg.ConnectionString = resolved.ConnectionString
	if resolved.SASRenewalInterval > 0 {
		cfg.SASRenewalInterval = resolved.SASRenewalInterval
	}
	if resolved.SASTokenLifetime > 0 {
		cfg.SASTokenLifetime = resolved.SASTokenLifetime
	}
	if resolved.AutoRenew != nil {
		cfg.AutoRenew = *resolved.AutoRenew
	}
	return cfg, nil
}

func parseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared-key", "shared_key", "sas":
		return AuthSharedKey, nil
	case "bearer":
		return AuthBearer, nil
	case "x509":
		return AuthX509, nil
	default:
		return 0, fmt.Errorf("iotdevice: unknown auth mode %q", s)
	}
}
