// Package deviceconfig loads iotdevice.Config knobs from a YAML file, the
// same library the teacher uses for every on-disk config/spec artifact
// (pkg/usecase/resolve.go, pkg/version/spec.go). This is an ambient
// concern (SPEC_FULL.md §3.3), not part of the core: the bundled CLI
// demo uses it so connection options can live in a file instead of only
// flags.
package deviceconfig

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape, resolved into iotdevice.Config by the
// caller (kept here rather than in iotdevice to avoid a yaml.v3 import
// in the core package).
type File struct {
	ConnectionString   string `yaml:"connectionString"`
	AuthMode           string `yaml:"authMode"` // "shared-key", "bearer", "x509"
	SASRenewalInterval string `yaml:"sasRenewalInterval"`
	SASTokenLifetime   string `yaml:"sasTokenLifetime"`
	AutoRenew          *bool  `yaml:"autoRenew"`
}

// Resolved is the parsed, type-checked result of loading a File: Go
// durations instead of strings, ready for the caller to fold into an
// iotdevice.Config.
type Resolved struct {
	ConnectionString   string
	AuthMode           string
	SASRenewalInterval time.Duration
	SASTokenLifetime   time.Duration
	AutoRenew          *bool // nil means "use the auth-mode default"
}

// Load parses YAML config from r.
func Load(r io.Reader) (Resolved, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Resolved{}, fmt.Errorf("deviceconfig: read: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Resolved{}, fmt.Errorf("deviceconfig: parse yaml: %w", err)
	}
	return resolve(f)
}

func resolve(f File) (Resolved, error) {
	res := Resolved{
		ConnectionString: f.ConnectionString,
		AuthMode:         f.AuthMode,
		AutoRenew:        f.AutoRenew,
	}
	if f.SASRenewalInterval != "" {
		d, err := time.ParseDuration(f.SASRenewalInterval)
		if err != nil {
			return Resolved{}, fmt.Errorf("deviceconfig: sasRenewalInterval: %w", err)
		}
		res.SASRenewalInterval = d
	}
	if f.SASTokenLifetime != "" {
		d, err := time.ParseDuration(f.SASTokenLifetime)
		if err != nil {
			return Resolved{}, fmt.Errorf("deviceconfig: sasTokenLifetime: %w", err)
		}
		res.SASTokenLifetime = d
	}
	return res, nil
}
