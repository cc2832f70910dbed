package iotdevice

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rtmaster/iothub/internal/sas"
)

// ParsedConnection is the decomposed form of a device connection string
// (spec.md §6 factory surface: "parse a connection string into host,
// device-id, hub-name").
type ParsedConnection struct {
	HostName string
	HubName  string
	DeviceID string
	ModuleID string
}

// ParseConnectionString decomposes raw and, if it carries a shared key,
// mints an initial signature valid one hour from now. The factory
// constructors are convenience shells, not part of the core (spec.md
// §1): callers who already hold a signature should skip this and build
// a Client directly.
func ParseConnectionString(raw string) (ParsedConnection, string, error) {
	info, err := sas.ParseConnectionString(raw)
	if err != nil {
		return ParsedConnection{}, "", err
	}
	parsed := ParsedConnection{
		HostName: info.HostName,
		HubName:  hubNameFromHost(info.HostName),
		DeviceID: info.DeviceID,
		ModuleID: info.ModuleID,
	}
	if info.SharedKey == "" {
		return parsed, "", nil
	}
	sig, err := sas.Mint(info.Resource(), info.SharedKey, time.Hour, time.Now())
	if err != nil {
		return ParsedConnection{}, "", fmt.Errorf("iotdevice: mint initial signature: %w", err)
	}
	return parsed, sig, nil
}

func hubNameFromHost(host string) string {
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

// ParsedSignature is the decomposed form of a raw SharedAccessSignature
// token.
type ParsedSignature struct {
	HostName string
	DeviceID string
	ModuleID string
	Expiry   string
}

// ParseSignature percent-decodes a signature's resource URI and
// extracts host, device-id and (if present) module-id from its path
// segments, per spec.md §6.
func ParseSignature(raw string) (ParsedSignature, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(raw, "SharedAccessSignature "))
	if err != nil {
		return ParsedSignature{}, fmt.Errorf("iotdevice: parse signature: %w", err)
	}
	resource := values.Get("sr")
	if resource == "" {
		return ParsedSignature{}, fmt.Errorf("iotdevice: signature missing sr parameter")
	}
	decoded, err := url.QueryUnescape(resource)
	if err != nil {
		return ParsedSignature{}, fmt.Errorf("iotdevice: decode resource: %w", err)
	}
	parts := strings.Split(decoded, "/")
	if len(parts) < 3 || parts[1] != "devices" {
		return ParsedSignature{}, fmt.Errorf("iotdevice: malformed resource %q", decoded)
	}
	p := ParsedSignature{HostName: parts[0], DeviceID: parts[2], Expiry: values.Get("se")}
	if len(parts) >= 5 && parts[3] == "modules" {
		p.ModuleID = parts[4]
	}
	return p, nil
}

// NewClientFromConnectionString parses connStr, mints the initial
// signature if the connection string carries a shared key, and
// constructs a Client bound to the Transport newTransport builds.
// newTransport receives the initial signature so it can fold it into
// the transport's own connect configuration.
func NewClientFromConnectionString(connStr string, newTransport func(initialSignature string) (Transport, error), cfg ClientConfig) (*Client, error) {
	_, sig, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	transport, err := newTransport(sig)
	if err != nil {
		return nil, fmt.Errorf("iotdevice: construct transport: %w", err)
	}
	cfg.Config.ConnectionString = connStr
	if cfg.Config.SASRenewalInterval <= 0 {
		cfg.Config.SASRenewalInterval = 45 * time.Minute
	}
	if cfg.Config.SASTokenLifetime <= 0 {
		cfg.Config.SASTokenLifetime = time.Hour
	}
	if sig != "" {
		cfg.Config.AutoRenew = cfg.Config.AuthMode != AuthX509
	}
	return NewClient(transport, cfg), nil
}
