// Package sas mints and parses shared-access-signature credentials for
// the peripheral factory surface (spec.md §6): turning a connection
// string or a raw key into the short-lived signature UpdateCredential
// and the initial Open call consume.
//
// HMAC-SHA256 signing has no ecosystem library in the example corpus
// better suited than the standard library; see DESIGN.md.
package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedConnectionString indicates a connection string missing a
// required field or using an unrecognized key.
var ErrMalformedConnectionString = errors.New("sas: malformed connection string")

// ConnectionInfo is a parsed device connection string.
type ConnectionInfo struct {
	HostName    string
	DeviceID    string
	ModuleID    string // optional
	SharedKey   string // base64, present for shared-key auth
	SharedKeyName string // optional, present for hub-level policies
}

// ParseConnectionString parses a semicolon-delimited Key=Value
// connection string in the shape Azure IoT Hub device connection
// strings use: "HostName=...;DeviceId=...;SharedAccessKey=...".
func ParseConnectionString(raw string) (ConnectionInfo, error) {
	var info ConnectionInfo
	if raw == "" {
		return info, ErrMalformedConnectionString
	}
	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return ConnectionInfo{}, fmt.Errorf("%w: segment %q has no '='", ErrMalformedConnectionString, part)
		}
		switch kv[0] {
		case "HostName":
			info.HostName = kv[1]
		case "DeviceId":
			info.DeviceID = kv[1]
		case "ModuleId":
			info.ModuleID = kv[1]
		case "SharedAccessKey":
			info.SharedKey = kv[1]
		case "SharedAccessKeyName":
			info.SharedKeyName = kv[1]
		default:
			return ConnectionInfo{}, fmt.Errorf("%w: unrecognized key %q", ErrMalformedConnectionString, kv[0])
		}
	}
	if info.HostName == "" || info.DeviceID == "" {
		return ConnectionInfo{}, fmt.Errorf("%w: missing HostName or DeviceId", ErrMalformedConnectionString)
	}
	return info, nil
}

// Resource builds the canonical resource URI a signature is scoped to:
// "<hostname>/devices/<deviceID>" or, for a module, with "/modules/<id>"
// appended.
func (c ConnectionInfo) Resource() string {
	res := c.HostName + "/devices/" + c.DeviceID
	if c.ModuleID != "" {
		res += "/modules/" + c.ModuleID
	}
	return res
}

// Mint produces a SharedAccessSignature token scoped to resource, valid
// until now+lifetime, signed with key (base64-encoded, as stored in a
// connection string's SharedAccessKey field).
func Mint(resource, key string, lifetime time.Duration, now time.Time) (string, error) {
	decodedKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("sas: decode key: %w", err)
	}
	expiry := strconv.FormatInt(now.Add(lifetime).Unix(), 10)
	encodedResource := url.QueryEscape(resource)
	toSign := encodedResource + "\n" + expiry

	mac := hmac.New(sha256.New, decodedKey)
	mac.Write([]byte(toSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	values.Set("sr", resource)
	values.Set("sig", signature)
	values.Set("se", expiry)
	return "SharedAccessSignature " + values.Encode(), nil
}

// MintFromConnectionString is a convenience wrapper over
// ParseConnectionString + Mint for the common "open from a connection
// string" factory path (spec.md §6).
func MintFromConnectionString(connectionString string, lifetime time.Duration, now time.Time) (string, error) {
	info, err := ParseConnectionString(connectionString)
	if err != nil {
		return "", err
	}
	if info.SharedKey == "" {
		return "", fmt.Errorf("%w: missing SharedAccessKey", ErrMalformedConnectionString)
	}
	return Mint(info.Resource(), info.SharedKey, lifetime, now)
}
