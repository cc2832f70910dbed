package iotdevice

import "github.com/rtmaster/iothub/internal/session"

// State, SASUpdated and SettlementResult are defined in internal/session
// and re-exported here so callers of the public API never need to
// import an internal package to name their own return types.
type (
	State            = session.State
	SASUpdated       = session.SASUpdated
	SettlementResult = session.SettlementResult
)

// Session states (spec.md §3).
const (
	Disconnected  = session.Disconnected
	Connecting    = session.Connecting
	Connected     = session.Connected
	Disconnecting = session.Disconnecting
	UpdatingSAS   = session.UpdatingSAS
)
