package iotdevice

import "context"

// Twin is the device-twin handle GetTwin returns. The twin subsystem
// itself is an out-of-scope collaborator (spec.md §1): this package only
// defines the narrow seam the controller needs to construct one and to
// notify it of credential rotations.
//
// Steady-state coupling between a Client and its Twin is through
// OnCredentialUpdated alone; the twin holds no other reference back into
// the Client once construction returns (spec.md §9, "cyclic references").
type Twin interface {
	// OnCredentialUpdated is called after every successful credential
	// rotation, with or without a reconnect, so the twin can refresh any
	// rotation-dependent state (e.g. a cached SAS-scoped endpoint).
	OnCredentialUpdated()
}

// TwinConstructor builds a Twin for a Client. It receives a borrowed
// reference to the Client for the duration of construction only.
type TwinConstructor func(ctx context.Context, c *Client) (Twin, error)
