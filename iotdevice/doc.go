// Package iotdevice implements the device-side session controller for an
// IoT hub client.
//
// A Client brokers all interaction with a remote hub over a pluggable
// Transport: telemetry submission, cloud-to-device message reception,
// direct method invocation, device-twin acquisition, settlement of
// received messages, and credential rotation. Connection lifecycle is
// owned by the Client and serialized by an internal state machine
// (internal/session) so that callers never observe more than one
// transport-level connect attempt in flight.
//
// # Transports
//
// The Transport and Receiver interfaces are the only contract the
// package has with the network. Neither the wire protocol nor a
// concrete transport implementation (MQTT, AMQP, HTTP) lives in this
// module; callers supply a Transport and the Client drives it through
// its optional operations, probing capabilities before use.
//
// # Credential rotation
//
// UpdateCredential replaces the short-lived signature used for
// authentication. Under shared-key or bearer auth this may force a
// single reconnect, coordinated so that commands queued during the
// rotation are not lost. Under x509 auth rotation is rejected
// synchronously, since the credential is not a signature the client
// controls.
package iotdevice
