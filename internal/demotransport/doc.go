// Package demotransport provides a reference Transport implementation
// for cmd/iotdevice-cli. It never talks to a real hub: Connect and the
// settlement/send operations succeed immediately against an in-memory
// loopback, and Inject/InjectMethod "deliver" a synthetic
// cloud-to-device message or method invocation, synchronously on the
// caller's goroutine, so the shell has something to react to.
//
// Real deployments supply their own Transport (MQTT, AMQP, or a vendor
// SDK's client) — this package exists only so the bundled CLI has
// something to drive without external dependencies.
package demotransport
