package iotdevice

import "github.com/rtmaster/iothub/internal/ports"

// Message, MethodRequest, MethodResponse, MethodHandler, Transport,
// Receiver and Capabilities are defined in internal/ports so that the
// session state machine, the subscription manager and the public
// package all share one definition without an import cycle.
type (
	Message                = ports.Message
	MethodRequest          = ports.MethodRequest
	MethodResponse         = ports.MethodResponse
	MethodHandler          = ports.MethodHandler
	CredentialUpdateResult = ports.CredentialUpdateResult
	Transport              = ports.Transport
	Receiver               = ports.Receiver
	Capabilities           = ports.Capabilities
)

// NewCapabilityProbe snapshots a transport's declared capabilities.
// See internal/ports.CapabilityProbe for the query methods.
func NewCapabilityProbe(t Transport) ports.CapabilityProbe {
	return ports.NewCapabilityProbe(t)
}
