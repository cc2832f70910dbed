package ports

import "context"

// Message is a telemetry or cloud-to-device message body. Its shape is
// intentionally opaque to the controller: the transport is responsible
// for encoding/decoding it on the wire.
type Message struct {
	// ID is the transport-assigned message identifier used for
	// settlement (Complete/Reject/Abandon). Empty for outbound-only
	// messages that never need settlement.
	ID string

	// Body is the opaque payload.
	Body []byte

	// Properties carries application and system properties attached to
	// the message (e.g. content type, correlation id).
	Properties map[string]string
}

// MethodRequest is delivered to a registered MethodHandler when the hub
// invokes a direct method.
type MethodRequest struct {
	RequestID string
	Name      string
	Body      []byte
}

// MethodResponse is returned by a MethodHandler and forwarded to the
// transport's SendMethodResponse.
type MethodResponse struct {
	RequestID string
	Status    int
	Body      []byte
}

// MethodHandler processes a direct method invocation and returns the
// response to report back to the hub.
type MethodHandler func(ctx context.Context, req MethodRequest) (MethodResponse, error)

// CredentialUpdateResult is returned by Transport.UpdateCredential.
type CredentialUpdateResult struct {
	// NeedsReconnect indicates the transport must be reconnected for the
	// new credential to take effect.
	NeedsReconnect bool
}

// Transport is the pluggable network client the controller drives. Every
// operation is optional except GetReceiver; the controller probes for
// support with CapabilityProbe before calling an operation and fails the
// caller with an unsupported-operation error when support is absent.
//
// Implementations must be safe for concurrent use: the controller runs
// each forwarded operation (send, settlement, credential update,
// connect, disconnect) on a goroutine of its own, so several calls may
// be outstanding on the same Transport at once, and the Disconnect
// event (via OnDisconnect) may fire from any goroutine at any time.
type Transport interface {
	// Capabilities reports which optional operations this transport
	// implements. The controller consults it before calling an optional
	// operation instead of probing reflectively; see CapabilityProbe.
	Capabilities() Capabilities

	// Connect establishes the underlying network connection.
	Connect(ctx context.Context) error

	// Disconnect tears down the underlying network connection.
	Disconnect(ctx context.Context) error

	// SendEvent submits a single telemetry message.
	SendEvent(ctx context.Context, msg Message) error

	// SendEventBatch submits multiple telemetry messages as one batch.
	SendEventBatch(ctx context.Context, msgs []Message) error

	// Complete, Reject and Abandon settle a received cloud-to-device
	// message.
	Complete(ctx context.Context, msg Message) error
	Reject(ctx context.Context, msg Message) error
	Abandon(ctx context.Context, msg Message) error

	// UpdateCredential submits a freshly minted signature to the
	// transport, returning whether a reconnect is required before the
	// new credential takes effect.
	UpdateCredential(ctx context.Context, signature string) (CredentialUpdateResult, error)

	// SetOptions applies transport-specific configuration.
	SetOptions(ctx context.Context, opts map[string]any) error

	// GetReceiver returns the subscription sink for inbound messages and
	// method invocations. Not optional: every transport must support
	// receiving. Returning the same Receiver on repeated calls is
	// expected; the controller treats a Receiver identical to the
	// cached one as a no-op.
	GetReceiver(ctx context.Context) (Receiver, error)

	// SendMethodResponse reports the result of a direct method
	// invocation back to the hub.
	SendMethodResponse(ctx context.Context, resp MethodResponse) error

	// OnDisconnect registers the handler invoked when the transport
	// observes a spontaneous disconnect (i.e. not initiated by a
	// Disconnect call). The controller installs exactly one handler per
	// connect, removing any prior handler first.
	OnDisconnect(fn func(err error))
}

// Receiver is a stateful subscription sink obtained from a connected
// Transport via GetReceiver. The controller owns at most one live
// Receiver at a time and tears it down (removing every listener it
// attached) when interest in cloud-to-device data falls to zero.
type Receiver interface {
	// OnMessage registers the handler invoked for each inbound
	// cloud-to-device message.
	OnMessage(fn func(Message))

	// OnMethod registers the handler invoked for each inbound direct
	// method invocation.
	OnMethod(fn func(MethodRequest))

	// OnError registers the handler invoked when the receiver itself
	// fails (e.g. the underlying subscription drops).
	OnError(fn func(error))

	// Close detaches every listener the controller attached and
	// releases any resources held by the receiver.
	Close() error
}
