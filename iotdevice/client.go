package iotdevice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rtmaster/iothub/internal/deviceerr"
	"github.com/rtmaster/iothub/internal/devicelog"
	"github.com/rtmaster/iothub/internal/ports"
	"github.com/rtmaster/iothub/internal/renewal"
	"github.com/rtmaster/iothub/internal/sas"
	"github.com/rtmaster/iothub/internal/session"
	"github.com/rtmaster/iothub/internal/subscribe"
)

// ClientConfig configures a Client. The transport itself is passed to
// NewClient separately; every field here has a usable zero value or
// default.
type ClientConfig struct {
	Config

	// Logger receives session lifecycle events. A SlogAdapter wrapping
	// slog.Default() is installed when nil.
	Logger devicelog.Logger

	// TwinConstructor builds the twin handle for GetTwin. Nil means
	// GetTwin always fails with ErrUnsupportedOperation, since the twin
	// subsystem is an out-of-scope collaborator (spec.md §1).
	TwinConstructor TwinConstructor

	// BlobPeer receives blob uploads and credential refreshes. Nil means
	// UploadToBlob always fails with ErrUnsupportedOperation.
	BlobPeer BlobPeer
}

// Client is the controller facade (component C7): it surfaces the
// public operations, validates arguments, emits lifecycle events, and
// forwards everything else to the session state machine.
type Client struct {
	transport ports.Transport
	probe     ports.CapabilityProbe
	config    Config
	log       devicelog.Logger
	connID    string

	machine *session.Machine
	subs    *subscribe.Manager
	renewal *renewal.Timer

	twinCtor TwinConstructor
	blobPeer BlobPeer

	subMu       sync.Mutex
	messageSubs map[int]func(Message)
	nextSubID   int

	eventMu        sync.Mutex
	disconnectSubs map[int]func(err error)
	errorSubs      map[int]func(err error)
	nextEventSubID int

	twinMu sync.Mutex
	twin   Twin
}

// NewClient constructs a Client bound to transport. The returned Client
// starts in the disconnected state; call Open to connect.
func NewClient(transport ports.Transport, cfg ClientConfig) *Client {
	log := cfg.Logger
	if log == nil {
		log = devicelog.NewSlogAdapter(slog.Default())
	}
	connID := uuid.NewString()

	c := &Client{
		transport:      transport,
		probe:          ports.NewCapabilityProbe(transport),
		config:         cfg.Config,
		log:            log,
		connID:         connID,
		twinCtor:       cfg.TwinConstructor,
		blobPeer:       cfg.BlobPeer,
		messageSubs:    make(map[int]func(Message)),
		disconnectSubs: make(map[int]func(error)),
		errorSubs:      make(map[int]func(error)),
	}

	c.subs = subscribe.NewManager(transport, connID, log, c.deliverMessage)
	if c.config.SASRenewalInterval > 0 {
		c.renewal = renewal.NewTimer(c.config.SASRenewalInterval)
	} else {
		c.renewal = renewal.NewTimer(renewal.DefaultInterval)
	}
	c.renewal.OnFire(c.onRenewalFire)

	c.machine = session.New(transport, c.subs, log, session.Listener{
		OnTransition:        c.handleTransition,
		OnCredentialUpdated: c.handleCredentialUpdated,
		OnDisconnected:      c.handleDisconnected,
		OnError:             c.handleError,
		OnGetTwin:           c.resolveTwin,
		OnCredentialRefresh: c.handleCredentialRefresh,
	}, connID)

	return c
}

// --- lifecycle event plumbing ------------------------------------------

func (c *Client) handleTransition(state session.State) {
	if state == session.Connected && c.config.AutoRenew {
		c.renewal.Start()
	}
	if state == session.UpdatingSAS || state == session.Disconnecting || state == session.Disconnected {
		c.renewal.Stop()
	}
}

func (c *Client) handleCredentialUpdated() {
	c.twinMu.Lock()
	twin := c.twin
	c.twinMu.Unlock()
	if twin != nil {
		twin.OnCredentialUpdated()
	}
}

func (c *Client) handleDisconnected(err error) {
	c.eventMu.Lock()
	subs := make([]func(error), 0, len(c.disconnectSubs))
	for _, fn := range c.disconnectSubs {
		subs = append(subs, fn)
	}
	c.eventMu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (c *Client) handleError(err error) {
	c.eventMu.Lock()
	subs := make([]func(error), 0, len(c.errorSubs))
	for _, fn := range c.errorSubs {
		subs = append(subs, fn)
	}
	c.eventMu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

func (c *Client) handleCredentialRefresh(signature string) {
	if c.blobPeer != nil {
		c.blobPeer.OnCredentialRefresh(signature)
	}
}

func (c *Client) onRenewalFire() {
	if c.config.ConnectionString == "" {
		c.handleError(deviceerr.TransportError("credential-renewal", fmt.Errorf("no connection string configured for automatic renewal")))
		return
	}
	info, err := sas.ParseConnectionString(c.config.ConnectionString)
	if err != nil {
		c.handleError(deviceerr.TransportError("credential-renewal", err))
		return
	}
	lifetime := c.config.SASTokenLifetime
	if lifetime <= 0 {
		lifetime = renewal.DefaultLifetime
	}
	sig, err := sas.Mint(info.Resource(), info.SharedKey, lifetime, time.Now())
	if err != nil {
		c.handleError(deviceerr.TransportError("credential-renewal", err))
		return
	}
	cmd := &session.Command{Tag: session.TagUpdateCredential, Signature: sig}
	c.machine.Submit(cmd)
}

// deliverMessage fans an inbound message out to every OnMessage
// subscriber and logs it. Called from whatever goroutine the bound
// Receiver uses to emit messages, not necessarily the Machine worker.
func (c *Client) deliverMessage(msg ports.Message) {
	c.log.Log(devicelog.Event{
		ConnectionID: c.connID,
		Category:     devicelog.CategoryMessage,
		Message:      &devicelog.MessageEvent{Direction: devicelog.DirectionIn, Kind: "message", Size: len(msg.Body)},
	})
	c.subMu.Lock()
	subs := make([]func(Message), 0, len(c.messageSubs))
	for _, fn := range c.messageSubs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

// --- subscribe/unsubscribe for events -----------------------------------

// OnMessage registers fn to receive every inbound cloud-to-device
// message. The first subscriber triggers receiver attachment; the call
// returned unsubscribes and, when it was the last subscriber, releases
// message interest (tearing the receiver down if no method handlers
// remain), per the subscription manager's edge-triggered contract
// (spec.md §4.5).
func (c *Client) OnMessage(fn func(Message)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.messageSubs[id] = fn
	first := len(c.messageSubs) == 1
	c.subMu.Unlock()

	if first {
		c.machine.Submit(&session.Command{Tag: session.TagStartMessageReceiver})
	}

	return func() {
		c.subMu.Lock()
		_, existed := c.messageSubs[id]
		delete(c.messageSubs, id)
		last := existed && len(c.messageSubs) == 0
		c.subMu.Unlock()
		if last {
			c.machine.Submit(&session.Command{Tag: session.TagReleaseMessageInterest})
		}
	}
}

// OnDisconnect registers fn to be called on every spontaneous transport
// disconnect. Never called for a caller-initiated Close.
func (c *Client) OnDisconnect(fn func(err error)) (unsubscribe func()) {
	c.eventMu.Lock()
	id := c.nextEventSubID
	c.nextEventSubID++
	c.disconnectSubs[id] = fn
	c.eventMu.Unlock()
	return func() {
		c.eventMu.Lock()
		delete(c.disconnectSubs, id)
		c.eventMu.Unlock()
	}
}

// OnError registers fn to be called for lifecycle errors with no other
// sink: a self-triggered open failing on behalf of a fire-and-forget
// command, a failed automatic credential renewal, or a failed receiver
// attachment for OnMessage. Receiver error events are logged through
// the session Logger and are not delivered to fn.
func (c *Client) OnError(fn func(err error)) (unsubscribe func()) {
	c.eventMu.Lock()
	id := c.nextEventSubID
	c.nextEventSubID++
	c.errorSubs[id] = fn
	c.eventMu.Unlock()
	return func() {
		c.eventMu.Lock()
		delete(c.errorSubs, id)
		c.eventMu.Unlock()
	}
}

// --- blocking command submission ----------------------------------------

func (c *Client) submit(ctx context.Context, cmd *session.Command) (any, error) {
	cmd.Done = make(chan session.Result, 1)
	c.machine.Submit(cmd)
	select {
	case res := <-cmd.Done:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- public operations (spec.md §6) --------------------------------------

// Open establishes the session. Returns ValueConnected on success.
func (c *Client) Open(ctx context.Context) (string, error) {
	v, err := c.submit(ctx, &session.Command{Tag: session.TagOpen})
	return asString(v), err
}

// Close tears the session down. Idempotent: calling it while already
// disconnected completes immediately without touching the transport.
func (c *Client) Close(ctx context.Context) (string, error) {
	v, err := c.submit(ctx, &session.Command{Tag: session.TagClose})
	return asString(v), err
}

// SendEvent submits a single telemetry message.
func (c *Client) SendEvent(ctx context.Context, msg Message) (string, error) {
	v, err := c.submit(ctx, &session.Command{Tag: session.TagSendEvent, Message: msg})
	return asString(v), err
}

// SendEventBatch submits multiple telemetry messages as one batch.
func (c *Client) SendEventBatch(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", deviceerr.MissingArgument("send-event-batch", "messages")
	}
	v, err := c.submit(ctx, &session.Command{Tag: session.TagSendEventBatch, Messages: msgs})
	return asString(v), err
}

// Complete acknowledges msg as successfully processed.
func (c *Client) Complete(ctx context.Context, msg Message) (SettlementResult, error) {
	return c.settle(ctx, session.TagComplete, msg)
}

// Reject acknowledges msg as permanently undeliverable.
func (c *Client) Reject(ctx context.Context, msg Message) (SettlementResult, error) {
	return c.settle(ctx, session.TagReject, msg)
}

// Abandon releases msg back to the hub for redelivery.
func (c *Client) Abandon(ctx context.Context, msg Message) (SettlementResult, error) {
	return c.settle(ctx, session.TagAbandon, msg)
}

func (c *Client) settle(ctx context.Context, tag session.Tag, msg Message) (SettlementResult, error) {
	if msg.ID == "" {
		return SettlementResult{}, deviceerr.MissingArgument(tag.String(), "message")
	}
	v, err := c.submit(ctx, &session.Command{Tag: tag, Message: msg})
	if err != nil {
		return SettlementResult{}, err
	}
	res, _ := v.(SettlementResult)
	return res, nil
}

// OnDeviceMethod registers handler for direct method invocations named
// name. Validation (missing name/handler, transport lacking
// method-response support, duplicate registration) happens before or
// during registration and is returned directly, not through a
// completion sink — programmer errors, per spec.md §7.
func (c *Client) OnDeviceMethod(ctx context.Context, name string, handler MethodHandler) error {
	if name == "" {
		return deviceerr.MissingArgument("on-device-method", "name")
	}
	if handler == nil {
		return deviceerr.MissingArgument("on-device-method", "handler")
	}
	if !c.probe.SupportsSendMethodResponse() {
		return deviceerr.UnsupportedOperation("on-device-method")
	}
	_, err := c.submit(ctx, &session.Command{Tag: session.TagStartMethodReceiver, MethodName: name, Handler: handler})
	return err
}

// UpdateCredential rotates the signature used for authentication. Under
// x509 auth this fails synchronously with ErrIncompatibleAuth, since
// x509 credentials are not signatures the client mints (spec.md §3).
func (c *Client) UpdateCredential(ctx context.Context, signature string) (SASUpdated, error) {
	if signature == "" {
		return SASUpdated{}, deviceerr.MissingArgument("update-credential", "signature")
	}
	if c.config.AuthMode == AuthX509 {
		return SASUpdated{}, deviceerr.IncompatibleAuth("update-credential")
	}
	v, err := c.submit(ctx, &session.Command{Tag: session.TagUpdateCredential, Signature: signature})
	if err != nil {
		return SASUpdated{}, err
	}
	res, _ := v.(SASUpdated)
	return res, nil
}

// SetOptions applies transport-specific configuration.
func (c *Client) SetOptions(ctx context.Context, opts map[string]any) (string, error) {
	v, err := c.submit(ctx, &session.Command{Tag: session.TagSetOptions, Options: opts})
	return asString(v), err
}

// SetTransportOptions is an alias for SetOptions, matching the two
// names spec.md §6 lists for the same operation.
func (c *Client) SetTransportOptions(ctx context.Context, opts map[string]any) (string, error) {
	return c.SetOptions(ctx, opts)
}

// GetTwin acquires the device-twin handle, delegating construction to
// the configured TwinConstructor. override, when non-nil, is passed
// through verbatim instead of constructing a new twin.
func (c *Client) GetTwin(ctx context.Context, override any) (Twin, error) {
	v, err := c.submit(ctx, &session.Command{Tag: session.TagGetTwin, TwinOverride: override})
	if err != nil {
		return nil, err
	}
	twin, _ := v.(Twin)
	return twin, nil
}

func (c *Client) resolveTwin(ctx context.Context, override any) (any, error) {
	if override != nil {
		if t, ok := override.(Twin); ok {
			c.twinMu.Lock()
			c.twin = t
			c.twinMu.Unlock()
			return t, nil
		}
		return nil, deviceerr.WrongType("get-twin", "override is not a Twin")
	}
	if c.twinCtor == nil {
		return nil, deviceerr.UnsupportedOperation("get-twin")
	}
	twin, err := c.twinCtor(ctx, c)
	if err != nil {
		return nil, err
	}
	c.twinMu.Lock()
	c.twin = twin
	c.twinMu.Unlock()
	return twin, nil
}

// UploadToBlob delegates to the configured BlobPeer, a collaborator
// outside the core's scope (spec.md §1).
func (c *Client) UploadToBlob(ctx context.Context, blobName string, stream io.Reader, length int64) error {
	if blobName == "" {
		return deviceerr.MissingArgument("upload-to-blob", "blob-name")
	}
	if stream == nil {
		return deviceerr.MissingArgument("upload-to-blob", "stream")
	}
	if length <= 0 {
		return deviceerr.MissingArgument("upload-to-blob", "length")
	}
	if c.blobPeer == nil {
		return deviceerr.UnsupportedOperation("upload-to-blob")
	}
	return c.blobPeer.UploadToBlob(ctx, blobName, stream, length)
}

// State returns the current session state, named after the internal
// "_<state>" pseudo-event the facade would otherwise only push.
func (c *Client) State() State { return c.machine.State() }

func asString(v any) string {
	s, _ := v.(string)
	return s
}
