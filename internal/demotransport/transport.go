package demotransport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rtmaster/iothub/internal/ports"
)

// Transport is a loopback ports.Transport. It declares every optional
// capability so the CLI can exercise the full operation surface.
type Transport struct {
	mu       sync.Mutex
	receiver *receiver
	onDrop   func(error)
}

// New returns a disconnected demo transport.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Capabilities() ports.Capabilities {
	return ports.Capabilities{
		Connect:            true,
		Disconnect:         true,
		SendEvent:          true,
		SendEventBatch:     true,
		Settlement:         true,
		UpdateCredential:   true,
		SetOptions:         true,
		SendMethodResponse: true,
	}
}

func (t *Transport) Connect(ctx context.Context) error    { return nil }
func (t *Transport) Disconnect(ctx context.Context) error { return nil }

func (t *Transport) SendEvent(ctx context.Context, msg ports.Message) error {
	return nil
}

func (t *Transport) SendEventBatch(ctx context.Context, msgs []ports.Message) error {
	return nil
}

func (t *Transport) Complete(ctx context.Context, msg ports.Message) error { return nil }
func (t *Transport) Reject(ctx context.Context, msg ports.Message) error   { return nil }
func (t *Transport) Abandon(ctx context.Context, msg ports.Message) error  { return nil }

func (t *Transport) UpdateCredential(ctx context.Context, signature string) (ports.CredentialUpdateResult, error) {
	return ports.CredentialUpdateResult{NeedsReconnect: false}, nil
}

func (t *Transport) SetOptions(ctx context.Context, opts map[string]any) error { return nil }

func (t *Transport) GetReceiver(ctx context.Context) (ports.Receiver, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receiver == nil {
		t.receiver = newReceiver()
	}
	return t.receiver, nil
}

func (t *Transport) SendMethodResponse(ctx context.Context, resp ports.MethodResponse) error {
	return nil
}

func (t *Transport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	t.onDrop = fn
	t.mu.Unlock()
}

// Drop simulates a spontaneous disconnect, for exercising the shell's
// "drop" command.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	fn := t.onDrop
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Inject delivers a synthetic cloud-to-device message through whichever
// Receiver is currently active. No-op if no receiver has been obtained
// yet (nobody is listening).
func (t *Transport) Inject(body string) {
	t.mu.Lock()
	r := t.receiver
	t.mu.Unlock()
	if r == nil {
		return
	}
	r.deliverMessage(ports.Message{ID: uuid.NewString(), Body: []byte(body)})
}

// InjectMethod delivers a synthetic direct method invocation named
// name to the registered method handler. The handler's response goes to
// SendMethodResponse, which discards it. No-op if no receiver has been
// obtained yet.
func (t *Transport) InjectMethod(name, body string) {
	t.mu.Lock()
	r := t.receiver
	t.mu.Unlock()
	if r == nil {
		return
	}
	r.deliverMethod(ports.MethodRequest{RequestID: uuid.NewString(), Name: name, Body: []byte(body)})
}

type receiver struct {
	closed int32

	mu       sync.Mutex
	onMsg    func(ports.Message)
	onMethod func(ports.MethodRequest)
	onErr    func(error)
}

func newReceiver() *receiver { return &receiver{} }

func (r *receiver) OnMessage(fn func(ports.Message))      { r.mu.Lock(); r.onMsg = fn; r.mu.Unlock() }
func (r *receiver) OnMethod(fn func(ports.MethodRequest)) { r.mu.Lock(); r.onMethod = fn; r.mu.Unlock() }
func (r *receiver) OnError(fn func(error))                { r.mu.Lock(); r.onErr = fn; r.mu.Unlock() }

func (r *receiver) Close() error {
	atomic.StoreInt32(&r.closed, 1)
	r.mu.Lock()
	r.onMsg, r.onMethod, r.onErr = nil, nil, nil
	r.mu.Unlock()
	return nil
}

func (r *receiver) deliverMessage(msg ports.Message) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return
	}
	r.mu.Lock()
	fn := r.onMsg
	r.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (r *receiver) deliverMethod(req ports.MethodRequest) {
	if atomic.LoadInt32(&r.closed) == 1 {
		return
	}
	r.mu.Lock()
	fn := r.onMethod
	r.mu.Unlock()
	if fn != nil {
		fn(req)
	}
}

var _ ports.Transport = (*Transport)(nil)
var _ ports.Receiver = (*receiver)(nil)
