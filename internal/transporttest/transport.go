// Package transporttest provides testify/mock-based fakes of the
// Transport and Receiver ports (internal/ports), for exercising
// internal/session and internal/subscribe without a real hub
// connection, mirroring the stub*{ mock.Mock } style the teacher uses
// in internal/testharness/runner/coordinator_test.go.
package transporttest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/rtmaster/iothub/internal/ports"
)

// Transport is a mock.Mock-backed fake of ports.Transport. Tests arm
// expectations with .On(...) and configure Caps directly rather than
// through a mock call, since capability reporting is a pure value, not
// a behavior worth recording call expectations for.
type Transport struct {
	mock.Mock

	Caps ports.Capabilities

	onDisconnect func(error)
}

var _ ports.Transport = (*Transport)(nil)

func (t *Transport) Capabilities() ports.Capabilities { return t.Caps }

func (t *Transport) Connect(ctx context.Context) error {
	return t.Called(ctx).Error(0)
}

func (t *Transport) Disconnect(ctx context.Context) error {
	return t.Called(ctx).Error(0)
}

func (t *Transport) SendEvent(ctx context.Context, msg ports.Message) error {
	return t.Called(ctx, msg).Error(0)
}

func (t *Transport) SendEventBatch(ctx context.Context, msgs []ports.Message) error {
	return t.Called(ctx, msgs).Error(0)
}

func (t *Transport) Complete(ctx context.Context, msg ports.Message) error {
	return t.Called(ctx, msg).Error(0)
}

func (t *Transport) Reject(ctx context.Context, msg ports.Message) error {
	return t.Called(ctx, msg).Error(0)
}

func (t *Transport) Abandon(ctx context.Context, msg ports.Message) error {
	return t.Called(ctx, msg).Error(0)
}

func (t *Transport) UpdateCredential(ctx context.Context, signature string) (ports.CredentialUpdateResult, error) {
	ret := t.Called(ctx, signature)
	res, _ := ret.Get(0).(ports.CredentialUpdateResult)
	return res, ret.Error(1)
}

func (t *Transport) SetOptions(ctx context.Context, opts map[string]any) error {
	return t.Called(ctx, opts).Error(0)
}

func (t *Transport) GetReceiver(ctx context.Context) (ports.Receiver, error) {
	ret := t.Called(ctx)
	r, _ := ret.Get(0).(ports.Receiver)
	return r, ret.Error(1)
}

func (t *Transport) SendMethodResponse(ctx context.Context, resp ports.MethodResponse) error {
	return t.Called(ctx, resp).Error(0)
}

func (t *Transport) OnDisconnect(fn func(error)) {
	t.onDisconnect = fn
}

// FireDisconnect invokes whatever handler the controller last installed
// via OnDisconnect, simulating a spontaneous transport drop (spec.md
// §4.6 "Spontaneous disconnect"). No-op if none is installed.
func (t *Transport) FireDisconnect(err error) {
	if t.onDisconnect != nil {
		t.onDisconnect(err)
	}
}

// Receiver is a mock.Mock-backed fake of ports.Receiver.
type Receiver struct {
	mock.Mock

	onMessage func(ports.Message)
	onMethod  func(ports.MethodRequest)
	onError   func(error)
}

var _ ports.Receiver = (*Receiver)(nil)

func (r *Receiver) OnMessage(fn func(ports.Message))      { r.onMessage = fn }
func (r *Receiver) OnMethod(fn func(ports.MethodRequest))  { r.onMethod = fn }
func (r *Receiver) OnError(fn func(error))                 { r.onError = fn }

func (r *Receiver) Close() error {
	return r.Called().Error(0)
}

// FireMessage delivers msg to whatever handler the subscription manager
// installed via OnMessage. No-op if none is installed.
func (r *Receiver) FireMessage(msg ports.Message) {
	if r.onMessage != nil {
		r.onMessage(msg)
	}
}

// FireMethod delivers req to whatever handler was installed via
// OnMethod.
func (r *Receiver) FireMethod(req ports.MethodRequest) {
	if r.onMethod != nil {
		r.onMethod(req)
	}
}

// FireError delivers err to whatever handler was installed via OnError.
func (r *Receiver) FireError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}
