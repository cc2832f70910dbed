package iotdevice

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rtmaster/iothub/internal/deviceerr"
	"github.com/rtmaster/iothub/internal/ports"
	"github.com/rtmaster/iothub/internal/renewal"
	"github.com/rtmaster/iothub/internal/transporttest"
)

func TestClientOpenAndClose(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true, Disconnect: true}
	tr.On("Connect", context.Background()).Return(nil)
	tr.On("Disconnect", context.Background()).Return(nil)

	c := NewClient(tr, ClientConfig{})
	assert.Equal(t, Disconnected, c.State())

	v, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "connected", v)
	assert.Equal(t, Connected, c.State())

	v, err = c.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "disconnected", v)
	assert.Equal(t, Disconnected, c.State())
}

func TestClientCloseStopsRenewalTimerBeforeTransportSettles(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true, Disconnect: true}
	tr.On("Connect", context.Background()).Return(nil)

	gate := make(chan struct{})
	observed := make(chan renewal.State, 1)
	tr.On("Disconnect", context.Background()).Run(func(args mock.Arguments) {
		<-gate
	}).Return(nil)

	c := NewClient(tr, ClientConfig{Config: Config{AutoRenew: true, SASRenewalInterval: time.Hour}})
	_, err := c.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, renewal.StateRunning, c.renewal.State())

	go func() {
		_, _ = c.Close(context.Background())
	}()

	// Wait for Close to reach Disconnecting before inspecting the timer:
	// State() is a synchronous round-trip through the machine's single
	// worker, so once it reports Disconnecting the renewal timer has
	// already been stopped by handleTransition.
	require.Eventually(t, func() bool {
		return c.State() == Disconnecting
	}, time.Second, time.Millisecond)
	observed <- c.renewal.State()
	close(gate)

	require.Equal(t, renewal.StateStopped, <-observed)
}

func TestClientSendEventBatchRejectsEmptySlice(t *testing.T) {
	tr := new(transporttest.Transport)
	c := NewClient(tr, ClientConfig{})

	_, err := c.SendEventBatch(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestClientSettleRequiresMessageID(t *testing.T) {
	tr := new(transporttest.Transport)
	c := NewClient(tr, ClientConfig{})

	_, err := c.Complete(context.Background(), Message{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestClientSettleForwardsToTransport(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true, Settlement: true}
	tr.On("Connect", context.Background()).Return(nil)
	msg := Message{ID: "m1"}
	tr.On("Complete", context.Background(), msg).Return(nil)

	c := NewClient(tr, ClientConfig{})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	res, err := c.Complete(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "completed", res.Action)
}

func TestClientUpdateCredentialRequiresSignature(t *testing.T) {
	tr := new(transporttest.Transport)
	c := NewClient(tr, ClientConfig{})

	_, err := c.UpdateCredential(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestClientUpdateCredentialRejectedUnderX509(t *testing.T) {
	tr := new(transporttest.Transport)
	c := NewClient(tr, ClientConfig{Config: Config{AuthMode: AuthX509}})

	_, err := c.UpdateCredential(context.Background(), "sig")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleAuth)
	tr.AssertNotCalled(t, "UpdateCredential", mock.Anything, mock.Anything)
}

func TestClientUpdateCredentialForwardsToTransport(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{UpdateCredential: true}
	tr.On("UpdateCredential", context.Background(), "sig-1").
		Return(ports.CredentialUpdateResult{}, nil)

	c := NewClient(tr, ClientConfig{})
	res, err := c.UpdateCredential(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.False(t, res.Reconnected)
}

func TestClientOnDeviceMethodValidation(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{SendMethodResponse: true}
	c := NewClient(tr, ClientConfig{})

	err := c.OnDeviceMethod(context.Background(), "", func(context.Context, MethodRequest) (MethodResponse, error) {
		return MethodResponse{}, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArgument)

	err = c.OnDeviceMethod(context.Background(), "reboot", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestClientOnDeviceMethodRequiresTransportSupport(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{} // SendMethodResponse unsupported
	c := NewClient(tr, ClientConfig{})

	err := c.OnDeviceMethod(context.Background(), "reboot", func(context.Context, MethodRequest) (MethodResponse, error) {
		return MethodResponse{}, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestClientOnDeviceMethodRegistersAndDispatches(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true, SendMethodResponse: true}
	tr.On("Connect", context.Background()).Return(nil)
	rcv := new(transporttest.Receiver)
	tr.On("GetReceiver", context.Background()).Return(rcv, nil)
	tr.On("SendMethodResponse", context.Background(), MethodResponse{RequestID: "r1", Status: 200, Body: []byte("ok")}).Return(nil)

	c := NewClient(tr, ClientConfig{})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	var invoked bool
	err = c.OnDeviceMethod(context.Background(), "reboot", func(ctx context.Context, req MethodRequest) (MethodResponse, error) {
		invoked = true
		return MethodResponse{RequestID: req.RequestID, Status: 200, Body: []byte("ok")}, nil
	})
	require.NoError(t, err)

	rcv.FireMethod(MethodRequest{RequestID: "r1", Name: "reboot"})
	assert.True(t, invoked)
}

func TestClientOnMessageSubscribeUnsubscribeTogglesInterest(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true}
	tr.On("Connect", context.Background()).Return(nil)
	rcv := new(transporttest.Receiver)
	tr.On("GetReceiver", context.Background()).Return(rcv, nil)
	rcv.On("Close").Return(nil)

	c := NewClient(tr, ClientConfig{})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	var received []Message
	unsub := c.OnMessage(func(msg Message) { received = append(received, msg) })

	// StartMessageReceiver is submitted fire-and-forget; State() blocks on
	// a worker round-trip, so by the time it returns the earlier
	// submission (same FIFO action channel) has already been dispatched
	// and the receiver callback is wired.
	require.Equal(t, Connected, c.State())
	rcv.FireMessage(Message{ID: "m1", Body: []byte("hi")})
	assert.Len(t, received, 1)

	unsub()
	// ReleaseMessageInterest tears the receiver down synchronously within
	// the same dispatch; a State() round-trip guarantees it has happened
	// by the time this returns (same FIFO action channel).
	require.Equal(t, Connected, c.State())
	rcv.AssertCalled(t, "Close")
}

type stubTwin struct {
	updated int
}

func (s *stubTwin) OnCredentialUpdated() { s.updated++ }

func TestClientGetTwinWithConstructor(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true}
	tr.On("Connect", context.Background()).Return(nil)

	built := &stubTwin{}
	c := NewClient(tr, ClientConfig{
		TwinConstructor: func(ctx context.Context, c *Client) (Twin, error) { return built, nil },
	})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	twin, err := c.GetTwin(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, built, twin)
}

func TestClientGetTwinWithoutConstructorIsUnsupported(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true}
	tr.On("Connect", context.Background()).Return(nil)

	c := NewClient(tr, ClientConfig{})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	_, err = c.GetTwin(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestClientGetTwinWithOverrideMustBeATwin(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true}
	tr.On("Connect", context.Background()).Return(nil)

	c := NewClient(tr, ClientConfig{})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	_, err = c.GetTwin(context.Background(), "not-a-twin")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestClientCredentialUpdateNotifiesOpenTwin(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true, UpdateCredential: true}
	tr.On("Connect", context.Background()).Return(nil)
	tr.On("UpdateCredential", context.Background(), "sig-1").
		Return(ports.CredentialUpdateResult{}, nil)

	twin := &stubTwin{}
	c := NewClient(tr, ClientConfig{
		TwinConstructor: func(ctx context.Context, c *Client) (Twin, error) { return twin, nil },
	})
	_, err := c.Open(context.Background())
	require.NoError(t, err)
	_, err = c.GetTwin(context.Background(), nil)
	require.NoError(t, err)

	_, err = c.UpdateCredential(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, 1, twin.updated)
}

type stubBlobPeer struct {
	uploaded  string
	refreshed string
}

func (s *stubBlobPeer) UploadToBlob(ctx context.Context, blobName string, stream io.Reader, length int64) error {
	s.uploaded = blobName
	return nil
}

func (s *stubBlobPeer) OnCredentialRefresh(signature string) { s.refreshed = signature }

func TestClientUploadToBlobValidation(t *testing.T) {
	tr := new(transporttest.Transport)
	c := NewClient(tr, ClientConfig{})

	err := c.UploadToBlob(context.Background(), "", nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestClientUploadToBlobWithoutPeerIsUnsupported(t *testing.T) {
	tr := new(transporttest.Transport)
	c := NewClient(tr, ClientConfig{})

	err := c.UploadToBlob(context.Background(), "blob", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestClientUploadToBlobDelegatesToPeer(t *testing.T) {
	tr := new(transporttest.Transport)
	peer := &stubBlobPeer{}
	c := NewClient(tr, ClientConfig{BlobPeer: peer})

	err := c.UploadToBlob(context.Background(), "firmware.bin", strings.NewReader("x"), 1)
	require.NoError(t, err)
	assert.Equal(t, "firmware.bin", peer.uploaded)
}

func TestClientSubmitReturnsOnContextCancellation(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true}
	gate := make(chan struct{})
	tr.On("Connect", context.Background()).Run(func(args mock.Arguments) {
		<-gate
	}).Return(nil)
	defer close(gate)

	c := NewClient(tr, ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Open(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientUnsupportedOperationSurfacesUnsupportedKind(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true}
	tr.On("Connect", context.Background()).Return(nil)

	c := NewClient(tr, ClientConfig{})
	_, err := c.Open(context.Background())
	require.NoError(t, err)

	_, err = c.SendEvent(context.Background(), Message{Body: []byte("x")})
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindUnsupportedOperation, derr.Kind)
}

func TestClientOpenFailurePropagatesTransportError(t *testing.T) {
	tr := new(transporttest.Transport)
	tr.Caps = ports.Capabilities{Connect: true}
	tr.On("Connect", context.Background()).Return(errors.New("dial failed"))

	c := NewClient(tr, ClientConfig{})
	_, err := c.Open(context.Background())
	require.Error(t, err)
	var derr *deviceerr.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, deviceerr.KindTransport, derr.Kind)
}
