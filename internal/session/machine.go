package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rtmaster/iothub/internal/deviceerr"
	"github.com/rtmaster/iothub/internal/devicelog"
	"github.com/rtmaster/iothub/internal/ports"
)

// Listener receives lifecycle notifications from a Machine. All
// callbacks except OnGetTwin are called from the Machine's worker
// goroutine and must not block; OnGetTwin runs on a goroutine of its own.
type Listener struct {
	// OnTransition fires on every state change, including the internal
	// "_<state>" pseudo-events the facade re-publishes to callers.
	OnTransition func(State)

	// OnCredentialUpdated fires once a rotation (with or without a
	// reconnect) has settled.
	OnCredentialUpdated func()

	// OnDisconnected fires only for a spontaneous transport drop, never
	// for a caller-initiated close.
	OnDisconnected func(err error)

	// OnError reports a lifecycle error that has no other sink: a
	// self-triggered open failing on behalf of a fire-and-forget command,
	// or a fire-and-forget command (such as a timer-driven credential
	// update) failing. Receiver errors do not reach it; the subscription
	// manager only logs them.
	OnError func(err error)

	// OnGetTwin delegates get-twin acquisition to the twin module; set by
	// the controller facade since the Machine does not know the Twin
	// type. override is whatever the caller passed to GetTwin, or nil.
	OnGetTwin func(ctx context.Context, override any) (any, error)

	// OnCredentialRefresh propagates a freshly minted signature ahead of
	// the transport call that consumes it. The facade forwards it to the
	// blob-upload peer only; an open twin handle is not given the
	// signature and is notified through OnCredentialUpdated after a
	// successful rotation.
	OnCredentialRefresh func(signature string)
}

// Machine is the session state machine (component C6). It owns a single
// worker goroutine that is the sole mutator of state, queue and gen, so
// no mutex guards them; everything else reaches the Machine by posting a
// closure onto actions.
type Machine struct {
	transport ports.Transport
	probe     ports.CapabilityProbe
	subs      subscribeManager
	log       devicelog.Logger
	listener  Listener
	connID    string

	actions chan func()
	done    chan struct{}

	// Touched only by the worker goroutine.
	state           State
	prevState       State
	queue           []*Command
	selfOpenPending bool
	gen             int
}

// subscribeManager is the slice of internal/subscribe.Manager the
// Machine drives. Declared as an interface here to avoid a dependency
// from internal/session onto internal/subscribe's concrete type; the
// facade wires the real implementation in.
type subscribeManager interface {
	AddMessageListener()
	RemoveMessageListener()
	EnsureMessageInterest() error
	ReleaseMessageInterest()
	RegisterMethodHandler(name string, h ports.MethodHandler) error
	Reconcile() error
	Teardown()
}

// New constructs a Machine bound to transport and starts its worker
// goroutine. connID correlates this Machine's log events with those of
// the subscribe.Manager sharing the same connection; pass the same
// value to both. Stop must be called to release it.
func New(transport ports.Transport, subs subscribeManager, log devicelog.Logger, listener Listener, connID string) *Machine {
	if log == nil {
		log = devicelog.Noop()
	}
	if connID == "" {
		connID = uuid.NewString()
	}
	m := &Machine{
		transport: transport,
		probe:     ports.NewCapabilityProbe(transport),
		subs:      subs,
		log:       log,
		listener:  listener,
		connID:    connID,
		actions:   make(chan func(), 256),
		done:      make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Machine) run() {
	for {
		select {
		case action := <-m.actions:
			action()
		case <-m.done:
			return
		}
	}
}

// Stop terminates the worker goroutine. Pending commands are not
// drained; the caller is responsible for having settled them.
func (m *Machine) Stop() {
	close(m.done)
}

// Submit enqueues a command for processing on the worker goroutine. It
// does not block on the command's completion.
func (m *Machine) Submit(cmd *Command) {
	m.actions <- func() { m.dispatch(cmd) }
}

// State returns the current state. Safe to call from any goroutine; the
// read itself is posted onto the worker so it never races the mutator.
func (m *Machine) State() State {
	result := make(chan State, 1)
	m.actions <- func() { result <- m.state }
	return <-result
}

func (m *Machine) notifyTransition() {
	m.log.Log(devicelog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Category:     devicelog.CategoryState,
		StateChange:  &devicelog.StateChangeEvent{OldState: m.prevState.String(), NewState: m.state.String()},
	})
	m.prevState = m.state
	if m.listener.OnTransition != nil {
		m.listener.OnTransition(m.state)
	}
}

func (m *Machine) beginAsyncTransition() int {
	m.gen++
	return m.gen
}

func (m *Machine) stale(gen int) bool { return gen != m.gen }

// post schedules fn to run on the worker goroutine from an arbitrary
// goroutine, typically a transport callback's completion.
func (m *Machine) post(fn func()) { m.actions <- fn }

// --- dispatch -------------------------------------------------------

func (m *Machine) dispatch(cmd *Command) {
	if !cmd.interestCounted {
		switch cmd.Tag {
		case TagStartMessageReceiver:
			m.subs.AddMessageListener()
			cmd.interestCounted = true
		case TagReleaseMessageInterest:
			m.subs.RemoveMessageListener()
			cmd.interestCounted = true
		}
	}
	switch m.state {
	case Disconnected:
		m.dispatchDisconnected(cmd)
	case Connecting:
		if cmd.Tag == TagClose {
			m.beginCloseFromTransient(cmd)
			return
		}
		m.deferCmd(cmd)
	case Connected:
		m.dispatchConnected(cmd)
	case Disconnecting:
		m.deferCmd(cmd)
	case UpdatingSAS:
		if cmd.Tag == TagClose {
			m.beginCloseFromTransient(cmd)
			return
		}
		m.deferCmd(cmd)
	}
}

func (m *Machine) deferCmd(cmd *Command) {
	m.queue = append(m.queue, cmd)
}

func (m *Machine) dispatchDisconnected(cmd *Command) {
	switch cmd.Tag {
	case TagOpen:
		m.beginOpen(cmd)
	case TagClose:
		complete(cmd, Result{Value: ValueDisconnected})
	case TagUpdateCredential:
		m.forwardCredentialNoStateChange(cmd)
	case TagReleaseMessageInterest:
		// nothing to release; no receiver exists while disconnected.
	default:
		m.deferCmd(cmd)
		m.triggerSelfOpenIfNeeded()
	}
}

func (m *Machine) triggerSelfOpenIfNeeded() {
	if m.selfOpenPending || m.state != Disconnected {
		return
	}
	m.selfOpenPending = true
	m.beginOpen(nil)
}

func (m *Machine) dispatchConnected(cmd *Command) {
	switch cmd.Tag {
	case TagOpen:
		complete(cmd, Result{Value: ValueConnected})
	case TagClose:
		m.beginClose(cmd)
	case TagSendEvent:
		m.forwardTransportOp(cmd, m.probe.SupportsSendEvent(), func(ctx context.Context) error {
			return m.transport.SendEvent(ctx, cmd.Message)
		}, ValueMessageEnqueued)
	case TagSendEventBatch:
		m.forwardTransportOp(cmd, m.probe.SupportsSendEventBatch(), func(ctx context.Context) error {
			return m.transport.SendEventBatch(ctx, cmd.Messages)
		}, ValueMessageEnqueued)
	case TagComplete:
		m.forwardTransportOp(cmd, m.probe.SupportsSettlement(), func(ctx context.Context) error {
			return m.transport.Complete(ctx, cmd.Message)
		}, SettlementResult{Action: "completed"})
	case TagReject:
		m.forwardTransportOp(cmd, m.probe.SupportsSettlement(), func(ctx context.Context) error {
			return m.transport.Reject(ctx, cmd.Message)
		}, SettlementResult{Action: "rejected"})
	case TagAbandon:
		m.forwardTransportOp(cmd, m.probe.SupportsSettlement(), func(ctx context.Context) error {
			return m.transport.Abandon(ctx, cmd.Message)
		}, SettlementResult{Action: "abandoned"})
	case TagSetOptions:
		m.forwardTransportOp(cmd, m.probe.SupportsSetOptions(), func(ctx context.Context) error {
			return m.transport.SetOptions(ctx, cmd.Options)
		}, ValueTransportConfigured)
	case TagUpdateCredential:
		m.beginCredentialUpdate(cmd)
	case TagStartMessageReceiver:
		err := m.subs.EnsureMessageInterest()
		if err != nil {
			m.reportError(cmd, "start-message-receiver", err)
			return
		}
		complete(cmd, Result{})
	case TagReleaseMessageInterest:
		m.subs.ReleaseMessageInterest()
	case TagStartMethodReceiver:
		err := m.subs.RegisterMethodHandler(cmd.MethodName, cmd.Handler)
		if err != nil {
			m.reportError(cmd, "start-method-receiver", err)
			return
		}
		complete(cmd, Result{})
	case TagGetTwin:
		m.beginGetTwin(cmd)
	}
}

// reportError completes cmd if it has a sink, otherwise surfaces the
// failure as a lifecycle error with no subscriber guaranteed.
func (m *Machine) reportError(cmd *Command, op string, err error) {
	wrapped := deviceerr.TransportError(op, err)
	if cmd != nil && cmd.Done != nil {
		complete(cmd, Result{Err: wrapped})
		return
	}
	if m.listener.OnError != nil {
		m.listener.OnError(wrapped)
	}
}

func (m *Machine) forwardTransportOp(cmd *Command, supported bool, op func(context.Context) error, okValue any) {
	if !supported {
		complete(cmd, Result{Err: deviceerr.UnsupportedOperation(cmd.Tag.String())})
		return
	}
	size := len(cmd.Message.Body)
	go func() {
		err := op(context.Background())
		m.post(func() {
			if err != nil {
				complete(cmd, Result{Err: deviceerr.TransportError(cmd.Tag.String(), err)})
				return
			}
			m.log.Log(devicelog.Event{
				Timestamp:    time.Now(),
				ConnectionID: m.connID,
				Category:     devicelog.CategoryMessage,
				Message:      &devicelog.MessageEvent{Direction: devicelog.DirectionOut, Kind: cmd.Tag.String(), Size: size},
			})
			complete(cmd, Result{Value: okValue})
		})
	}()
}

func (m *Machine) forwardCredentialNoStateChange(cmd *Command) {
	if !m.probe.SupportsUpdateCredential() {
		complete(cmd, Result{Err: deviceerr.UnsupportedOperation("update-credential")})
		return
	}
	if m.listener.OnCredentialRefresh != nil {
		m.listener.OnCredentialRefresh(cmd.Signature)
	}
	go func() {
		_, err := m.transport.UpdateCredential(context.Background(), cmd.Signature)
		m.post(func() {
			if err != nil {
				m.reportError(cmd, "update-credential", err)
				return
			}
			complete(cmd, Result{Value: SASUpdated{Reconnected: false}})
		})
	}()
}

// --- open -------------------------------------------------------------

func (m *Machine) beginOpen(cmd *Command) {
	m.state = Connecting
	m.notifyTransition()
	gen := m.beginAsyncTransition()
	if !m.probe.SupportsConnect() {
		m.finishOpen(cmd, gen, nil)
		return
	}
	go func() {
		err := m.transport.Connect(context.Background())
		m.post(func() { m.finishOpen(cmd, gen, err) })
	}()
}

func (m *Machine) finishOpen(cmd *Command, gen int, err error) {
	m.selfOpenPending = false
	if m.stale(gen) {
		// Superseded by a close (or another transition) issued while the
		// connect attempt was outstanding; deliver the raw transport
		// outcome to the original caller without touching current state.
		if err != nil {
			complete(cmd, Result{Err: deviceerr.TransportError("open", err)})
		} else {
			complete(cmd, Result{Value: ValueConnected})
		}
		return
	}
	if err != nil {
		m.state = Disconnected
		m.notifyTransition()
		complete(cmd, Result{Err: deviceerr.TransportError("open", err)})
		m.failQueueAfterTriggerFailure(deviceerr.TransportError("open", err))
		return
	}
	m.state = Connected
	m.notifyTransition()
	m.transport.OnDisconnect(func(derr error) { m.post(func() { m.handleSpontaneousDisconnect(derr) }) })
	m.onEnterConnected()
	complete(cmd, Result{Value: ValueConnected})
	m.drainQueue()
}

// failQueueAfterTriggerFailure resolves every command that was waiting on
// a self-triggered open without re-dispatching them, since re-dispatch
// against Disconnected would immediately retrigger another open and
// loop forever. See DESIGN.md on spec.md §9's self-open failure question.
func (m *Machine) failQueueAfterTriggerFailure(err error) {
	pending := m.queue
	m.queue = nil
	reported := false
	for _, cmd := range pending {
		if cmd.Done != nil {
			complete(cmd, Result{Err: err})
			continue
		}
		if !reported && m.listener.OnError != nil {
			m.listener.OnError(err)
			reported = true
		}
	}
}

func (m *Machine) drainQueue() {
	pending := m.queue
	m.queue = nil
	for _, cmd := range pending {
		m.dispatch(cmd)
	}
}

// --- close --------------------------------------------------------------

func (m *Machine) beginClose(cmd *Command) {
	m.onExitConnected()
	m.state = Disconnecting
	m.notifyTransition()
	gen := m.beginAsyncTransition()
	if !m.probe.SupportsDisconnect() {
		m.finishClose(cmd, gen, nil)
		return
	}
	go func() {
		err := m.transport.Disconnect(context.Background())
		m.post(func() { m.finishClose(cmd, gen, err) })
	}()
}

// beginCloseFromTransient handles close arriving while Connecting or
// UpdatingSAS: spec.md §4.6 gives close its own disposition in both
// states rather than deferring it like every other command.
func (m *Machine) beginCloseFromTransient(cmd *Command) {
	m.state = Disconnecting
	m.notifyTransition()
	gen := m.beginAsyncTransition()
	if !m.probe.SupportsDisconnect() {
		m.finishClose(cmd, gen, nil)
		return
	}
	go func() {
		err := m.transport.Disconnect(context.Background())
		m.post(func() { m.finishClose(cmd, gen, err) })
	}()
}

func (m *Machine) finishClose(cmd *Command, gen int, err error) {
	if m.stale(gen) {
		if err != nil {
			complete(cmd, Result{Err: deviceerr.TransportError("close", err)})
		} else {
			complete(cmd, Result{Value: ValueDisconnected})
		}
		return
	}
	m.state = Disconnected
	m.notifyTransition()
	if err != nil {
		complete(cmd, Result{Err: deviceerr.TransportError("close", err)})
	} else {
		complete(cmd, Result{Value: ValueDisconnected})
	}
	m.drainQueue()
}

// --- credential rotation --------------------------------------------

func (m *Machine) beginCredentialUpdate(cmd *Command) {
	if !m.probe.SupportsUpdateCredential() {
		complete(cmd, Result{Err: deviceerr.UnsupportedOperation("update-credential")})
		return
	}
	m.onExitConnected()
	if m.listener.OnCredentialRefresh != nil {
		m.listener.OnCredentialRefresh(cmd.Signature)
	}
	m.state = UpdatingSAS
	m.notifyTransition()
	gen := m.beginAsyncTransition()
	go func() {
		res, err := m.transport.UpdateCredential(context.Background(), cmd.Signature)
		m.post(func() { m.finishCredentialUpdate(cmd, gen, res, err) })
	}()
}

func (m *Machine) finishCredentialUpdate(cmd *Command, gen int, res ports.CredentialUpdateResult, err error) {
	if m.stale(gen) {
		if err != nil {
			complete(cmd, Result{Err: deviceerr.TransportError("update-credential", err)})
		} else {
			complete(cmd, Result{Value: SASUpdated{Reconnected: false}})
		}
		return
	}
	if err != nil {
		m.state = Disconnected
		m.notifyTransition()
		m.reportError(cmd, "update-credential", err)
		return
	}
	if !res.NeedsReconnect {
		m.state = Connected
		m.notifyTransition()
		m.onEnterConnected()
		m.logCredentialUpdated()
		if m.listener.OnCredentialUpdated != nil {
			m.listener.OnCredentialUpdated()
		}
		complete(cmd, Result{Value: SASUpdated{Reconnected: false}})
		m.drainQueue()
		return
	}
	m.state = Connecting
	m.notifyTransition()
	reconnectGen := m.beginAsyncTransition()
	go func() {
		cerr := m.transport.Connect(context.Background())
		m.post(func() { m.finishReconnectAfterRotation(cmd, reconnectGen, cerr) })
	}()
}

func (m *Machine) finishReconnectAfterRotation(cmd *Command, gen int, err error) {
	if m.stale(gen) {
		if err != nil {
			complete(cmd, Result{Err: deviceerr.TransportError("update-credential", err)})
		} else {
			complete(cmd, Result{Value: SASUpdated{Reconnected: false}})
		}
		return
	}
	if err != nil {
		m.state = Disconnected
		m.notifyTransition()
		m.reportError(cmd, "update-credential", err)
		return
	}
	m.state = Connected
	m.notifyTransition()
	m.transport.OnDisconnect(func(derr error) { m.post(func() { m.handleSpontaneousDisconnect(derr) }) })
	m.onEnterConnected()
	m.logCredentialUpdated()
	if m.listener.OnCredentialUpdated != nil {
		m.listener.OnCredentialUpdated()
	}
	complete(cmd, Result{Value: SASUpdated{Reconnected: false}})
	m.drainQueue()
}

func (m *Machine) logCredentialUpdated() {
	m.log.Log(devicelog.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Category:     devicelog.CategoryCredential,
		Credential:   &devicelog.CredentialEvent{Reconnected: false},
	})
}

// --- get-twin ---------------------------------------------------------

func (m *Machine) beginGetTwin(cmd *Command) {
	if m.listener.OnGetTwin == nil {
		complete(cmd, Result{Err: deviceerr.UnsupportedOperation("get-twin")})
		return
	}
	go func() {
		twin, err := m.listener.OnGetTwin(context.Background(), cmd.TwinOverride)
		m.post(func() {
			if err != nil {
				complete(cmd, Result{Err: deviceerr.TransportError("get-twin", err)})
				return
			}
			complete(cmd, Result{Value: twin})
		})
	}()
}

// --- entry/exit hooks for Connected, and spontaneous disconnect -------

func (m *Machine) onEnterConnected() {
	if err := m.subs.Reconcile(); err != nil {
		m.log.Log(devicelog.Event{
			Timestamp:    time.Now(),
			ConnectionID: m.connID,
			Category:     devicelog.CategoryError,
			Error:        &devicelog.ErrorEvent{Op: "reconcile-receiver", Message: err.Error()},
		})
	}
}

func (m *Machine) onExitConnected() {
	m.subs.Teardown()
}

func (m *Machine) handleSpontaneousDisconnect(err error) {
	if m.state != Connected {
		// Transport fired a stale disconnect notification after we had
		// already moved on (e.g. a caller-initiated close raced it).
		return
	}
	m.onExitConnected()
	m.state = Disconnected
	m.notifyTransition()
	if m.listener.OnDisconnected != nil {
		m.listener.OnDisconnected(err)
	}
	m.drainQueue()
}
