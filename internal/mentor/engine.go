package mentor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

// State of the current exchange.
type State string

const (
	StateIdle            State = "idle"
	StateSessionEnsured  State = "session_ensured"
	StateSending         State = "sending"
	StateStreamingTokens State = "streaming_tokens"
	StateSettled         State = "settled"
)

// Transport reaches the mentor backend. Closing the body returned by Send must
// abort the underlying request.
type Transport interface {
	CreateSession(ctx context.Context, title string) (string, error)
	Send(ctx context.Context, sessionID, query string) (io.ReadCloser, error)
}

// Snapshot is an immutable copy of a Message.
type Snapshot struct {
	ID        string
	SessionID string
	Content   string
	Status    models.MessageStatus
	Pending   bool
	Err       error
}

// Message is the one provisional ai_mentor message of an exchange. Deltas are
// applied to it in place until it is frozen; after that it never changes.
type Message struct {
	ID        string
	SessionID string

	mu      sync.Mutex
	content strings.Builder
	status  models.MessageStatus
	err     error
	done    chan struct{}
}

func newMessage(sessionID string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		status:    models.MessagePending,
		done:      make(chan struct{}),
	}
}

func (m *Message) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Message) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        m.ID,
		SessionID: m.SessionID,
		Content:   m.content.String(),
		Status:    m.status,
		Pending:   m.status == models.MessagePending,
		Err:       m.err,
	}
}

func (m *Message) Content() string { return m.Snapshot().Content }

// Done is closed when the message is frozen.
func (m *Message) Done() <-chan struct{} { return m.done }

// Wait blocks until the message is frozen or ctx ends.
func (m *Message) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-m.done:
		return m.Snapshot(), nil
	case <-ctx.Done():
		return m.Snapshot(), ctx.Err()
	}
}

// apply appends a delta. The first one replaces the pending placeholder.
func (m *Message) apply(delta string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Frozen() {
		return Snapshot{}, false
	}
	m.content.WriteString(delta)
	m.status = models.MessageStreaming
	return m.snapshotLocked(), true
}

func (m *Message) noteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.status.Frozen() && m.err == nil {
		m.err = err
	}
}

// freeze settles the message once. Later calls are no-ops.
func (m *Message) freeze(err error) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Frozen() {
		return Snapshot{}, false
	}
	if err != nil && m.err == nil {
		m.err = err
	}
	if m.err != nil {
		m.status = models.MessageError
	} else {
		m.status = models.MessageFinal
	}
	close(m.done)
	return m.snapshotLocked(), true
}

type exchange struct {
	cancel  context.CancelFunc
	msg     *Message
	stopped chan struct{} // closed once the connection is released
}

// Engine drives mentor exchanges for one conversation. At most one stream is
// live at a time: a new send cancels the previous one and waits for it to freeze.
type Engine struct {
	transport Transport
	log       *logrus.Logger

	// OnUpdate sees every change of a message. It must not block.
	OnUpdate func(Snapshot)

	ensureMu  sync.Mutex
	mu        sync.Mutex
	sessionID string
	state     State
	current   *exchange
}

func NewEngine(t Transport, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{transport: t, log: log, state: StateIdle}
}

// SelectSession continues an existing conversation instead of creating one.
func (e *Engine) SelectSession(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = id
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// EnsureSession returns the selected session, creating it on first use only.
func (e *Engine) EnsureSession(ctx context.Context, title string) (string, error) {
	const op = "mentor.Engine.EnsureSession"

	e.ensureMu.Lock()
	defer e.ensureMu.Unlock()

	if id := e.SessionID(); id != "" {
		e.setState(StateSessionEnsured)
		return id, nil
	}
	id, err := e.transport.CreateSession(ctx, title)
	if err != nil {
		return "", utils.E(utils.CodeStreamTransportError, op, "failed to create mentor session", err)
	}
	e.mu.Lock()
	e.sessionID = id
	e.state = StateSessionEnsured
	e.mu.Unlock()
	return id, nil
}

// Cancel abandons the live stream, if any. Its message is frozen with the
// content received so far and the connection is closed before Cancel returns.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur == nil {
		return
	}
	cur.cancel()
	<-cur.stopped
}

// SendAndStream posts query and returns the provisional answer right away.
// Deltas are applied in the background; the returned Message settles on its own.
func (e *Engine) SendAndStream(ctx context.Context, query string) (*Message, error) {
	const op = "mentor.Engine.SendAndStream"

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}

	e.Cancel()

	sessionID, err := e.EnsureSession(ctx, titleFrom(query))
	if err != nil {
		e.setState(StateSettled)
		return nil, err
	}

	msg := newMessage(sessionID)
	sctx, cancel := context.WithCancel(ctx)
	ex := &exchange{cancel: cancel, msg: msg, stopped: make(chan struct{})}

	e.mu.Lock()
	e.current = ex
	e.state = StateSending
	e.mu.Unlock()
	e.notify(msg.Snapshot())

	// cancellation freezes first, so nothing decoded afterwards can land in the message
	stopFreeze := context.AfterFunc(sctx, func() {
		if snap, ok := msg.freeze(utils.E(utils.CodeStreamTransportError, op, "stream cancelled", context.Cause(sctx))); ok {
			e.notify(snap)
		}
	})

	body, err := e.transport.Send(sctx, sessionID, query)
	if err != nil {
		stopFreeze()
		terr := utils.E(utils.CodeStreamTransportError, op, "failed to send mentor query", err)
		if snap, ok := msg.freeze(terr); ok {
			e.notify(snap)
		}
		cancel()
		close(ex.stopped)
		e.settle(ex)
		return msg, terr
	}

	e.setState(StateStreamingTokens)
	go e.pump(sctx, ex, body, stopFreeze)
	return msg, nil
}

func (e *Engine) pump(ctx context.Context, ex *exchange, body io.ReadCloser, stopFreeze func() bool) {
	const op = "mentor.Engine.pump"

	// closing the body is what actually drops the connection
	stopClose := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer func() {
		stopClose()
		_ = body.Close()
		ex.cancel()
		<-ex.msg.done
		close(ex.stopped)
		e.settle(ex)
	}()

	msg := ex.msg
	dec := &Decoder{OnSkip: func(err error) {
		e.log.WithError(err).WithField("session_id", msg.SessionID).Debug("skipping malformed mentor frame")
	}}

	var readErr error
	buf := make([]byte, 4096)
	for !dec.Done() {
		n, err := body.Read(buf)
		if n > 0 {
			e.applyFrames(msg, dec.Feed(buf[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	if !dec.Done() {
		e.applyFrames(msg, dec.Flush())
	}

	// a cancelled exchange has already been frozen by the AfterFunc
	if ctx.Err() != nil {
		return
	}
	stopFreeze()

	var ferr error
	if readErr != nil {
		ferr = utils.E(utils.CodeStreamTransportError, op, "mentor stream interrupted", readErr)
	}
	if snap, ok := msg.freeze(ferr); ok {
		e.notify(snap)
	}
}

func (e *Engine) applyFrames(msg *Message, frames []Frame) {
	for _, f := range frames {
		switch f.Type {
		case FrameTextDelta:
			if f.Delta == "" {
				continue
			}
			if snap, ok := msg.apply(f.Delta); ok {
				e.notify(snap)
			}
		case FrameError:
			msg.noteError(utils.E(utils.CodeStreamTransportError, "mentor.Engine", f.Message, nil))
		}
	}
}

func (e *Engine) settle(ex *exchange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == ex {
		e.current = nil
		e.state = StateSettled
	}
}

func (e *Engine) notify(s Snapshot) {
	if e.OnUpdate != nil {
		e.OnUpdate(s)
	}
}

func titleFrom(query string) string {
	const limit = 60
	q := strings.Join(strings.Fields(query), " ")
	if r := []rune(q); len(r) > limit {
		return string(r[:limit])
	}
	return q
}
