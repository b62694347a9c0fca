// Package outbound implements the send-side pipeline (C9 of SPEC_FULL.md):
// an unbounded FIFO queue, envelope wrapping, and an ack-timeout watcher
// that re-queues a message if the control plane never acknowledges it.
package outbound

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

// ackTimeout mirrors the Python original's 5-second pending-message timeout.
const ackTimeout = 5 * time.Second

// Writer is the minimal transport operation the pipeline needs from the
// session connection: write one already-marshalled frame.
type Writer interface {
	WriteJSON(v any) error
}

// ConnectedFunc reports whether the underlying session transport is
// currently connected, used to gate draining.
type ConnectedFunc func() bool

type pendingMessage struct {
	id      string
	payload json.RawMessage
	timer   *time.Timer
}

// Pipeline owns the outbound queue and the pending-ack table for one
// session. It never blocks a producer: Send always appends to an in-memory
// slice rather than a bounded channel.
type Pipeline struct {
	log       *orralog.Logger
	connected ConnectedFunc

	seq uint64

	mu    sync.Mutex
	queue []json.RawMessage

	pendingMu sync.Mutex
	pending   map[string]*pendingMessage

	writerMu sync.Mutex
	writer   Writer

	wake     chan struct{}
	done     chan struct{}
	closeOne sync.Once
}

// New builds a Pipeline. connected reports live transport state; the
// returned Pipeline's Run method must be started once a session is
// constructed.
func New(log *orralog.Logger, connected ConnectedFunc) *Pipeline {
	return &Pipeline{
		log:       log,
		connected: connected,
		pending:   map[string]*pendingMessage{},
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// SetWriter installs (or replaces, across a reconnect) the live transport
// the drainer writes frames to.
func (p *Pipeline) SetWriter(w Writer) {
	p.writerMu.Lock()
	p.writer = w
	p.writerMu.Unlock()
	p.nudge()
}

// ClearWriter drops the live transport reference, used when the session
// disconnects so the drainer blocks queued sends rather than writing to a
// dead connection.
func (p *Pipeline) ClearWriter() {
	p.writerMu.Lock()
	p.writer = nil
	p.writerMu.Unlock()
}

// nextID produces the "msg_<seq>_<executionId>" wrapper id. executionID may
// be empty for frames with no associated execution (pong, status pings).
func (p *Pipeline) nextID(executionID string) string {
	seq := atomic.AddUint64(&p.seq, 1)
	if executionID == "" {
		return fmt.Sprintf("msg_%d", seq)
	}
	return fmt.Sprintf("msg_%d_%s", seq, executionID)
}

// Send wraps payload in a wire.Envelope and enqueues it. executionID, when
// non-empty, is folded into the envelope id for traceability.
func (p *Pipeline) Send(executionID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbound: marshal payload: %w", err)
	}
	env := wire.Envelope{ID: p.nextID(executionID), Payload: raw}
	envRaw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("outbound: marshal envelope: %w", err)
	}

	p.mu.Lock()
	p.queue = append(p.queue, envRaw)
	p.mu.Unlock()
	p.nudge()
	return nil
}

func (p *Pipeline) nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) pop() (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	return next, true
}

func (p *Pipeline) requeueFront(raw json.RawMessage) {
	p.mu.Lock()
	p.queue = append([]json.RawMessage{raw}, p.queue...)
	p.mu.Unlock()
	p.nudge()
}

// Ack cancels the pending-ack watcher for id, matching a received "ACK"
// frame against the pending table (§4.8 of SPEC_FULL.md).
func (p *Pipeline) Ack(id string) {
	p.pendingMu.Lock()
	pm, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
	if ok {
		pm.timer.Stop()
	}
}

// Run drains the queue whenever the transport is connected, writing each
// frame and arming a 5s ack-timeout watcher. It returns when ctx-equivalent
// shutdown is signalled via Stop.
func (p *Pipeline) Run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		case <-time.After(200 * time.Millisecond):
		}
		p.drainOnce()
	}
}

func (p *Pipeline) drainOnce() {
	for {
		if !p.connected() {
			return
		}
		raw, ok := p.pop()
		if !ok {
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			p.log.Errorf("outbound: corrupt queued envelope dropped: %v", err)
			continue
		}

		p.writerMu.Lock()
		w := p.writer
		p.writerMu.Unlock()
		if w == nil {
			p.requeueFront(raw)
			return
		}

		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			p.log.Errorf("outbound: decode envelope for write: %v", err)
			continue
		}
		if err := w.WriteJSON(generic); err != nil {
			p.log.Warnf("outbound: write failed, re-queueing %s: %v", env.ID, err)
			p.requeueFront(raw)
			return
		}

		p.arm(env.ID, raw)
	}
}

func (p *Pipeline) arm(id string, raw json.RawMessage) {
	pm := &pendingMessage{id: id, payload: raw}
	pm.timer = time.AfterFunc(ackTimeout, func() {
		p.pendingMu.Lock()
		_, stillPending := p.pending[id]
		if stillPending {
			delete(p.pending, id)
		}
		p.pendingMu.Unlock()
		if stillPending {
			p.log.Warnf("outbound: ack timeout for %s, re-queueing", id)
			p.requeueFront(raw)
		}
	})
	p.pendingMu.Lock()
	p.pending[id] = pm
	p.pendingMu.Unlock()
}

// Stop halts the drain loop and cancels every outstanding ack timer. It is
// idempotent.
func (p *Pipeline) Stop() {
	p.closeOne.Do(func() {
		close(p.done)
		p.pendingMu.Lock()
		for id, pm := range p.pending {
			pm.timer.Stop()
			delete(p.pending, id)
		}
		p.pendingMu.Unlock()
	})
}
