package outbound

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
)

type fakeWriter struct {
	mu      sync.Mutex
	written []any
	fail    bool
}

func (w *fakeWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return assertErr
	}
	w.written = append(w.written, v)
	return nil
}

var assertErr = &writeErr{}

type writeErr struct{}

func (e *writeErr) Error() string { return "write failed" }

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func TestPipelineQueuesWhileDisconnected(t *testing.T) {
	connected := false
	p := New(orralog.New(orralog.Options{}), func() bool { return connected })
	go p.Run()
	defer p.Stop()

	require.NoError(t, p.Send("exec-1", map[string]string{"type": "task_result"}))
	time.Sleep(50 * time.Millisecond)

	w := &fakeWriter{}
	connected = true
	p.SetWriter(w)

	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPipelineAckStopsTimeout(t *testing.T) {
	w := &fakeWriter{}
	p := New(orralog.New(orralog.Options{}), func() bool { return true })
	p.SetWriter(w)
	go p.Run()
	defer p.Stop()

	require.NoError(t, p.Send("exec-2", map[string]string{"type": "task_result"}))
	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 10*time.Millisecond)

	p.pendingMu.Lock()
	var id string
	for k := range p.pending {
		id = k
	}
	p.pendingMu.Unlock()
	require.NotEmpty(t, id)

	p.Ack(id)

	p.pendingMu.Lock()
	_, stillPending := p.pending[id]
	p.pendingMu.Unlock()
	require.False(t, stillPending)
}

func TestNextIDFormat(t *testing.T) {
	p := New(orralog.New(orralog.Options{}), func() bool { return false })
	id := p.nextID("exec-123")
	require.Contains(t, id, "exec-123")
	require.Contains(t, id, "msg_")
}

func TestEnvelopeRoundTrip(t *testing.T) {
	p := New(orralog.New(orralog.Options{}), func() bool { return false })
	require.NoError(t, p.Send("", map[string]string{"type": "pong"}))
	raw, ok := p.pop()
	require.True(t, ok)

	var env struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &env))
	require.NotEmpty(t, env.ID)
}
