package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

type captureSender struct {
	mu   sync.Mutex
	sent []any
}

func (c *captureSender) Send(_ string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *captureSender) last() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *captureSender) sentAt(i int) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[i]
}

func newTestEngine(h HandlerFunc) (*Engine, *captureSender) {
	sender := &captureSender{}
	e := New("s_test", h, nil, sender, orralog.New(orralog.Options{}))
	return e, sender
}

func TestHandleCachesSuccessResult(t *testing.T) {
	calls := 0
	e, sender := newTestEngine(func(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"ok":true}`), nil
	})

	req := wire.TaskRequest{Type: "task_request", ID: "t1", ExecutionID: "e1", IdempotencyKey: "key-1", Input: json.RawMessage(`{}`)}
	e.Handle(context.Background(), req)
	e.Wait()

	e.Handle(context.Background(), req)
	e.Wait()

	require.Equal(t, 1, calls, "handler must run exactly once for the same idempotency key")
	require.Equal(t, 2, sender.count(), "both deliveries get a reply, the second from cache")

	result, ok := sender.last().(wire.TaskResult)
	require.True(t, ok)
	require.Empty(t, result.Error)
}

func TestHandleDropsDuplicateWhileInProgress(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	e, sender := newTestEngine(func(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
		started <- struct{}{}
		<-release
		return json.RawMessage(`{}`), nil
	})

	req := wire.TaskRequest{ID: "t1", ExecutionID: "e1", IdempotencyKey: "dup-key", Input: json.RawMessage(`{}`)}
	e.Handle(context.Background(), req)
	<-started

	// second delivery while still in progress must be dropped, not re-run,
	// but it still gets an in_progress status frame.
	e.Handle(context.Background(), req)

	close(release)
	e.Wait()

	require.Equal(t, 2, sender.count())

	status, ok := sender.sentAt(0).(wire.TaskStatus)
	require.True(t, ok, "first frame must be the in_progress status")
	require.Equal(t, "task_status", status.Type)
	require.Equal(t, "in_progress", status.Status)
	require.Equal(t, "e1", status.ExecutionID)

	result, ok := sender.last().(wire.TaskResult)
	require.True(t, ok, "second frame must be the eventual task result")
	require.Empty(t, result.Error)
}

func TestHandleCachesHandlerError(t *testing.T) {
	e, sender := newTestEngine(func(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})

	req := wire.TaskRequest{ID: "t1", ExecutionID: "e1", IdempotencyKey: "err-key", Input: json.RawMessage(`{}`)}
	e.Handle(context.Background(), req)
	e.Wait()

	result := sender.last().(wire.TaskResult)
	require.Contains(t, result.Error, "boom")
}

func TestHandleAbortSkipsCache(t *testing.T) {
	attempts := 0
	e, sender := newTestEngine(func(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
		attempts++
		return nil, &AbortError{Payload: json.RawMessage(`{"reason":"cancelled"}`)}
	})

	req := wire.TaskRequest{ID: "t1", ExecutionID: "e1", IdempotencyKey: "abort-key", Input: json.RawMessage(`{}`)}
	e.Handle(context.Background(), req)
	e.Wait()
	e.Handle(context.Background(), req)
	e.Wait()

	require.Equal(t, 2, attempts, "an aborted execution is not cached and may be retried")
	require.Equal(t, 2, sender.count())
}

func TestHandlePanicBecomesHandlerError(t *testing.T) {
	e, sender := newTestEngine(func(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	})

	req := wire.TaskRequest{ID: "t1", ExecutionID: "e1", IdempotencyKey: "panic-key", Input: json.RawMessage(`{}`)}
	e.Handle(context.Background(), req)
	e.Wait()

	result := sender.last().(wire.TaskResult)
	require.Contains(t, result.Error, "kaboom")
}

func TestGCEvictsExpiredEntries(t *testing.T) {
	e, _ := newTestEngine(func(_ context.Context, in json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	e.storeCache("old", CachedResult{Result: json.RawMessage(`{}`), Timestamp: time.Now().Add(-48 * time.Hour)})
	e.storeCache("fresh", CachedResult{Result: json.RawMessage(`{}`), Timestamp: time.Now()})
	e.markInProgress("stale-progress")
	e.mu.Lock()
	e.inProgress["stale-progress"] = pendingEntry{startedAt: time.Now().Add(-time.Hour)}
	e.mu.Unlock()

	evictedCache, evictedProgress := e.GC(time.Now(), 24*time.Hour, 30*time.Minute)
	require.Equal(t, 1, evictedCache)
	require.Equal(t, 1, evictedProgress)

	_, stillThere := e.lookupCache("fresh")
	require.True(t, stillThere)
}
