// Package task implements the exactly-once task execution engine (C8 of
// SPEC_FULL.md): a dedup cache, an in-progress table, handler invocation,
// and result/error construction — the Go realization of the Python
// original's _handle_task nine-step algorithm.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
	"github.com/orra-dev/orra-sdk-go/pkg/schema"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

// HandlerFunc executes one task's business logic. It returns the raw JSON
// result to report back, or an error (optionally an *AbortError) to report
// as a failure/abort.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// AbortError lets a handler distinguish "this particular execution should
// not be treated as exactly-once cacheable" from an ordinary failure — a
// capability present in original_source's wrappers.py but dropped from the
// distilled spec (see SPEC_FULL.md §4.7).
type AbortError struct {
	Payload json.RawMessage
}

func (e *AbortError) Error() string { return "task aborted" }

// CachedResult is one dedup cache entry: exactly one of Result/Err is set.
type CachedResult struct {
	Result    json.RawMessage
	Err       string
	Timestamp time.Time
}

type pendingEntry struct {
	startedAt time.Time
}

// Sender is the subset of outbound.Pipeline the engine needs.
type Sender interface {
	Send(executionID string, payload any) error
}

// Engine owns the mutex-protected cache/in-progress tables for one
// registered handler and drives the nine-step dispatch algorithm.
type Engine struct {
	ServiceID string
	Handler   HandlerFunc
	Schemas   *schema.Pair
	Out       Sender
	Log       *orralog.Logger

	mu         sync.RWMutex
	cache      map[string]CachedResult
	inProgress map[string]pendingEntry

	wg sync.WaitGroup
}

// New builds an Engine. Schemas may be nil to skip input/output validation
// (used by internal tests); the facade always supplies both.
func New(serviceID string, handler HandlerFunc, schemas *schema.Pair, out Sender, log *orralog.Logger) *Engine {
	return &Engine{
		ServiceID:  serviceID,
		Handler:    handler,
		Schemas:    schemas,
		Out:        out,
		Log:        log,
		cache:      map[string]CachedResult{},
		inProgress: map[string]pendingEntry{},
	}
}

// Handle runs the nine-step algorithm for one inbound task_request frame:
//  1. cache hit -> replay cached result/error, done.
//  2. already in-progress -> emit task_status "in_progress", drop the duplicate delivery.
//  3. validate input against the schema.
//  4. mark in-progress.
//  5. invoke the handler.
//  6. on success, validate output, cache the result.
//  7. on handler error, cache the error.
//  8. on AbortError, skip the cache and emit task_aborted.
//  9. clear in-progress, send the reply.
func (e *Engine) Handle(ctx context.Context, req wire.TaskRequest) {
	key := req.IdempotencyKey

	if cached, ok := e.lookupCache(key); ok {
		e.replay(req, cached)
		return
	}
	if e.alreadyInProgress(key) {
		e.Log.Warnf("task: duplicate delivery for %s dropped", key)
		e.sendInProgress(req)
		return
	}

	if e.Schemas != nil && e.Schemas.Input != nil {
		if verrs := e.Schemas.Input.Validate(req.Input); len(verrs) > 0 {
			e.sendResult(req, nil, formatValidationErrors("Input validation failed", verrs))
			return
		}
	}

	e.markInProgress(key)
	e.wg.Add(1)
	go e.run(ctx, req, key)
}

func (e *Engine) run(ctx context.Context, req wire.TaskRequest, key string) {
	defer e.wg.Done()
	defer e.clearInProgress(key)

	result, err := e.invoke(ctx, req.Input)

	var abort *AbortError
	if errors.As(err, &abort) {
		e.sendAborted(req, abort.Payload)
		return // not cacheable: an abort should allow a fresh retry
	}

	if err != nil {
		msg := err.Error()
		e.storeCache(key, CachedResult{Err: msg, Timestamp: time.Now()})
		e.sendResult(req, nil, msg)
		return
	}

	if e.Schemas != nil && e.Schemas.Output != nil {
		if verrs := e.Schemas.Output.Validate(result); len(verrs) > 0 {
			msg := formatValidationErrors("Output validation failed", verrs)
			e.storeCache(key, CachedResult{Err: msg, Timestamp: time.Now()})
			e.sendResult(req, nil, msg)
			return
		}
	}

	e.storeCache(key, CachedResult{Result: result, Timestamp: time.Now()})
	e.sendResult(req, result, "")
}

func (e *Engine) invoke(ctx context.Context, input json.RawMessage) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return e.Handler(ctx, input)
}

func (e *Engine) lookupCache(key string) (CachedResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.cache[key]
	return c, ok
}

func (e *Engine) storeCache(key string, c CachedResult) {
	e.mu.Lock()
	e.cache[key] = c
	e.mu.Unlock()
}

func (e *Engine) alreadyInProgress(key string) bool {
	e.mu.RLock()
	_, ok := e.inProgress[key]
	e.mu.RUnlock()
	return ok
}

func (e *Engine) markInProgress(key string) {
	e.mu.Lock()
	e.inProgress[key] = pendingEntry{startedAt: time.Now()}
	e.mu.Unlock()
}

func (e *Engine) clearInProgress(key string) {
	e.mu.Lock()
	delete(e.inProgress, key)
	e.mu.Unlock()
}

func (e *Engine) replay(req wire.TaskRequest, cached CachedResult) {
	e.sendResult(req, cached.Result, cached.Err)
}

func (e *Engine) sendResult(req wire.TaskRequest, result json.RawMessage, errMsg string) {
	reply := wire.NewTaskResult(e.ServiceID, req.ID, req.ExecutionID, result, errMsg)
	if err := e.Out.Send(req.ExecutionID, reply); err != nil {
		e.Log.Errorf("task: send result for %s: %v", req.ExecutionID, err)
	}
}

func (e *Engine) sendInProgress(req wire.TaskRequest) {
	status := wire.NewInProgressStatus(e.ServiceID, req.ID, req.ExecutionID, time.Now().UTC().Format(time.RFC3339))
	if err := e.Out.Send(req.ExecutionID, status); err != nil {
		e.Log.Errorf("task: send in-progress status for %s: %v", req.ExecutionID, err)
	}
}

func (e *Engine) sendAborted(req wire.TaskRequest, payload json.RawMessage) {
	aborted := wire.TaskAborted{
		Type:        "task_aborted",
		TaskID:      req.ID,
		ExecutionID: req.ExecutionID,
		ServiceID:   e.ServiceID,
		Payload:     payload,
	}
	if err := e.Out.Send(req.ExecutionID, aborted); err != nil {
		e.Log.Errorf("task: send aborted for %s: %v", req.ExecutionID, err)
	}
}

// Wait blocks until every in-flight handler goroutine returns, used by the
// facade's Shutdown to honor "awaits their natural completion."
func (e *Engine) Wait() {
	e.wg.Wait()
}

// GC evicts cache entries older than cacheTTL and in-progress entries older
// than progressTTL, returning counts for the housekeeping log line.
func (e *Engine) GC(now time.Time, cacheTTL, progressTTL time.Duration) (evictedCache, evictedProgress int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range e.cache {
		if now.Sub(v.Timestamp) > cacheTTL {
			delete(e.cache, k)
			evictedCache++
		}
	}
	for k, v := range e.inProgress {
		if now.Sub(v.startedAt) > progressTTL {
			delete(e.inProgress, k)
			evictedProgress++
		}
	}
	return evictedCache, evictedProgress
}

func formatValidationErrors(prefix string, verrs []schema.ValidationError) string {
	return fmt.Sprintf("%s: %v", prefix, verrs)
}
