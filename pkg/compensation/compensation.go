// Package compensation dispatches revert_request frames to a registered
// revert handler and reports its verdict back as a revert result (C10 of
// SPEC_FULL.md), supplementing the distilled spec with the typed
// RevertSource/RevertContext shape recovered from original_source's
// wrappers.py.
package compensation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

// RevertSource is what a revert handler receives: the original task input
// and output, plus an optional context the control plane attached.
type RevertSource struct {
	Input   json.RawMessage
	Output  json.RawMessage
	Context *wire.RevertContext
}

// CompensationResult is a revert handler's verdict.
type CompensationResult struct {
	Status wire.CompensationStatus
}

// RevertFunc is the user-supplied compensation body.
type RevertFunc func(ctx context.Context, src RevertSource) (CompensationResult, error)

// Sender is the subset of outbound.Pipeline the dispatcher needs.
type Sender interface {
	Send(executionID string, payload any) error
}

// Dispatcher routes revert_request frames to one registered RevertFunc.
type Dispatcher struct {
	ServiceID string
	Revert    RevertFunc
	Out       Sender
	Log       *orralog.Logger
}

// New builds a Dispatcher for one handler's revert path.
func New(serviceID string, revert RevertFunc, out Sender, log *orralog.Logger) *Dispatcher {
	return &Dispatcher{ServiceID: serviceID, Revert: revert, Out: out, Log: log}
}

// Handle invokes the revert handler and replies with its status. A panic or
// error from the handler is caught and downgraded to FAILED rather than
// propagated, matching spec.md's "Exceptions during revert surface as
// FAILED".
func (d *Dispatcher) Handle(ctx context.Context, req wire.RevertRequest) {
	status := d.invoke(ctx, req)
	reply := wire.RevertResult{
		Type:        "revert_result",
		TaskID:      req.ID,
		ExecutionID: req.ExecutionID,
		ServiceID:   d.ServiceID,
		Status:      status,
	}
	if err := d.Out.Send(req.ExecutionID, reply); err != nil {
		d.Log.Errorf("compensation: send revert result for %s: %v", req.ExecutionID, err)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, req wire.RevertRequest) (status wire.CompensationStatus) {
	status = wire.CompensationFailed
	defer func() {
		if r := recover(); r != nil {
			d.Log.Errorf("compensation: revert handler panicked: %v", r)
			status = wire.CompensationFailed
		}
	}()

	if d.Revert == nil {
		d.Log.Errorf("compensation: revert_request received but no revert handler is registered")
		return wire.CompensationFailed
	}

	src := RevertSource{Input: req.Input, Output: req.Output, Context: req.Context}
	result, err := d.Revert(ctx, src)
	if err != nil {
		d.Log.Warnf("compensation: revert handler returned error: %v", err)
		return wire.CompensationFailed
	}
	if result.Status == "" {
		return wire.CompensationFailed
	}
	return result.Status
}

// BuildOutcome wraps a revertible handler's successful task output as the
// {"task", "compensation"} envelope spec.md §4.9 defines.
func BuildOutcome(taskOutput, originalInput json.RawMessage, ttlMillis int64) (json.RawMessage, error) {
	outcome := wire.TaskOutcome{
		Task: taskOutput,
		Compensation: &wire.CompensationData{
			TTLMillis: ttlMillis,
		},
	}
	outcome.Compensation.Input.OriginalTask = originalInput
	outcome.Compensation.Input.TaskResult = taskOutput

	raw, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("compensation: marshal outcome: %w", err)
	}
	return raw, nil
}
