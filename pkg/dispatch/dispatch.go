// Package dispatch routes an inbound frame to the component that owns its
// wire type (C7 of SPEC_FULL.md). It is the single entry point the session
// read loop feeds every received message through.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

// TaskHandler processes a task_request frame.
type TaskHandler interface {
	Handle(ctx context.Context, req wire.TaskRequest)
}

// RevertHandler processes a revert_request frame.
type RevertHandler interface {
	Handle(ctx context.Context, req wire.RevertRequest)
}

// Acker is notified of an ACK frame.
type Acker interface {
	Ack(id string)
}

// Ponger replies to a ping frame.
type Ponger interface {
	Send(executionID string, payload any) error
}

// Dispatcher wires together the components that own each wire frame type.
type Dispatcher struct {
	serviceID string
	log       *orralog.Logger
	tasks     TaskHandler
	reverts   RevertHandler
	acks      Acker
	out       Ponger
}

// New builds a Dispatcher. tasks/reverts/acks may be nil if the service has
// no revert handler registered; Dispatch then logs and drops revert_request
// frames instead of panicking.
func New(serviceID string, log *orralog.Logger, tasks TaskHandler, reverts RevertHandler, acks Acker, out Ponger) *Dispatcher {
	return &Dispatcher{serviceID: serviceID, log: log, tasks: tasks, reverts: reverts, acks: acks, out: out}
}

// Dispatch parses raw as a wire.Inbound envelope and routes it. Malformed
// JSON is logged and swallowed so the read loop survives (SPEC_FULL.md
// §4.6); it never returns an error to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	in, err := wire.UnmarshalInbound(raw)
	if err != nil {
		d.log.Errorf("dispatch: malformed frame dropped: %v", err)
		return
	}

	switch in.Type {
	case "ping":
		d.handlePing(in.Raw)
	case "ACK":
		d.handleAck(in.Raw)
	case "task_request":
		d.handleTask(ctx, in.Raw)
	case "revert_request":
		d.handleRevert(ctx, in.Raw)
	default:
		d.log.Warnf("dispatch: unknown frame type %q dropped", in.Type)
	}
}

func (d *Dispatcher) handlePing(raw json.RawMessage) {
	var ping wire.Ping
	if err := json.Unmarshal(raw, &ping); err != nil {
		d.log.Errorf("dispatch: malformed ping: %v", err)
		return
	}
	if ping.ServiceID != d.serviceID {
		d.log.Debugf("dispatch: ping for another service id dropped")
		return
	}
	if d.out == nil {
		return
	}
	if err := d.out.Send("", wire.NewPong(d.serviceID)); err != nil {
		d.log.Errorf("dispatch: send pong: %v", err)
	}
}

func (d *Dispatcher) handleAck(raw json.RawMessage) {
	var ack wire.Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		d.log.Errorf("dispatch: malformed ACK: %v", err)
		return
	}
	if d.acks != nil {
		d.acks.Ack(ack.ID)
	}
}

func (d *Dispatcher) handleTask(ctx context.Context, raw json.RawMessage) {
	var req wire.TaskRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		d.log.Errorf("dispatch: malformed task_request: %v", err)
		return
	}
	if d.tasks == nil {
		d.log.Warnf("dispatch: task_request received but no handler registered")
		return
	}
	d.tasks.Handle(ctx, req)
}

func (d *Dispatcher) handleRevert(ctx context.Context, raw json.RawMessage) {
	var req wire.RevertRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		d.log.Errorf("dispatch: malformed revert_request: %v", err)
		return
	}
	if d.reverts == nil {
		d.log.Warnf("dispatch: revert_request received but handler is not revertible")
		return
	}
	d.reverts.Handle(ctx, req)
}
