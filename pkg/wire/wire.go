// Package wire defines the JSON frame shapes exchanged over the session
// (§6 of SPEC_FULL.md) and the outbound envelope every outbound frame is
// wrapped in before it reaches the socket.
package wire

import "encoding/json"

// HandlerKind distinguishes a "service" registration from an "agent"
// registration — the two share one wire shape and differ only in this
// label.
type HandlerKind string

const (
	KindService HandlerKind = "service"
	KindAgent   HandlerKind = "agent"
)

// Envelope is the outer wrapper every outbound message travels in:
// {"id": "msg_<seq>_<executionId>", "payload": {...}}.
type Envelope struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound is the minimal shape needed to route an inbound frame before its
// payload is unmarshalled into a concrete type.
type Inbound struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalInbound parses raw bytes far enough to learn the frame's type,
// keeping the original bytes available for a second, type-specific parse.
func UnmarshalInbound(raw []byte) (Inbound, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: probe.Type, Raw: raw}, nil
}

// Ping is the inbound keepalive frame.
type Ping struct {
	Type      string `json:"type"`
	ServiceID string `json:"serviceId"`
}

// Pong is the outbound keepalive reply.
type Pong struct {
	Type      string `json:"type"`
	ServiceID string `json:"serviceId"`
}

func NewPong(serviceID string) Pong {
	return Pong{Type: "pong", ServiceID: serviceID}
}

// Ack carries the outbound wrapper id being acknowledged.
type Ack struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// CompensationContext is the {original_task, task_result} pair of a
// compensation context. TaskRequest has no field of this type; revert
// arrivals are decoded as RevertRequest.
type CompensationContext struct {
	OriginalTask json.RawMessage `json:"original_task,omitempty"`
	TaskResult   json.RawMessage `json:"task_result,omitempty"`
}

// TaskRequest is an inbound task assignment.
type TaskRequest struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	ExecutionID    string          `json:"executionId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Input          json.RawMessage `json:"input"`
}

// RevertContext carries the reason/payload for a revert request, as
// supplemented from original_source (not formally specified on the wire,
// see DESIGN.md).
type RevertContext struct {
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RevertRequest is an inbound compensation dispatch.
type RevertRequest struct {
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	ExecutionID string          `json:"executionId"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output"`
	Context     *RevertContext  `json:"context,omitempty"`
}

// TaskResult is the outbound terminal reply to a task_request.
type TaskResult struct {
	Type        string          `json:"type"`
	TaskID      string          `json:"taskId"`
	ExecutionID string          `json:"executionId"`
	ServiceID   string          `json:"serviceId"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func NewTaskResult(serviceID, taskID, executionID string, result json.RawMessage, errMsg string) TaskResult {
	return TaskResult{
		Type:        "task_result",
		TaskID:      taskID,
		ExecutionID: executionID,
		ServiceID:   serviceID,
		Result:      result,
		Error:       errMsg,
	}
}

// TaskAborted marks a handler-initiated abort (§4.7 of SPEC_FULL.md).
type TaskAborted struct {
	Type        string          `json:"type"`
	TaskID      string          `json:"taskId"`
	ExecutionID string          `json:"executionId"`
	ServiceID   string          `json:"serviceId"`
	Payload     json.RawMessage `json:"payload"`
}

// TaskStatus reports an intermediate state (currently only "in_progress").
type TaskStatus struct {
	Type        string `json:"type"`
	TaskID      string `json:"taskId"`
	ExecutionID string `json:"executionId"`
	ServiceID   string `json:"serviceId"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

func NewInProgressStatus(serviceID, taskID, executionID, timestamp string) TaskStatus {
	return TaskStatus{
		Type:        "task_status",
		TaskID:      taskID,
		ExecutionID: executionID,
		ServiceID:   serviceID,
		Status:      "in_progress",
		Timestamp:   timestamp,
	}
}

// CompensationStatus is the revert handler's verdict.
type CompensationStatus string

const (
	CompensationCompleted CompensationStatus = "COMPLETED"
	CompensationFailed    CompensationStatus = "FAILED"
	CompensationPartial   CompensationStatus = "PARTIAL"
)

// RevertResult is the outbound reply to a revert_request.
type RevertResult struct {
	Type        string             `json:"type"`
	TaskID      string             `json:"taskId"`
	ExecutionID string             `json:"executionId"`
	ServiceID   string             `json:"serviceId"`
	Status      CompensationStatus `json:"status"`
}

// CompensationData is embedded in a revertible handler's successful result
// (§4.9 of SPEC_FULL.md).
type CompensationData struct {
	Input struct {
		OriginalTask json.RawMessage `json:"original_task"`
		TaskResult   json.RawMessage `json:"task_result"`
	} `json:"input"`
	TTLMillis int64 `json:"ttl_ms"`
}

// TaskOutcome is the shape of a revertible handler's "result" field: the
// raw task output plus an optional compensation envelope.
type TaskOutcome struct {
	Task         json.RawMessage   `json:"task"`
	Compensation *CompensationData `json:"compensation,omitempty"`
}
