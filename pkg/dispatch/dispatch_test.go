package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

type recordingTasks struct {
	mu  sync.Mutex
	got []wire.TaskRequest
}

func (r *recordingTasks) Handle(_ context.Context, req wire.TaskRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, req)
}

type recordingReverts struct {
	mu  sync.Mutex
	got []wire.RevertRequest
}

func (r *recordingReverts) Handle(_ context.Context, req wire.RevertRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, req)
}

type recordingAcker struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingAcker) Ack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

type recordingOut struct {
	mu   sync.Mutex
	sent []any
}

func (r *recordingOut) Send(_ string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, payload)
	return nil
}

func TestDispatchRoutesTaskRequest(t *testing.T) {
	tasks := &recordingTasks{}
	d := New("s_1", orralog.New(orralog.Options{}), tasks, nil, nil, nil)

	d.Dispatch(context.Background(), []byte(`{"type":"task_request","id":"t1","executionId":"e1","idempotencyKey":"k1","input":{}}`))

	require.Len(t, tasks.got, 1)
	require.Equal(t, "k1", tasks.got[0].IdempotencyKey)
}

func TestDispatchRoutesAck(t *testing.T) {
	acks := &recordingAcker{}
	d := New("s_1", orralog.New(orralog.Options{}), nil, nil, acks, nil)

	d.Dispatch(context.Background(), []byte(`{"type":"ACK","id":"msg_1"}`))

	require.Equal(t, []string{"msg_1"}, acks.ids)
}

func TestDispatchRespondsToPing(t *testing.T) {
	out := &recordingOut{}
	d := New("s_1", orralog.New(orralog.Options{}), nil, nil, nil, out)

	d.Dispatch(context.Background(), []byte(`{"type":"ping","serviceId":"s_1"}`))

	require.Len(t, out.sent, 1)
}

func TestDispatchDropsPingForOtherService(t *testing.T) {
	out := &recordingOut{}
	d := New("s_1", orralog.New(orralog.Options{}), nil, nil, nil, out)

	d.Dispatch(context.Background(), []byte(`{"type":"ping","serviceId":"s_other"}`))

	require.Empty(t, out.sent)
}

func TestDispatchRoutesRevertRequest(t *testing.T) {
	reverts := &recordingReverts{}
	d := New("s_1", orralog.New(orralog.Options{}), nil, reverts, nil, nil)

	d.Dispatch(context.Background(), []byte(`{"type":"revert_request","id":"t1","executionId":"e1"}`))

	require.Len(t, reverts.got, 1)
}

func TestDispatchSwallowsMalformedJSON(t *testing.T) {
	d := New("s_1", orralog.New(orralog.Options{}), nil, nil, nil, nil)
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), []byte(`not json`))
	})
}

func TestDispatchDropsUnknownType(t *testing.T) {
	d := New("s_1", orralog.New(orralog.Options{}), nil, nil, nil, nil)
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), []byte(`{"type":"mystery"}`))
	})
}
