// Package orra is the facade a host application imports: it wires identity
// persistence, registration, the session connection, inbound dispatch, task
// execution, the outbound pipeline, compensation, and housekeeping together
// behind one builder API, mirroring the shape (if not the syntax) of the
// Python original's OrraService/OrraAgent wrapper classes.
package orra

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orra-dev/orra-sdk-go/pkg/compensation"
	"github.com/orra-dev/orra-sdk-go/pkg/dispatch"
	"github.com/orra-dev/orra-sdk-go/pkg/housekeeping"
	"github.com/orra-dev/orra-sdk-go/pkg/identity"
	"github.com/orra-dev/orra-sdk-go/pkg/orraerr"
	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
	"github.com/orra-dev/orra-sdk-go/pkg/outbound"
	"github.com/orra-dev/orra-sdk-go/pkg/registration"
	"github.com/orra-dev/orra-sdk-go/pkg/schema"
	"github.com/orra-dev/orra-sdk-go/pkg/session"
	"github.com/orra-dev/orra-sdk-go/pkg/task"
	"github.com/orra-dev/orra-sdk-go/pkg/wire"
)

// apiKeyPrefix is the format every orra API key must carry, validated at
// construction the same way the Python original's OrraSDK.__init__ does.
const apiKeyPrefix = "sk-orra-"

// RevertSource and CompensationResult are re-exported so callers never need
// to import pkg/compensation directly.
type RevertSource = compensation.RevertSource
type CompensationResult = compensation.CompensationResult

// Orra is a single registered service or agent: one handler, optionally one
// revert handler, and the runtime plumbing needed to serve it.
type Orra struct {
	baseURL     string
	apiKey      string
	kind        wire.HandlerKind
	name        string
	description string
	version     int

	store identity.Store
	log   *orralog.Logger

	handler       task.HandlerFunc
	schemas       schema.Pair
	revertible    bool
	revertTTL     time.Duration
	revertHandler compensation.RevertFunc

	mu         sync.Mutex
	started    bool
	identityID identity.ServiceIdentity

	session  *session.Manager
	out      *outbound.Pipeline
	engine   *task.Engine
	compDisp *compensation.Dispatcher
	hk       *housekeeping.Runner
	hkCancel context.CancelFunc

	shutdownOnce sync.Once
}

// Option configures an Orra at construction time.
type Option func(*Orra)

// WithBaseURL overrides the default control-plane URL.
func WithBaseURL(url string) Option {
	return func(o *Orra) { o.baseURL = url }
}

// WithDescription sets the handler's registration description.
func WithDescription(desc string) Option {
	return func(o *Orra) { o.description = desc }
}

// WithVersion sets the handler's version, defaulting to 1.
func WithVersion(v int) Option {
	return func(o *Orra) { o.version = v }
}

// WithPersistence overrides the default file-based identity.Store.
func WithPersistence(store identity.Store) Option {
	return func(o *Orra) { o.store = store }
}

// WithLogger overrides the default stdout-only logger, e.g. to attach a
// rotating file sink via orralog.New(orralog.Options{FilePath: ...}).
func WithLogger(log *orralog.Logger) Option {
	return func(o *Orra) { o.log = log }
}

func newOrra(kind wire.HandlerKind, apiKey, name string, opts ...Option) (*Orra, error) {
	if !strings.HasPrefix(apiKey, apiKeyPrefix) {
		return nil, orraerr.InvalidArgument(fmt.Sprintf("api key must start with %q", apiKeyPrefix))
	}
	path, err := identity.DefaultPath(name)
	if err != nil {
		return nil, orraerr.InvalidArgument(err.Error())
	}

	o := &Orra{
		baseURL: "https://api.orra.dev",
		apiKey:  apiKey,
		kind:    kind,
		name:    name,
		version: 1,
		store:   identity.NewFileStore(path),
		log:     orralog.New(orralog.Options{Level: orralog.LevelInfo}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// NewService builds a service-kind Orra handler.
func NewService(apiKey, name string, opts ...Option) (*Orra, error) {
	return newOrra(wire.KindService, apiKey, name, opts...)
}

// NewAgent builds an agent-kind Orra handler.
func NewAgent(apiKey, name string, opts ...Option) (*Orra, error) {
	return newOrra(wire.KindAgent, apiKey, name, opts...)
}

// Handle registers fn as the task handler, deriving input/output JSON
// Schemas by reflecting on In and Out. It must be called before Start.
func Handle[In, Out any](o *Orra, fn func(context.Context, In) (Out, error)) error {
	inSchema, err := schema.FromStruct(*new(In))
	if err != nil {
		return orraerr.InvalidArgument(fmt.Sprintf("input type: %v", err))
	}
	outSchema, err := schema.FromStruct(*new(Out))
	if err != nil {
		return orraerr.InvalidArgument(fmt.Sprintf("output type: %v", err))
	}

	o.schemas = schema.Pair{Input: inSchema, Output: outSchema}
	o.handler = wrapHandler(fn)
	return nil
}

// HandleRevertible is Handle plus compensation metadata: a successful result
// is wrapped in the {"task","compensation"} envelope with the given TTL, and
// Start will fail with MissingRevertHandlerError unless RevertWith has also
// been called.
func HandleRevertible[In, Out any](o *Orra, ttl time.Duration, fn func(context.Context, In) (Out, error)) error {
	if err := Handle(o, fn); err != nil {
		return err
	}
	o.revertible = true
	o.revertTTL = ttl
	o.handler = wrapRevertibleOutcome(o.handler, ttl)
	return nil
}

func wrapHandler[In, Out any](fn func(context.Context, In) (Out, error)) task.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("decode input: %w", err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}
}

func wrapRevertibleOutcome(inner task.HandlerFunc, ttl time.Duration) task.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		out, err := inner(ctx, raw)
		if err != nil {
			return nil, err
		}
		return compensation.BuildOutcome(out, raw, ttl.Milliseconds())
	}
}

// RevertWith registers the compensation handler for a revertible Orra.
func RevertWith(o *Orra, fn compensation.RevertFunc) {
	o.revertHandler = fn
}

// Start registers the handler with the control plane (reusing a persisted
// identity if one exists), opens the session, and begins serving traffic.
func (o *Orra) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return nil
	}
	if o.handler == nil {
		return orraerr.InvalidArgument("no handler registered: call Handle or HandleRevertible before Start")
	}
	if o.revertible && o.revertHandler == nil {
		return orraerr.NewMissingRevertHandlerError()
	}

	priorID, err := o.loadPriorID(ctx)
	if err != nil {
		return err
	}

	regClient := registration.New()
	ident, err := regClient.Register(ctx, registration.Options{
		BaseURL:     o.baseURL,
		APIKey:      o.apiKey,
		PriorID:     priorID,
		Name:        o.name,
		Description: o.description,
		Schema:      o.schemas,
		Version:     o.version,
		Kind:        o.kind,
		Revertible:  o.revertible,
	})
	if err != nil {
		return err
	}
	o.identityID = ident

	if err := o.store.Save(ctx, ident.ID); err != nil {
		o.log.Warnf("orra: failed to persist identity: %v", err)
	}

	o.log = o.log.With("service_id", ident.ID)
	o.log.Reconfigure(ident.ID, ident.Version)

	var sessionRef *session.Manager
	o.out = outbound.New(o.log, func() bool { return sessionRef != nil && sessionRef.Connected() })
	o.engine = task.New(ident.ID, o.handler, &o.schemas, o.out, o.log)

	var dispReverts dispatch.RevertHandler
	if o.revertible {
		o.compDisp = compensation.New(ident.ID, o.revertHandler, o.out, o.log)
		dispReverts = o.compDisp
	}

	disp := dispatch.New(ident.ID, o.log, o.engine, dispReverts, o.out, o.out)

	o.session = session.New(session.Options{
		BaseURL:   o.baseURL,
		APIKey:    o.apiKey,
		ServiceID: ident.ID,
		Log:       o.log,
		OnFrame: func(raw []byte) {
			disp.Dispatch(ctx, raw)
		},
		SetConn: func(conn *websocket.Conn) {
			if conn == nil {
				o.out.ClearWriter()
				return
			}
			o.out.SetWriter(conn)
		},
	})
	sessionRef = o.session

	if err := o.session.Start(ctx); err != nil {
		return err
	}

	go o.out.Run()

	hkCtx, cancel := context.WithCancel(ctx)
	o.hkCancel = cancel
	o.hk = housekeeping.New(o.engine, o.log)
	go o.hk.Run(hkCtx)

	o.started = true
	return nil
}

func (o *Orra) loadPriorID(ctx context.Context) (*string, error) {
	id, ok, err := o.store.Load(ctx)
	if err != nil {
		o.log.Warnf("orra: identity load failed, registering fresh: %v", err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return &id, nil
}

// Shutdown stops the session, the outbound drainer and housekeeping, and
// waits for any in-flight handler invocations to finish naturally. It is
// idempotent.
func (o *Orra) Shutdown() {
	o.shutdownOnce.Do(func() {
		if o.hkCancel != nil {
			o.hkCancel()
		}
		if o.session != nil {
			o.session.Shutdown()
		}
		if o.out != nil {
			o.out.Stop()
		}
		if o.engine != nil {
			o.engine.Wait()
		}
	})
}

// Identity returns the durable identity assigned at registration, valid
// after Start returns successfully.
func (o *Orra) Identity() identity.ServiceIdentity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identityID
}
