package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/formula/internal/formula"
	"github.com/rendis/formula/internal/logging"
	"github.com/rendis/formula/internal/store"
	"github.com/rendis/formula/internal/validation"
	"github.com/rendis/formula/pkg/schema"
)

// UnknownCommandMessage is the wire text for an unrecognized command.
const UnknownCommandMessage = "No such command"

// Options configures a Dispatcher.
type Options struct {
	Engine    *formula.Engine
	Validator validation.Validator
	// Journal is optional; when set every request is recorded.
	Journal store.Journal
	Logger  *slog.Logger
}

type handler struct {
	arity int
	usage string
	run   func(ctx context.Context, args []string) ([]byte, error)
}

// Dispatcher routes requests to commands. Dispatch calls are serialized, so
// requests arriving from several transports never evaluate concurrently on
// the shared engine.
type Dispatcher struct {
	mu        sync.Mutex
	engine    *formula.Engine
	validator validation.Validator
	journal   store.Journal
	logger    *slog.Logger
	handlers  map[string]handler
}

// NewDispatcher creates a Dispatcher with the eval and get_names commands.
func NewDispatcher(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		engine:    opts.Engine,
		validator: opts.Validator,
		journal:   opts.Journal,
		logger:    logger,
	}
	d.handlers = map[string]handler{
		CommandEval:     {arity: 2, usage: "eval ||| <formula> ||| <bindings>", run: d.eval},
		CommandGetNames: {arity: 1, usage: "get_names ||| <formula>", run: d.getNames},
	}
	return d
}

// Dispatch runs one request and returns its response. It never panics and
// never returns a nil-error response without a value.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	ctx = logging.WithIDs(ctx, id, req.Command)
	log := logging.LogWith(ctx, d.logger)
	log.Debug("request received", slog.Int("args", len(req.Args)))

	start := time.Now()
	value, err := d.run(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		log.Info("request failed",
			slog.String("code", schema.CodeOf(err)),
			slog.String("error", schema.MessageOf(err)),
			slog.Duration("elapsed", elapsed),
		)
	} else {
		log.Debug("request completed", slog.Duration("elapsed", elapsed))
	}

	resp := Response{RequestID: id, Value: value, Err: err}
	d.record(ctx, req, resp, elapsed)
	return resp
}

func (d *Dispatcher) run(ctx context.Context, req Request) (value []byte, err error) {
	h, ok := d.handlers[req.Command]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeUnknownCmd, UnknownCommandMessage).
			WithDetails(map[string]any{"command": req.Command})
	}
	if len(req.Args) != h.arity {
		return nil, schema.NewErrorf(schema.ErrCodeRequest, "%s expects %d argument(s), got %d (usage: %s)",
			req.Command, h.arity, len(req.Args), h.usage)
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "handler panicked", slog.String("panic", fmt.Sprint(r)))
			value = nil
			err = schema.NewErrorf(schema.ErrCodeRuntime, "internal error: %v", r)
		}
	}()
	return h.run(ctx, req.Args)
}

func (d *Dispatcher) eval(ctx context.Context, args []string) ([]byte, error) {
	bindings, err := d.validator.DecodeBindings([]byte(args[1]))
	if err != nil {
		return nil, err
	}
	return d.engine.EvalJSON(ctx, args[0], bindings)
}

func (d *Dispatcher) getNames(_ context.Context, args []string) ([]byte, error) {
	names, err := d.engine.Names(args[0])
	if err != nil {
		return nil, err
	}
	return formula.EncodeNames(names)
}

func (d *Dispatcher) record(ctx context.Context, req Request, resp Response, elapsed time.Duration) {
	if d.journal == nil {
		return
	}
	ev := &store.Evaluation{
		RequestID: resp.RequestID,
		Command:   req.Command,
		Transport: logging.Transport(ctx),
		Duration:  elapsed,
	}
	if len(req.Args) > 0 {
		ev.Formula = req.Args[0]
	}
	if req.Command == CommandEval && len(req.Args) > 1 {
		ev.Bindings = req.Args[1]
	}
	if resp.Err != nil {
		ev.ErrorCode = schema.CodeOf(resp.Err)
		ev.ErrorMessage = schema.MessageOf(resp.Err)
	} else {
		ev.Result = string(resp.Value)
	}
	// The request context may already be past its deadline after a timeout.
	if err := d.journal.Record(context.WithoutCancel(ctx), ev); err != nil {
		d.logger.ErrorContext(ctx, "journal write failed", slog.String("error", err.Error()))
	}
}
