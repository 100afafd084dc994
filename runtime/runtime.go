// Package runtime runs petalscript programs and reports what happens as a
// stream of events.
package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/petalscript/loader"
	"github.com/petal-labs/petalscript/script"
)

// StdinSource is the source name used when none is given.
const StdinSource = "<stdin>"

// Runtime runs programs and emits events.
type Runtime interface {
	// Run parses the program read from src and evaluates it.
	Run(ctx context.Context, src io.Reader, opts RunOptions) (*Result, error)
}

// RunOptions controls execution behavior.
type RunOptions struct {
	// Source names the program in events and logs (default: "<stdin>").
	Source string

	// Stdout receives print output. If nil, output is discarded.
	Stdout io.Writer

	// Env is the environment to evaluate against. If nil, a fresh one is used.
	Env *script.Env

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	// If nil, events are emitted without decoration.
	EventEmitterDecorator EventEmitterDecorator

	// EventBus distributes events to subscribers.
	// If nil, events are only sent to EventHandler.
	EventBus EventPublisher

	// Logger receives debug logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Result describes a finished run. On an evaluation failure Run still
// returns a Result holding the environment as it was when the error hit.
type Result struct {
	RunID   string
	Value   string
	Env     *script.Env
	Elapsed time.Duration
}

// BasicRuntime evaluates programs sequentially on the calling goroutine.
type BasicRuntime struct{}

// NewRuntime creates a new runtime instance.
func NewRuntime() *BasicRuntime {
	return &BasicRuntime{}
}

// Run executes one program: parse, then evaluate. Every run emits
// run.started first and run.finished last, whatever happens in between.
func (r *BasicRuntime) Run(ctx context.Context, src io.Reader, opts RunOptions) (*Result, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Source == "" {
		opts.Source = StdinSource
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := uuid.NewString()

	seq := &seqGen{}
	emit := func(e Event) {
		e.Seq = seq.Next()
		if opts.EventBus != nil {
			opts.EventBus.Publish(e)
		}
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}
	event := func(kind EventKind) Event {
		return NewEvent(kind, runID).WithTime(opts.Now())
	}

	runStart := opts.Now()
	logger.Debug("run started", "run_id", runID, "source", opts.Source)
	emit(event(EventRunStarted).WithPayload("source", opts.Source))

	result, err := r.execute(ctx, src, runID, opts, emit, event)

	runElapsed := opts.Now().Sub(runStart)
	finishEvent := event(EventRunFinished).WithElapsed(runElapsed)
	if err != nil {
		finishEvent = finishEvent.
			WithPayload("status", StatusFailed).
			WithPayload("error", err.Error())
	} else {
		finishEvent = finishEvent.
			WithPayload("status", StatusCompleted)
	}
	emit(finishEvent)

	if result != nil {
		result.Elapsed = runElapsed
	}
	logger.Debug("run finished", "run_id", runID, "elapsed", runElapsed, "error", err)
	return result, err
}

func (r *BasicRuntime) execute(
	ctx context.Context,
	src io.Reader,
	runID string,
	opts RunOptions,
	emit EventEmitter,
	event func(EventKind) Event,
) (*Result, error) {
	// Parse
	parseStart := opts.Now()
	emit(event(EventPhaseStarted).WithPhase(PhaseParse))

	parser := script.NewParser(src)
	root, err := parser.ParseProgram()
	if err != nil {
		emit(phaseFailed(event, PhaseParse, opts.Now().Sub(parseStart), err))
		return nil, err
	}
	emit(event(EventPhaseFinished).
		WithPhase(PhaseParse).
		WithElapsed(opts.Now().Sub(parseStart)).
		WithPayload("lines", parser.LinesRead()))

	// Evaluate
	env := opts.Env
	if env == nil {
		env = script.NewEnv()
	}
	result := &Result{RunID: runID, Env: env}

	evalStart := opts.Now()
	emit(event(EventPhaseStarted).WithPhase(PhaseEval))

	it := &script.Interpreter{
		Env:    env,
		Stdout: opts.Stdout,
		OnPrint: func(text string) {
			emit(event(EventOutput).
				WithPhase(PhaseEval).
				WithPayload("bytes", len(text)))
		},
		OnLoop: func(iterations int64) {
			emit(event(EventLoopFinished).
				WithPhase(PhaseEval).
				WithPayload("iterations", iterations))
		},
	}
	value, err := it.Eval(ctx, root)
	if err != nil {
		emit(phaseFailed(event, PhaseEval, opts.Now().Sub(evalStart), err))
		return result, err
	}
	result.Value = value

	emit(event(EventPhaseFinished).
		WithPhase(PhaseEval).
		WithElapsed(opts.Now().Sub(evalStart)).
		WithPayload("variables", env.Len()))
	return result, nil
}

func phaseFailed(event func(EventKind) Event, phase Phase, elapsed time.Duration, err error) Event {
	e := event(EventPhaseFailed).
		WithPhase(phase).
		WithElapsed(elapsed).
		WithPayload("error", err.Error())
	var se *script.Error
	if errors.As(err, &se) {
		e = e.WithPayload("line", se.Line).
			WithPayload("kind", se.Kind.String())
	}
	return e
}

// RunFile opens the program at path and runs it. The file is closed as soon
// as parsing ends. Source defaults to path.
func RunFile(ctx context.Context, rt Runtime, path string, opts RunOptions) (*Result, error) {
	f, err := loader.OpenSource(path)
	if err != nil {
		return nil, err
	}
	src := &closeAtEOF{r: f, c: f}
	defer src.Close()

	if opts.Source == "" {
		opts.Source = path
	}
	return rt.Run(ctx, src, opts)
}

// byteSource is a reader the tokenizer can scan without adding a buffer.
type byteSource interface {
	io.Reader
	io.ByteScanner
}

// closeAtEOF closes the underlying file the first time a read reaches the
// end or fails. A successful parse always reads to the end, so the file is
// released before evaluation starts.
type closeAtEOF struct {
	r      byteSource
	c      io.Closer
	closed bool
}

func (c *closeAtEOF) Read(p []byte) (int, error) {
	if c.closed {
		return 0, io.EOF
	}
	n, err := c.r.Read(p)
	if err != nil {
		_ = c.Close()
	}
	return n, err
}

func (c *closeAtEOF) ReadByte() (byte, error) {
	if c.closed {
		return 0, io.EOF
	}
	b, err := c.r.ReadByte()
	if err != nil {
		_ = c.Close()
	}
	return b, err
}

func (c *closeAtEOF) UnreadByte() error {
	return c.r.UnreadByte()
}

func (c *closeAtEOF) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.c.Close()
}

var _ io.ByteScanner = (*closeAtEOF)(nil)
