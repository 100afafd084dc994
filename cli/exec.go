package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/petal-labs/petalscript/bus"
	petalotel "github.com/petal-labs/petalscript/otel"
	"github.com/petal-labs/petalscript/runtime"
)

// historyBufferSize is the bus buffer between a run and the history writer.
const historyBufferSize = 4096

// execOptions selects the optional observers attached to every run.
type execOptions struct {
	historyPath  string
	otlpEndpoint string
	metrics      bool

	// eventTrail logs the recorded events of the newest run at debug level
	// on close. Without a history path they are kept in memory.
	eventTrail bool
}

// addExecFlags registers the flags read by execOptionsFromFlags.
func addExecFlags(cmd *cobra.Command) {
	cmd.Flags().String("history", "", "Record run events to this SQLite database (default: history.path from config)")
	cmd.Flags().String("otlp-endpoint", "", "Export traces to this OTLP/HTTP collector (host:port)")
	cmd.Flags().Bool("metrics", false, "Print run metrics to stderr when finished")
}

func execOptionsFromFlags(cmd *cobra.Command, st *settings) execOptions {
	history, _ := cmd.Flags().GetString("history")
	if strings.TrimSpace(history) == "" {
		history = st.cfg.History.Path
	}
	endpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	if strings.TrimSpace(endpoint) == "" {
		endpoint = st.cfg.Telemetry.OTLPEndpoint
	}
	metrics, _ := cmd.Flags().GetBool("metrics")
	return execOptions{
		historyPath:  strings.TrimSpace(history),
		otlpEndpoint: strings.TrimSpace(endpoint),
		metrics:      metrics,
	}
}

// executor runs program files with the configured observers: OTLP tracing,
// in-process metrics and sqlite run history.
type executor struct {
	st         *settings
	rt         runtime.Runtime
	handlers   []runtime.EventHandler
	decorators []runtime.EventEmitterDecorator
	publisher  runtime.EventPublisher
	reader     *sdkmetric.ManualReader
	closers    []func(context.Context) error
}

func newExecutor(ctx context.Context, st *settings, opts execOptions) (*executor, error) {
	e := &executor{st: st, rt: runtime.NewRuntime()}

	if opts.otlpEndpoint != "" {
		tp, err := petalotel.NewTracerProvider(ctx, opts.otlpEndpoint, st.cfg.Telemetry.Insecure)
		if err != nil {
			return nil, err
		}
		tracing := petalotel.NewTracingHandler(tp.Tracer(petalotel.InstrumentationName))
		e.handlers = append(e.handlers, tracing.Handle)
		e.decorators = append(e.decorators, petalotel.Decorator(tracing))
		e.closers = append(e.closers, tp.Shutdown)
		st.logger.Debug("trace export enabled", "endpoint", opts.otlpEndpoint)
	}

	if opts.metrics {
		mp, reader := petalotel.NewMeterProvider()
		metrics, err := petalotel.NewMetricsHandler(mp.Meter(petalotel.InstrumentationName))
		if err != nil {
			_ = e.close(ctx)
			return nil, fmt.Errorf("initializing metrics: %w", err)
		}
		e.handlers = append(e.handlers, metrics.Handle)
		e.reader = reader
		e.closers = append(e.closers, mp.Shutdown)
	}

	switch {
	case opts.historyPath != "":
		store, err := openHistoryStore(opts.historyPath, st)
		if err != nil {
			_ = e.close(ctx)
			return nil, err
		}
		e.record(store, opts.eventTrail, func(ctx context.Context) error {
			// Prune after the drain so the run just recorded counts toward max_runs.
			if err := store.Prune(ctx); err != nil {
				st.logger.Warn("pruning run history", "error", err)
			}
			return store.Close()
		})
		st.logger.Debug("recording run history", "path", opts.historyPath)
	case opts.eventTrail:
		e.record(bus.NewMemEventStore(), true, nil)
	}

	return e, nil
}

// historyStore is a store the executor can record runs into and read back.
type historyStore interface {
	bus.EventStore
	bus.RunLister
}

// record publishes run events through an output coalescer onto a bus whose
// subscriber appends them to store. On close the bus is drained, the trail
// is logged if requested, and finish runs.
func (e *executor) record(store historyStore, trail bool, finish func(context.Context) error) {
	b := bus.NewMemBus(bus.MemBusConfig{SubscriberBufferSize: historyBufferSize})
	done := bus.NewStoreSubscriber(store, e.st.logger).Consume(b.SubscribeAll())
	coalescer := bus.NewOutputCoalescer(b.Publish, bus.CoalesceConfig{})

	e.publisher = coalescer
	e.closers = append(e.closers, func(ctx context.Context) error {
		coalescer.Flush()
		closeErr := b.Close()
		<-done
		if dropped := b.Dropped(); dropped > 0 {
			e.st.logger.Warn("run history incomplete", "dropped_events", dropped)
		}
		if trail {
			if err := logEventTrail(ctx, e.st.logger, store); err != nil {
				e.st.logger.Warn("reading recorded events", "error", err)
			}
		}
		if finish == nil {
			return closeErr
		}
		return errors.Join(closeErr, finish(ctx))
	})
}

// logEventTrail logs every recorded event of the newest run in store.
func logEventTrail(ctx context.Context, logger *slog.Logger, store historyStore) error {
	runs, err := store.Runs(ctx, 1)
	if err != nil || len(runs) == 0 {
		return err
	}
	run := runs[0]

	events, err := store.List(ctx, run.RunID, 0, 0)
	if err != nil {
		return err
	}
	for _, ev := range events {
		logger.Debug("event",
			"run_id", ev.RunID,
			"seq", ev.Seq,
			"kind", string(ev.Kind),
			"phase", string(ev.Phase),
			"payload", ev.Payload,
		)
	}
	last, err := store.LatestSeq(ctx, run.RunID)
	if err != nil {
		return err
	}
	logger.Debug("run recorded", "run_id", run.RunID, "status", run.Status, "events", len(events), "last_seq", last)
	return nil
}

func openHistoryStore(path string, st *settings) (*bus.SQLiteEventStore, error) {
	if !strings.HasPrefix(strings.ToLower(path), "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{
		DSN:          path,
		RetentionAge: st.cfg.History.Retention,
		MaxRuns:      st.cfg.History.MaxRuns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	return store, nil
}

// runFile runs the program at path, printing to stdout.
func (e *executor) runFile(ctx context.Context, path string, stdout io.Writer) (*runtime.Result, error) {
	opts := runtime.RunOptions{
		Source:       path,
		Stdout:       stdout,
		Logger:       e.st.logger,
		EventHandler: runtime.MultiEventHandler(e.handlers...),
		EventBus:     e.publisher,
	}
	if len(e.decorators) > 0 {
		opts.EventEmitterDecorator = chainDecorators(e.decorators...)
	}
	return runtime.RunFile(ctx, e.rt, path, opts)
}

// writeMetrics prints collected metrics when --metrics is set.
func (e *executor) writeMetrics(ctx context.Context, w io.Writer) error {
	if e.reader == nil {
		return nil
	}
	return petalotel.WriteMetrics(ctx, w, e.reader)
}

// close releases observers in reverse order of creation.
func (e *executor) close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i](ctx))
	}
	e.closers = nil
	return errors.Join(errs...)
}

// chainDecorators applies ds so that the first decorator sees each event first.
func chainDecorators(ds ...runtime.EventEmitterDecorator) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		for i := len(ds) - 1; i >= 0; i-- {
			next = ds[i](next)
		}
		return next
	}
}
