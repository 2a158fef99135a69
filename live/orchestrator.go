package live

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/watari-ai/lobby/emotion"
	"github.com/watari-ai/lobby/telemetry"
)

// Orchestrator owns the input queues and the single consumer that
// drives each line through the pipeline stages.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	tracer trace.Tracer

	normal   *Queue[Input]
	priority *Queue[Input]

	processed atomic.Uint64
	filtered  atomic.Uint64
	failed    atomic.Uint64

	mu       sync.Mutex
	onInput  []func(Input)
	onOutput []func(Output)
	onError  []func(error)
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an Orchestrator. It does not start consuming until
// Start is called.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()

	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		tracer:   otel.Tracer("github.com/watari-ai/lobby/live"),
		normal:   NewQueue[Input](cfg.NormalQueueCap),
		priority: NewQueue[Input](cfg.PriorityQueueCap),
	}
}

// OnInput registers a callback for every input handed to the
// orchestrator, filtered or not. Transcript logging hangs off this.
// Callbacks run on the caller's goroutine.
func (o *Orchestrator) OnInput(fn func(Input)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onInput = append(o.onInput, fn)
}

// OnOutput registers a callback for every finished line. Callbacks run
// on the consumer goroutine.
func (o *Orchestrator) OnOutput(fn func(Output)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onOutput = append(o.onOutput, fn)
}

// OnError registers a callback for failed items.
func (o *Orchestrator) OnError(fn func(error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = append(o.onError, fn)
}

// AddInput filters text and queues it for processing. It reports
// whether the input was admitted.
func (o *Orchestrator) AddInput(in Input) bool {
	o.notifyInput(in)

	if !o.cfg.Filter.Admit(in.Text) {
		o.logger.Debug().Str("source", string(in.Source)).Str("text", truncate(in.Text, 30)).Msg("input filtered")
		o.filtered.Add(1)
		telemetry.CountInput(string(in.Source), false)
		return false
	}

	if o.normal.Push(in) {
		o.logger.Warn().Msg("normal queue full, dropped the oldest input")
	}

	telemetry.CountInput(string(in.Source), true)
	telemetry.SetQueueDepth("normal", o.normal.Len())

	o.logger.Info().Str("source", string(in.Source)).Str("author", in.Author).Str("text", truncate(in.Text, 30)).Msg("input queued")

	return true
}

// AddPriority queues an input ahead of the normal backlog. Monetary
// and milestone events land here, unfiltered.
func (o *Orchestrator) AddPriority(in Input) {
	o.notifyInput(in)

	if o.priority.Push(in) {
		o.logger.Warn().Msg("priority queue full, dropped the oldest input")
	}

	telemetry.CountInput(string(in.Source), true)
	telemetry.SetQueueDepth("priority", o.priority.Len())

	o.logger.Info().Str("source", string(in.Source)).Str("author", in.Author).Str("text", truncate(in.Text, 30)).Msg("priority input queued")
}

// QueueDepth returns how many inputs wait in the normal and priority
// queues.
func (o *Orchestrator) QueueDepth() (normal, priority int) {
	return o.normal.Len(), o.priority.Len()
}

// Stats are cumulative pipeline counters since the orchestrator was
// created.
type Stats struct {
	Processed uint64
	Filtered  uint64
	Failed    uint64
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Processed: o.processed.Load(),
		Filtered:  o.filtered.Load(),
		Failed:    o.failed.Load(),
	}
}

// Running reports whether the consumer loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start spawns the consumer. Calling it again while running is a
// no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	go o.consume(runCtx, o.done)

	o.logger.Info().Msg("live mode started")
}

// Stop cancels the consumer and waits for it to exit. Calling it again
// is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}

	o.running = false
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	cancel()
	<-done

	o.logger.Info().Msg("live mode stopped")
}

func (o *Orchestrator) consume(ctx context.Context, done chan struct{}) {
	defer close(done)

	consecutivePriority := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		in, ok, fromPriority := o.nextInput(consecutivePriority)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.ProcessInterval):
			}
			continue
		}

		if fromPriority {
			consecutivePriority++
		} else {
			consecutivePriority = 0
		}

		telemetry.SetQueueDepth("normal", o.normal.Len())
		telemetry.SetQueueDepth("priority", o.priority.Len())

		out, err := o.process(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			o.logger.Error().Err(err).Str("text", truncate(in.Text, 50)).Msg("failed to process input")
			o.reportError(err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.ErrorBackoff):
			}
			continue
		}

		o.emit(out)
	}
}

// nextInput pops the next item, priority first. With a positive burst
// cap a long priority streak lets one normal item through.
func (o *Orchestrator) nextInput(consecutivePriority int) (Input, bool, bool) {
	if o.cfg.MaxPriorityBurst > 0 && consecutivePriority >= o.cfg.MaxPriorityBurst {
		if in, ok := o.normal.Pop(); ok {
			return in, true, false
		}
	}

	if in, ok := o.priority.Pop(); ok {
		return in, true, true
	}

	if in, ok := o.normal.Pop(); ok {
		return in, true, false
	}

	return Input{}, false, false
}

// ProcessNow runs one input through the pipeline immediately,
// bypassing the queues. Used for manual lines and tests of the wiring.
func (o *Orchestrator) ProcessNow(ctx context.Context, in Input) (Output, error) {
	return o.process(ctx, in)
}

func (o *Orchestrator) process(ctx context.Context, in Input) (_ Output, err error) {
	defer func() {
		if err != nil {
			o.failed.Add(1)
			return
		}
		o.processed.Add(1)
	}()

	o.logger.Info().Str("source", string(in.Source)).Str("author", in.Author).Str("text", truncate(in.Text, 50)).Msg("processing input")

	ctx, span := o.tracer.Start(ctx, "pipeline.process")
	defer span.End()

	var answer string
	err = o.stage(ctx, "respond", func(ctx context.Context) error {
		var err error
		answer, err = o.deps.Responder.Respond(ctx, in.Text)
		return err
	})
	if err != nil {
		return Output{}, err
	}

	var result emotion.Result
	_ = o.stage(ctx, "classify", func(context.Context) error {
		result = o.deps.Classifier.Classify(answer)
		return nil
	})

	var audioPath string
	err = o.stage(ctx, "synthesize", func(ctx context.Context) error {
		var err error
		audioPath, err = o.deps.Synthesizer.Synthesize(ctx, answer, result.Primary)
		return err
	})
	if err != nil {
		return Output{}, err
	}

	out := Output{
		ID:           uuid.NewString(),
		Input:        in,
		ResponseText: answer,
		Emotion:      result,
		AudioPath:    audioPath,
		At:           time.Now(),
	}

	if o.deps.Avatar != nil {
		err = o.stage(ctx, "cue", func(ctx context.Context) error {
			return o.deps.Avatar.Cue(ctx, out)
		})
		if err != nil {
			return Output{}, err
		}
	}

	telemetry.CountOutput()
	o.logger.Info().Str("emotion", string(result.Primary)).Str("text", truncate(answer, 50)).Msg("output ready")

	return out, nil
}

// stage runs fn under a span and a duration histogram, counting
// failures per stage name.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	stageCtx, span := o.tracer.Start(ctx, name)
	defer span.End()

	var err error
	telemetry.TimeStage(name, func() {
		err = fn(stageCtx)
	})

	if err != nil {
		telemetry.CountPipelineError(name)
		span.RecordError(err)
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

func (o *Orchestrator) notifyInput(in Input) {
	o.mu.Lock()
	handlers := slices.Clone(o.onInput)
	o.mu.Unlock()

	// runs on the chat client's read goroutine, a panicking callback
	// must not take the connection down
	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error().Any("panic", r).Msg("input callback panicked")
				}
			}()
			fn(in)
		}()
	}
}

func (o *Orchestrator) emit(out Output) {
	o.mu.Lock()
	handlers := slices.Clone(o.onOutput)
	o.mu.Unlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error().Any("panic", r).Msg("output callback panicked")
				}
			}()
			fn(out)
		}()
	}
}

func (o *Orchestrator) reportError(err error) {
	o.mu.Lock()
	handlers := slices.Clone(o.onError)
	o.mu.Unlock()

	for _, fn := range handlers {
		fn(err)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
