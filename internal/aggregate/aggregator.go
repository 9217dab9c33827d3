// Package aggregate fans one entity lookup out to three backends and
// collects the outcomes under a single deadline.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/retry"
)

const tracerName = "github.com/loykin/apigw/internal/aggregate"

// Caller performs one outbound call. *retry.Caller satisfies it.
type Caller interface {
	Call(ctx context.Context, call retry.OutboundCall) retry.Outcome
}

// Aggregator runs the fixed task group.
type Aggregator struct {
	caller Caller
	cfg    Config
	tracer trace.Tracer
	logger *common.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTracer sets the tracer used for the aggregate and per-task spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Aggregator) {
		if t != nil {
			a.tracer = t
		}
	}
}

// New validates cfg and returns an Aggregator.
func New(caller Caller, cfg Config, opts ...Option) (*Aggregator, error) {
	if caller == nil {
		return nil, errors.New("aggregate: caller is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = constants.DefaultAggregateDeadline
	}
	a := &Aggregator{
		caller: caller,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
		logger: common.GetLogger().WithComponent("aggregate"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the aggregator configuration.
func (a *Aggregator) Config() Config { return a.cfg }

type finished struct {
	label   Label
	outcome retry.Outcome
}

// Aggregate runs the primary, related and stats calls concurrently and waits
// for all of them or the deadline, whichever comes first. Tasks are detached
// from ctx cancellation; each is bounded by its own retry budget. A failing
// task never affects its siblings.
//
// On deadline the returned Result has every unfinished slot set to a
// transient timeout and the error is ErrAggregateTimeout. Results arriving
// after that are discarded.
func (a *Aggregator) Aggregate(ctx context.Context, entityID string) (Result, error) {
	start := time.Now()
	logger := a.logger.WithEntity(entityID)

	ctx, span := a.tracer.Start(ctx, "aggregate",
		trace.WithAttributes(attribute.String("entity.id", entityID)))
	defer span.End()

	var res Result
	detached := context.WithoutCancel(ctx)
	results := make(chan finished, NumLabels)
	for _, task := range a.cfg.Tasks(entityID) {
		res.Services[task.Label] = task.Call.Service
		go a.run(detached, task, results)
	}

	timer := time.NewTimer(a.cfg.Deadline)
	defer timer.Stop()

	var done [NumLabels]bool
	for received := 0; received < NumLabels; {
		select {
		case f := <-results:
			res.Outcomes[f.label] = f.outcome
			done[f.label] = true
			received++
		case <-timer.C:
			return a.abandon(res, done, start, span, logger, ErrAggregateTimeout)
		case <-ctx.Done():
			err := fmt.Errorf("aggregate abandoned: %w", ctx.Err())
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = ErrAggregateTimeout
			}
			return a.abandon(res, done, start, span, logger, err)
		}
	}

	res.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int64("aggregate.elapsed_ms", res.Elapsed.Milliseconds()))
	logger.Debug("aggregation collected",
		"primary", res.Outcomes[LabelPrimary].Tag(),
		"related", res.Outcomes[LabelRelated].Tag(),
		"stats", res.Outcomes[LabelStats].Tag(),
		"duration", res.Elapsed)
	return res, nil
}

func (a *Aggregator) abandon(res Result, done [NumLabels]bool, start time.Time, span trace.Span, logger *common.Logger, err error) (Result, error) {
	var pending []string
	for _, l := range Labels {
		if !done[l] {
			res.Outcomes[l] = retry.Transient(retry.CauseTimeout, "task did not finish before the aggregate deadline")
			pending = append(pending, l.String())
		}
	}
	res.Elapsed = time.Since(start)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Warn("aggregation stopped waiting",
		"error", err,
		"pending", pending,
		"deadline", a.cfg.Deadline)
	return res, err
}

func (a *Aggregator) run(ctx context.Context, task Task, results chan<- finished) {
	ctx, span := a.tracer.Start(ctx, "aggregate."+task.Label.String(),
		trace.WithAttributes(
			attribute.String("aggregate.label", task.Label.String()),
			attribute.String("peer.service", task.Call.Service),
		))
	defer span.End()

	out := retry.Fatal("task did not complete")
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithLabel(task.Label.String()).Error("aggregation task panicked", "panic", fmt.Sprint(r))
			out = retry.Fatal("internal error in aggregation task")
		}
		span.SetAttributes(
			attribute.String("aggregate.outcome", out.Tag()),
			attribute.Int("http.status_code", out.StatusCode),
			attribute.Int("retry.attempts", out.Attempts))
		if !out.IsSuccess() {
			span.SetStatus(codes.Error, out.Reason)
		}
		results <- finished{label: task.Label, outcome: out}
	}()

	call := task.Call
	call.Header = call.Header.Clone()
	if call.Header == nil {
		call.Header = http.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(call.Header))
	out = a.caller.Call(ctx, call)
}
