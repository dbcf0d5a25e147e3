package notify

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dmitrijs2005/paywall/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Notifier is what services depend on.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type failureRecorder interface {
	NotifyFailed(sink string)
}

type Policy struct {
	Attempts  uint64
	BaseDelay time.Duration
	Timeout   time.Duration
}

var DefaultPolicy = Policy{Attempts: 3, BaseDelay: 200 * time.Millisecond, Timeout: 30 * time.Second}

type Dispatcher struct {
	sinks   []Sink
	log     logging.Logger
	policy  Policy
	metrics failureRecorder
	wg      sync.WaitGroup
}

func NewDispatcher(log logging.Logger, policy Policy, metrics failureRecorder, sinks ...Sink) *Dispatcher {
	if policy.Attempts == 0 {
		policy = DefaultPolicy
	}
	return &Dispatcher{sinks: sinks, log: log.With("module", "notify"), policy: policy, metrics: metrics}
}

// Register adds sinks. It must not race with Notify; call it during startup.
func (d *Dispatcher) Register(sinks ...Sink) {
	d.sinks = append(d.sinks, sinks...)
}

// Notify fans ev out to every sink in the background. It returns at once and
// is detached from ctx cancellation.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if len(d.sinks) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.policy.Timeout)
		defer cancel()

		for _, s := range d.sinks {
			d.safeCall(ctx, s, ev)
		}
	}()
}

// Wait blocks until every in-flight notification finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) safeCall(ctx context.Context, s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error(ctx, "notification sink panicked", "sink", s.Name(), "kind", ev.Kind,
				"panic", r, "stack", string(debug.Stack()))
			d.recordFailure(s.Name())
		}
	}()

	b := retry.WithMaxRetries(d.policy.Attempts-1, retry.NewExponential(d.policy.BaseDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := s.Send(ctx, ev); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.log.Error(ctx, "notification failed", "sink", s.Name(), "kind", ev.Kind, "entry_id", ev.EntryID, "error", err)
		d.recordFailure(s.Name())
	}
}

func (d *Dispatcher) recordFailure(sink string) {
	if d.metrics != nil {
		d.metrics.NotifyFailed(sink)
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	log logging.Logger
}

func NewLogSink(log logging.Logger) *LogSink {
	return &LogSink{log: log.With("module", "events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, ev Event) error {
	s.log.Info(ctx, "ledger event", "kind", ev.Kind, "entry_id", ev.EntryID, "account_id", ev.AccountID,
		"amount", FormatAmount(ev.Amount, ev.Currency), "status", ev.Status)
	return nil
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event)

func (f Func) Notify(ctx context.Context, ev Event) { f(ctx, ev) }
