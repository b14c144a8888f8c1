package core

import (
	"context"
	"sync"
	"time"

	"craftskins/internal/archive"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"
)

// Logger is the minimal structured logger the service writes to. Args are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock supplies timestamps for audit entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus is the outcome recorded for an operation.
type AuditStatus string

// Audit statuses.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation.
type AuditEntry struct {
	ID        string
	Operation string
	Actor     string
	Subject   string
	Signature string
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry per completed operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes and latency.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type serviceOptions struct {
	programID solana.PublicKey
	logger    Logger
	clock     Clock
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	limits    *callerLimits
	archive   archive.Store
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithProgramID targets a crafting program deployed at id.
func WithProgramID(id solana.PublicKey) ServiceOption {
	return func(o *serviceOptions) { o.programID = id }
}

// WithArchive sets the snapshot archive.
func WithArchive(store archive.Store) ServiceOption {
	return func(o *serviceOptions) { o.archive = store }
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the audit clock. Nil is ignored.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAuditRecorder sets the audit sink. Nil is ignored.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink. Nil is ignored.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer. Nil is ignored.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRateLimit throttles submissions per signing caller to rps
// transactions per second with the given burst. A non-positive rps disables
// the limit.
func WithRateLimit(rps float64, burst int) ServiceOption {
	return func(o *serviceOptions) {
		if rps <= 0 {
			o.limits = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limits = newCallerLimits(rate.Limit(rps), burst)
	}
}

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = 512
)

// callerLimits keeps one token bucket per caller and drops buckets idle for
// longer than idleTTL every limiterSweepEvery submissions.
type callerLimits struct {
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	mu       sync.Mutex
	hits     uint64
	byCaller map[solana.PublicKey]*callerLimiter
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimits(limit rate.Limit, burst int) *callerLimits {
	return &callerLimits{
		limit:    limit,
		burst:    burst,
		idleTTL:  limiterIdleTTL,
		now:      time.Now,
		byCaller: make(map[solana.PublicKey]*callerLimiter),
	}
}

func (c *callerLimits) wait(ctx context.Context, caller solana.PublicKey) error {
	if c == nil {
		return nil
	}
	now := c.now()
	c.mu.Lock()
	e, ok := c.byCaller[caller]
	if !ok {
		e = &callerLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.byCaller[caller] = e
	}
	e.lastSeen = now
	c.hits++
	if c.hits%limiterSweepEvery == 0 {
		cutoff := now.Add(-c.idleTTL)
		for k, v := range c.byCaller {
			if v.lastSeen.Before(cutoff) {
				delete(c.byCaller, k)
			}
		}
	}
	limiter := e.limiter
	c.mu.Unlock()
	return limiter.Wait(ctx)
}
