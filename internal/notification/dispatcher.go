package notification

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/errors"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/metrics"
	"github.com/aquasentinel/aquasentinel/internal/severity"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrPermanentFailure marks handler errors that must not be retried.
var ErrPermanentFailure = errors.NewStd("permanent delivery failure")

// RetryConfig controls per-channel retries. Delays grow by Multiplier from
// InitialDelay and are capped at MaxDelay.
type RetryConfig struct {
	MaxRetries   int           `json:"max_retries" mapstructure:"maxretries"`
	InitialDelay time.Duration `json:"initial_delay" mapstructure:"initialdelay"`
	MaxDelay     time.Duration `json:"max_delay" mapstructure:"maxdelay"`
	Multiplier   float64       `json:"backoff_multiplier" mapstructure:"multiplier"`
}

// DefaultRetryConfig returns three retries starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
}

// Validate rejects negative retry counts, non-positive delays and
// multipliers below 1.
func (c RetryConfig) Validate() error {
	var problem string
	switch {
	case c.MaxRetries < 0:
		problem = "max retries must not be negative"
	case c.InitialDelay <= 0:
		problem = "initial delay must be positive"
	case c.MaxDelay < c.InitialDelay:
		problem = "max delay must not be below initial delay"
	case math.IsNaN(c.Multiplier) || c.Multiplier < 1:
		problem = "backoff multiplier must be at least 1"
	default:
		return nil
	}
	return errors.Newf("invalid retry config: %s", problem).
		Component("notification").
		Category(errors.CategoryConfiguration).
		Context("max_retries", c.MaxRetries).
		Build()
}

// BreakerConfig enables a circuit breaker per channel.
type BreakerConfig struct {
	Enabled     bool          `json:"enabled"`
	MaxFailures uint32        `json:"max_failures"`
	OpenTimeout time.Duration `json:"open_timeout"`
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Retry            RetryConfig
	BatchConcurrency int
	// ProviderRatePerSec throttles calls to each channel's provider. Zero
	// disables throttling.
	ProviderRatePerSec float64
	ProviderBurst      int
	Breaker            BreakerConfig
}

// DefaultDispatcherConfig returns the production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Retry:            DefaultRetryConfig(),
		BatchConcurrency: 10,
		Breaker:          BreakerConfig{MaxFailures: 5, OpenTimeout: time.Minute},
	}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEventBus publishes delivery events on bus.
func WithEventBus(bus *EventBus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithDispatcherMetrics records delivery metrics.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithRenderer replaces the DefaultRenderer.
func WithRenderer(r Renderer) DispatcherOption {
	return func(d *Dispatcher) { d.renderer = r }
}

// WithDispatcherClock overrides the time source for timestamps.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher routes, renders and delivers notifications with retries. It
// also keeps an in-memory queue for deferred sends.
type Dispatcher struct {
	router   *Router
	handlers *Registry
	renderer Renderer
	bus      *EventBus
	metrics  *metrics.Metrics
	log      logger.Logger
	now      func() time.Time

	mu    sync.RWMutex
	retry RetryConfig

	batchConcurrency int
	ratePerSec       float64
	burst            int
	breakerCfg       BreakerConfig

	guardMu  sync.Mutex
	limiters map[Channel]*rate.Limiter
	breakers map[Channel]*gobreaker.CircuitBreaker

	queueMu  sync.Mutex
	queue    []*Request
	queued   map[string]struct{}
	inflight map[string]context.CancelFunc
}

// NewDispatcher creates a dispatcher. An invalid retry config is replaced by
// the default one.
func NewDispatcher(router *Router, handlers *Registry, cfg DispatcherConfig, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Retry.Validate() != nil {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 10
	}
	if cfg.ProviderBurst <= 0 {
		cfg.ProviderBurst = 1
	}
	d := &Dispatcher{
		router:           router,
		handlers:         handlers,
		renderer:         DefaultRenderer{},
		log:              log.Module("notification").With(logger.String("component", "dispatcher")),
		now:              time.Now,
		retry:            cfg.Retry,
		batchConcurrency: cfg.BatchConcurrency,
		ratePerSec:       cfg.ProviderRatePerSec,
		burst:            cfg.ProviderBurst,
		breakerCfg:       cfg.Breaker,
		limiters:         make(map[Channel]*rate.Limiter),
		breakers:         make(map[Channel]*gobreaker.CircuitBreaker),
		queued:           make(map[string]struct{}),
		inflight:         make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RetryConfig returns the active retry configuration.
func (d *Dispatcher) RetryConfig() RetryConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.retry
}

// SetRetryConfig replaces the retry configuration. Invalid input leaves the
// previous configuration in place.
func (d *Dispatcher) SetRetryConfig(cfg RetryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.retry = cfg
	d.mu.Unlock()
	d.log.Info("retry configuration updated",
		logger.Int("max_retries", cfg.MaxRetries),
		logger.Duration("initial_delay", cfg.InitialDelay),
		logger.Duration("max_delay", cfg.MaxDelay),
		logger.Float64("multiplier", cfg.Multiplier))
	return nil
}

// Send routes req and delivers it on every selected channel concurrently.
// It fails only when the request is invalid or routing fails; per-channel
// failures are reported in the result.
func (d *Dispatcher) Send(ctx context.Context, req *Request) (*DispatchResult, error) {
	if req == nil || req.UserID == "" {
		return nil, errors.Newf("notification request needs a user").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	sev := req.Severity
	if sev == "" {
		sev = severity.Info
	}
	if !sev.Valid() {
		return nil, errors.Newf("unknown severity %q", req.Severity).
			Component("notification").
			Category(errors.CategoryValidation).
			Context("user_id", req.UserID).
			Build()
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	decision, err := d.router.Route(ctx, req.UserID, sev, req.Channels, req.RoutingContext)
	if err != nil {
		return nil, err
	}

	rc := Enrich(RenderContext{
		RequestID:  req.ID,
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		IncidentID: req.IncidentID,
		Severity:   sev,
		Title:      req.Title,
		Message:    req.Message,
		Data:       req.Data,
		Timestamp:  d.now(),
	})

	results := make([]Result, len(decision.Channels))
	var g errgroup.Group
	for i, ch := range decision.Channels {
		g.Go(func() error {
			results[i] = d.deliver(ctx, req, ch, rc)
			return nil
		})
	}
	_ = g.Wait()

	return &DispatchResult{
		RequestID: req.ID,
		UserID:    req.UserID,
		Decision:  decision,
		Results:   results,
	}, nil
}

// deliver sends on one channel with retries and returns its final result.
func (d *Dispatcher) deliver(ctx context.Context, req *Request, ch Channel, rc RenderContext) Result {
	res := Result{
		RequestID: req.ID,
		UserID:    req.UserID,
		Channel:   ch,
		Status:    StatusPending,
		QueuedAt:  d.now(),
	}

	h, ok := d.handlers.Get(ch)
	if !ok {
		res.Status = StatusSkipped
		res.Error = "no handler registered"
		d.complete(&res)
		d.metrics.NotificationResult(string(ch), "skipped")
		return res
	}

	msg, err := d.renderer.Render(ch, rc)
	if err != nil {
		return d.fail(res, err)
	}
	metadata := map[string]string{
		"request_id":  req.ID,
		"channel":     string(ch),
		"severity":    string(rc.Severity),
		"tenant_id":   req.TenantID,
		"incident_id": req.IncidentID,
	}

	cfg := d.RetryConfig()
	attempts := 0
	var sent SendResult
	op := func() error {
		attempts++
		if err := d.throttle(ctx, ch); err != nil {
			return backoff.Permanent(err)
		}
		r, err := d.call(ctx, ch, h, req.UserID, msg, metadata)
		if err != nil {
			if errors.Is(err, ErrPermanentFailure) || errors.Is(err, gobreaker.ErrOpenState) ||
				errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		sent = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		res.Status = StatusRetrying
		d.metrics.NotificationRetry(string(ch))
		d.log.Debug("retrying notification",
			logger.String("request_id", req.ID),
			logger.String("channel", string(ch)),
			logger.Int("attempt", attempts),
			logger.Duration("wait", wait),
			logger.Error(err))
	}

	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(newBackOff(cfg), uint64(cfg.MaxRetries)), ctx), notify)
	res.RetryCount = max(attempts-1, 0)
	if err != nil {
		return d.fail(res, err)
	}

	sentAt := d.now()
	res.Status = StatusSent
	res.SentAt = &sentAt
	res.MessageID = sent.MessageID
	d.complete(&res)
	if err := d.router.RecordSend(ctx, req.UserID, ch); err != nil {
		d.log.Warn("failed to record send for rate limiting",
			logger.String("user_id", req.UserID),
			logger.String("channel", string(ch)),
			logger.Error(err))
	}
	d.metrics.NotificationResult(string(ch), "sent")
	d.publish(EventSent, res)
	return res
}

func (d *Dispatcher) fail(res Result, err error) Result {
	res.Status = StatusFailed
	res.Error = err.Error()
	d.complete(&res)
	d.metrics.NotificationResult(string(res.Channel), "failed")
	d.log.Warn("notification delivery failed",
		logger.String("request_id", res.RequestID),
		logger.String("user_id", res.UserID),
		logger.String("channel", string(res.Channel)),
		logger.Int("retries", res.RetryCount),
		logger.Error(err))
	d.publish(EventFailed, res)
	return res
}

func (d *Dispatcher) complete(res *Result) {
	t := d.now()
	res.CompletedAt = &t
}

func (d *Dispatcher) publish(kind string, res Result) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(DeliveryEvent{
		Type:       kind,
		RequestID:  res.RequestID,
		UserID:     res.UserID,
		Channel:    res.Channel,
		Status:     res.Status,
		Timestamp:  d.now(),
		MessageID:  res.MessageID,
		Error:      res.Error,
		RetryCount: res.RetryCount,
	})
}

// newBackOff builds a deterministic exponential schedule with no elapsed-time
// limit; the retry count bounds it instead.
func newBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// call runs the handler through the channel's breaker, turning panics and
// unsuccessful results into errors.
func (d *Dispatcher) call(ctx context.Context, ch Channel, h Handler, userID string, msg Rendered, metadata map[string]string) (SendResult, error) {
	run := func() (SendResult, error) {
		r, err := safeSend(ctx, h, userID, msg, metadata)
		if err == nil && !r.Success {
			err = errors.Newf("%s handler reported failure: %s", ch, r.Error).
				Component("notification").
				Category(errors.CategoryTransientDelivery).
				Build()
		}
		return r, err
	}

	cb := d.breaker(ch)
	if cb == nil {
		return run()
	}
	out, err := cb.Execute(func() (interface{}, error) {
		return run()
	})
	r, _ := out.(SendResult)
	return r, err
}

func safeSend(ctx context.Context, h Handler, userID string, msg Rendered, metadata map[string]string) (res SendResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("handler panic: %v", p).
				Component("notification").
				Category(errors.CategoryTransientDelivery).
				Build()
		}
	}()
	return h.Send(ctx, userID, msg, metadata)
}

func (d *Dispatcher) throttle(ctx context.Context, ch Channel) error {
	if d.ratePerSec <= 0 {
		return nil
	}
	d.guardMu.Lock()
	l, ok := d.limiters[ch]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.ratePerSec), d.burst)
		d.limiters[ch] = l
	}
	d.guardMu.Unlock()
	return l.Wait(ctx)
}

func (d *Dispatcher) breaker(ch Channel) *gobreaker.CircuitBreaker {
	if !d.breakerCfg.Enabled {
		return nil
	}
	d.guardMu.Lock()
	defer d.guardMu.Unlock()
	if cb, ok := d.breakers[ch]; ok {
		return cb
	}
	maxFailures := d.breakerCfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-" + strings.ToLower(string(ch)),
		MaxRequests: 1,
		Timeout:     d.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.Warn("channel circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	d.breakers[ch] = cb
	return cb
}

// MarkDelivered records a provider delivery receipt.
func (d *Dispatcher) MarkDelivered(requestID, userID string, ch Channel, messageID string) {
	d.metrics.NotificationResult(string(ch), "delivered")
	d.publish(EventDelivered, Result{
		RequestID: requestID,
		UserID:    userID,
		Channel:   ch,
		Status:    StatusDelivered,
		MessageID: messageID,
	})
}

// SendBatch sends a copy of tmpl to every user with bounded concurrency.
// Per-user failures are counted, never returned.
func (d *Dispatcher) SendBatch(ctx context.Context, userIDs []string, tmpl Request) *BatchResult {
	batchID := uuid.NewString()
	out := &BatchResult{
		BatchID: batchID,
		Total:   len(userIDs),
		Results: make(map[string]*DispatchResult, len(userIDs)),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.batchConcurrency)
	for i, userID := range userIDs {
		g.Go(func() error {
			req := tmpl
			req.ID = fmt.Sprintf("%s-%d", batchID, i)
			req.UserID = userID
			res, err := d.Send(ctx, &req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failure++
				out.Results[userID] = &DispatchResult{RequestID: req.ID, UserID: userID}
				d.log.Warn("batch notification rejected",
					logger.String("batch_id", batchID),
					logger.String("user_id", userID),
					logger.Error(err))
				return nil
			}
			switch res.Outcome() {
			case StatusSent:
				out.Success++
			case StatusFailed:
				out.Failure++
			default:
				out.Skipped++
			}
			out.Results[userID] = res
			return nil
		})
	}
	_ = g.Wait()

	d.metrics.BatchSize(len(userIDs))
	if d.bus != nil {
		d.bus.Publish(DeliveryEvent{
			Type:      EventBatchCompleted,
			BatchID:   batchID,
			Timestamp: d.now(),
			Total:     out.Total,
			Success:   out.Success,
			Failure:   out.Failure,
			Skipped:   out.Skipped,
		})
	}
	d.log.Info("batch notification completed",
		logger.String("batch_id", batchID),
		logger.Int("total", out.Total),
		logger.Int("success", out.Success),
		logger.Int("failure", out.Failure),
		logger.Int("skipped", out.Skipped))
	return out
}

// QueueNotification defers req until ProcessQueue. It returns the request ID
// and false when a request with that ID is already queued or in flight.
func (d *Dispatcher) QueueNotification(req Request) (string, bool) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if _, dup := d.queued[req.ID]; dup {
		return req.ID, false
	}
	d.queued[req.ID] = struct{}{}
	d.queue = append(d.queue, &req)
	return req.ID, true
}

// QueueLen returns the number of requests waiting to be processed.
func (d *Dispatcher) QueueLen() int {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return len(d.queue)
}

// ProcessQueue drains the queue and sends every request. Rejected requests
// are logged and left out of the returned results.
func (d *Dispatcher) ProcessQueue(ctx context.Context) []*DispatchResult {
	d.queueMu.Lock()
	pending := d.queue
	d.queue = nil
	cancels := make([]context.CancelFunc, len(pending))
	ctxs := make([]context.Context, len(pending))
	for i, req := range pending {
		ctxs[i], cancels[i] = context.WithCancel(ctx)
		d.inflight[req.ID] = cancels[i]
	}
	d.queueMu.Unlock()

	var mu sync.Mutex
	results := make([]*DispatchResult, 0, len(pending))
	var g errgroup.Group
	g.SetLimit(d.batchConcurrency)
	for i, req := range pending {
		g.Go(func() error {
			defer d.finish(req.ID, cancels[i])
			res, err := d.Send(ctxs[i], req)
			if err != nil {
				d.log.Warn("queued notification rejected",
					logger.String("request_id", req.ID),
					logger.Error(err))
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) finish(id string, cancel context.CancelFunc) {
	cancel()
	d.queueMu.Lock()
	delete(d.queued, id)
	delete(d.inflight, id)
	d.queueMu.Unlock()
}

// ClearQueue drops queued requests and cancels those in flight. It returns
// how many queued requests were dropped.
func (d *Dispatcher) ClearQueue() int {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	n := len(d.queue)
	for _, req := range d.queue {
		delete(d.queued, req.ID)
	}
	d.queue = nil
	for _, cancel := range d.inflight {
		cancel()
	}
	return n
}
