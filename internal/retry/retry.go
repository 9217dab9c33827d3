package retry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/httpc"
)

// Policy is the attempt budget applied to every call made by a Caller.
type Policy struct {
	MaxAttempts int           // at least 1
	Delay       time.Duration // fixed pause between attempts
	Timeout     time.Duration // per-attempt timeout when the call sets none
}

// DefaultPolicy returns the gateway defaults: 2 attempts, 500ms apart, 5s each.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: constants.DefaultMaxAttempts,
		Delay:       constants.DefaultRetryDelay,
		Timeout:     constants.DefaultCallTimeout,
	}
}

// Normalize clamps invalid values to the smallest legal ones.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Timeout <= 0 {
		p.Timeout = constants.DefaultCallTimeout
	}
	return p
}

// Budget is the longest a call can take under this policy when every
// attempt times out.
func (p Policy) Budget() time.Duration {
	p = p.Normalize()
	return time.Duration(p.MaxAttempts)*p.Timeout + time.Duration(p.MaxAttempts-1)*p.Delay
}

// AttemptObserver is told about every attempt; metrics hook in here.
type AttemptObserver func(service string, attempt Outcome)

// Caller executes OutboundCalls with a fixed-delay retry on network failures.
// It holds no per-call state and is safe for concurrent use.
type Caller struct {
	client   *resty.Client
	policy   Policy
	observer AttemptObserver
	logger   *common.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithClient replaces the default resty client.
func WithClient(c *resty.Client) Option {
	return func(cl *Caller) {
		if c != nil {
			cl.client = c
		}
	}
}

// WithObserver registers a per-attempt callback.
func WithObserver(o AttemptObserver) Option {
	return func(cl *Caller) { cl.observer = o }
}

// NewCaller creates a Caller applying policy to every call.
func NewCaller(policy Policy, opts ...Option) *Caller {
	c := &Caller{
		policy: policy.Normalize(),
		logger: common.GetLogger().WithComponent("retry"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		h := httpc.Httpc{}
		c.client = h.New()
	}
	return c
}

// Policy returns the normalized policy of the caller.
func (c *Caller) Policy() Policy { return c.policy }

// Call performs call with up to MaxAttempts attempts. Timeouts and connection
// failures are retried after the fixed delay; any other failure is fatal at
// once. A completed exchange is a success regardless of status code. Call
// never panics and never returns an error.
func (c *Caller) Call(ctx context.Context, call OutboundCall) (out Outcome) {
	start := time.Now()
	logger := c.logger.WithService(call.Service).WithRequest(methodOf(call), common.MaskSensitiveData(call.URL))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("outbound call panicked", "panic", fmt.Sprint(r))
			out = Fatal("internal error during outbound call")
		}
		out.Elapsed = time.Since(start)
	}()

	if err := validate(call); err != nil {
		logger.Error("outbound call rejected", "error", err)
		return c.observe(call, Fatal(err.Error()), 1)
	}

	var last Outcome
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		last = c.observe(call, c.attempt(ctx, call), attempt)

		if last.Kind != KindTransient {
			if attempt > 1 && last.Kind == KindSuccess {
				logger.Info("outbound call succeeded after retry",
					"attempt", attempt,
					"max_attempts", c.policy.MaxAttempts,
					"status_code", last.StatusCode)
			}
			if last.Kind == KindFatal {
				logger.Error("outbound call failed", "reason", last.Reason, "attempt", attempt)
			}
			return last
		}

		if attempt == c.policy.MaxAttempts {
			break
		}

		logger.Warn("outbound call failed, retrying",
			"cause", last.Cause.String(),
			"reason", last.Reason,
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"retry_delay", c.policy.Delay)

		select {
		case <-ctx.Done():
			logger.Warn("outbound call abandoned during retry delay", "attempt", attempt)
			return last
		case <-time.After(c.policy.Delay):
		}
	}

	logger.Error("outbound call failed after all attempts",
		"cause", last.Cause.String(),
		"reason", last.Reason,
		"attempts", c.policy.MaxAttempts)
	return last
}

func (c *Caller) observe(call OutboundCall, o Outcome, attempt int) Outcome {
	o.Attempts = attempt
	if c.observer != nil {
		c.observer(call.Service, o)
	}
	return o
}

func (c *Caller) attempt(ctx context.Context, call OutboundCall) Outcome {
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = c.policy.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.client.R().SetContext(actx)
	if len(call.Header) > 0 {
		req.SetHeaderMultiValues(call.Header)
	}
	if len(call.Query) > 0 {
		req.SetQueryParamsFromValues(call.Query)
	}
	if len(call.Body) > 0 {
		req.SetBody(call.Body)
	}

	resp, err := req.Execute(methodOf(call), call.URL)
	if err != nil {
		if cause, transient := classify(err); transient {
			return Transient(cause, err.Error())
		}
		if ctx.Err() != nil {
			return Fatal("request cancelled: " + ctx.Err().Error())
		}
		return Fatal(err.Error())
	}
	return Success(resp.StatusCode(), resp.Body(), resp.Header())
}

func methodOf(call OutboundCall) string {
	m := strings.ToUpper(strings.TrimSpace(call.Method))
	if m == "" {
		return http.MethodGet
	}
	return m
}

func validate(call OutboundCall) error {
	u, err := url.Parse(call.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", call.URL)
	}
	return nil
}
