// Package health probes backend health endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/httpc"
	"github.com/loykin/apigw/internal/util"
)

// Per-service states.
const (
	StatusUp          = "up"
	StatusError       = "error"
	StatusUnavailable = "unavailable"
)

// Overall states.
const (
	OverallOK       = "ok"
	OverallDegraded = "degraded"
)

// Target is one backend health endpoint.
type Target struct {
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// URL returns the full probe URL.
func (t Target) URL() string { return util.JoinURL(t.BaseURL, t.Path) }

// ServiceStatus is the probe result for one target.
type ServiceStatus struct {
	Status string `json:"status"`
	Code   int    `json:"code,omitempty"`
	URL    string `json:"url"`
	Error  string `json:"error,omitempty"`
}

// Report is the body of GET /health.
type Report struct {
	GatewayStatus string                   `json:"gateway_status"`
	OverallStatus string                   `json:"overall_status"`
	Services      map[string]ServiceStatus `json:"services"`
	Timestamp     float64                  `json:"timestamp"`
}

// Healthy reports whether every service answered 200.
func (r Report) Healthy() bool { return r.OverallStatus == OverallOK }

// HTTPStatus is 200 when healthy and 503 otherwise.
func (r Report) HTTPStatus() int {
	if r.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// Names returns the probed service names in sorted order.
func (r Report) Names() []string {
	out := make([]string, 0, len(r.Services))
	for n := range r.Services {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Checker probes a fixed set of targets concurrently. Probes are single
// attempts; a health check must reflect the current state of a backend.
type Checker struct {
	client  *resty.Client
	targets []Target
	timeout time.Duration
	now     func() time.Time
	logger  *common.Logger
}

// NewChecker validates targets and builds a Checker. A nil client gets a
// default one.
func NewChecker(targets []Target, timeout time.Duration, client *resty.Client) (*Checker, error) {
	seen := map[string]struct{}{}
	cp := make([]Target, 0, len(targets))
	for _, t := range targets {
		name, ok := util.TrimEmptyCheck(t.Name)
		if !ok {
			return nil, errors.New("health target has no name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate health target %q", name)
		}
		seen[name] = struct{}{}
		if !util.ValidBaseURL(t.BaseURL) {
			return nil, fmt.Errorf("health target %q: invalid base url %q", name, t.BaseURL)
		}
		t.Name = name
		cp = append(cp, t)
	}
	if timeout <= 0 {
		timeout = constants.DefaultHealthTimeout
	}
	if client == nil {
		h := httpc.Httpc{}
		client = h.New()
	}
	return &Checker{
		client:  client,
		targets: cp,
		timeout: timeout,
		now:     time.Now,
		logger:  common.GetLogger().WithComponent("health"),
	}, nil
}

// Targets returns a copy of the configured targets.
func (c *Checker) Targets() []Target {
	return append([]Target(nil), c.targets...)
}

// Check probes every target at once and waits for all of them.
func (c *Checker) Check(ctx context.Context) Report {
	var mu sync.Mutex
	services := make(map[string]ServiceStatus, len(c.targets))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range c.targets {
		g.Go(func() error {
			st := c.probe(gctx, t)
			mu.Lock()
			services[t.Name] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := OverallOK
	for name, st := range services {
		if st.Status != StatusUp {
			overall = OverallDegraded
			c.logger.Warn("backend unhealthy", "service", name, "state", st.Status, "status_code", st.Code, "error", st.Error)
		}
	}
	return Report{
		GatewayStatus: StatusUp,
		OverallStatus: overall,
		Services:      services,
		Timestamp:     float64(c.now().UnixNano()) / 1e9,
	}
}

func (c *Checker) probe(ctx context.Context, t Target) ServiceStatus {
	url := t.URL()
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.R().SetContext(pctx).Get(url)
	if err != nil {
		return ServiceStatus{Status: StatusUnavailable, URL: url, Error: errorText(err)}
	}
	st := ServiceStatus{Status: StatusUp, Code: resp.StatusCode(), URL: url}
	if resp.StatusCode() != http.StatusOK {
		st.Status = StatusError
	}
	return st
}

func errorText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return common.MaskSensitiveData(strings.TrimSpace(err.Error()))
}
