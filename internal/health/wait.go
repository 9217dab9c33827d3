package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/util"
)

// WaitParams configures Wait.
type WaitParams struct {
	URL      string
	Method   string
	Expected int
	Timeout  time.Duration
	Interval time.Duration
}

func (p WaitParams) normalize() WaitParams {
	p.URL = strings.TrimSpace(p.URL)
	p.Method = strings.ToUpper(util.TrimWithDefault(p.Method, constants.DefaultWaitMethod))
	if p.Method != http.MethodGet && p.Method != http.MethodHead {
		p.Method = http.MethodGet
	}
	if p.Expected == 0 {
		p.Expected = constants.DefaultWaitStatus
	}
	if p.Timeout <= 0 {
		p.Timeout = constants.DefaultWaitTimeout
	}
	if p.Interval <= 0 {
		p.Interval = constants.DefaultWaitInterval
	}
	return p
}

// Wait polls p.URL until it answers p.Expected or p.Timeout elapses.
// Method defaults to GET; only GET and HEAD are sent.
func Wait(ctx context.Context, client *resty.Client, p WaitParams) error {
	p = p.normalize()
	if p.URL == "" {
		return nil
	}
	deadline := time.Now().Add(p.Timeout)
	var lastStatus int
	var lastErr error

	for {
		resp, err := client.R().SetContext(ctx).Execute(p.Method, p.URL)
		if err == nil && resp.StatusCode() == p.Expected {
			return nil
		}
		lastErr = err
		if resp != nil {
			lastStatus = resp.StatusCode()
		}
		if time.Now().After(deadline) {
			if lastErr != nil {
				return fmt.Errorf("wait: timeout waiting for %s to return %d (last error: %w)", p.URL, p.Expected, lastErr)
			}
			return fmt.Errorf("wait: timeout waiting for %s to return %d (last=%d)", p.URL, p.Expected, lastStatus)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait: %w", ctx.Err())
		case <-time.After(p.Interval):
		}
	}
}
