package aggregate

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/retry"
	"github.com/loykin/apigw/internal/util"
)

// Endpoint is where one task sends its request. Path may contain "{id}".
type Endpoint struct {
	Service string
	BaseURL string
	Path    string
}

// Config is the immutable aggregation setup.
type Config struct {
	Primary  Endpoint
	Related  Endpoint
	Stats    Endpoint
	// OwnerParam is the query parameter carrying the entity id on the
	// related and stats calls. Empty disables it.
	OwnerParam string
	Deadline   time.Duration
}

// DefaultConfig targets the user service for the primary entity and the
// transaction service for records and statistics.
func DefaultConfig() Config {
	return Config{
		Primary: Endpoint{
			Service: constants.ServiceUsers,
			BaseURL: constants.DefaultUserServiceURL,
			Path:    constants.DefaultPrimaryPath,
		},
		Related: Endpoint{
			Service: constants.ServiceTransactions,
			BaseURL: constants.DefaultTransactionServiceURL,
			Path:    constants.DefaultRelatedPath,
		},
		Stats: Endpoint{
			Service: constants.ServiceTransactions,
			BaseURL: constants.DefaultTransactionServiceURL,
			Path:    constants.DefaultStatsPath,
		},
		OwnerParam: constants.DefaultOwnerParam,
		Deadline:   constants.DefaultAggregateDeadline,
	}
}

// Validate checks that every endpoint has a usable base URL.
func (c Config) Validate() error {
	for _, l := range Labels {
		ep := c.endpoint(l)
		if !util.ValidBaseURL(ep.BaseURL) {
			return fmt.Errorf("%s endpoint: invalid base url %q", l, ep.BaseURL)
		}
	}
	if c.Deadline < 0 {
		return fmt.Errorf("aggregate deadline must not be negative, got %s", c.Deadline)
	}
	return nil
}

func (c Config) endpoint(l Label) Endpoint {
	switch l {
	case LabelRelated:
		return c.Related
	case LabelStats:
		return c.Stats
	default:
		return c.Primary
	}
}

// CheckBudget reports an error when a call that exhausts its attempts under p
// could outlive the aggregate deadline.
func CheckBudget(p retry.Policy, deadline time.Duration) error {
	if deadline <= 0 {
		return nil
	}
	if b := p.Budget(); b > deadline {
		return fmt.Errorf("retry budget %s (%d attempts x %s + %d x %s delay) exceeds aggregate deadline %s",
			b, p.MaxAttempts, p.Timeout, p.MaxAttempts-1, p.Delay, deadline)
	}
	return nil
}

// Tasks builds the three calls for entityID.
func (c Config) Tasks(entityID string) [NumLabels]Task {
	var tasks [NumLabels]Task
	for _, l := range Labels {
		ep := c.endpoint(l)
		call := retry.OutboundCall{
			Service: ep.Service,
			Method:  http.MethodGet,
			URL:     util.JoinURL(ep.BaseURL, util.ExpandID(ep.Path, entityID)),
			Header:  http.Header{"Accept": []string{"application/json"}},
		}
		if l != LabelPrimary && c.OwnerParam != "" {
			call.Query = url.Values{c.OwnerParam: []string{entityID}}
		}
		tasks[l] = Task{Label: l, Call: call}
	}
	return tasks
}
