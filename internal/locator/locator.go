// Package locator maps inbound request paths to backend services.
package locator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/util"
)

// ErrNoRoute is returned when no route matches a path.
var ErrNoRoute = errors.New("no route for path")

// Service is the identity of a backend, e.g. USER_SERVICE.
type Service string

// Route binds a path prefix to a service.
type Route struct {
	Prefix  string  `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Service Service `mapstructure:"service" yaml:"service" json:"service"`
}

// Table is an immutable, ordered route table. Routes are tried in the order
// they were declared; the first prefix match wins after exact matches.
type Table struct {
	routes   []Route
	services map[Service]string
}

// DefaultRoutes mirrors the gateway's built-in routing.
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/users", Service: constants.ServiceUsers},
		{Prefix: "/api/transactions", Service: constants.ServiceTransactions},
		{Prefix: "/api/reports", Service: constants.ServiceInternal},
	}
}

// NewTable builds a table from routes and a service→base URL map. Both are
// copied. Empty prefixes and services are rejected.
func NewTable(routes []Route, services map[Service]string) (*Table, error) {
	t := &Table{
		routes:   make([]Route, 0, len(routes)),
		services: make(map[Service]string, len(services)),
	}
	for i, r := range routes {
		prefix := strings.TrimSpace(r.Prefix)
		if prefix == "" || r.Service == "" {
			return nil, fmt.Errorf("route %d: prefix and service are required", i)
		}
		if !strings.HasPrefix(prefix, "/") {
			prefix = "/" + prefix
		}
		t.routes = append(t.routes, Route{Prefix: prefix, Service: r.Service})
	}
	for svc, base := range services {
		t.services[svc] = strings.TrimSpace(base)
	}
	return t, nil
}

// Resolve returns the service for path. An exact match on any route wins
// over prefix matches; among prefix matches the first declared route wins.
// One trailing slash is ignored on both sides, as is the query string.
func (t *Table) Resolve(path string) (Service, bool) {
	clean := util.StripTrailingSlash(util.StripQuery(path))
	for _, r := range t.routes {
		if clean == util.StripTrailingSlash(r.Prefix) {
			return r.Service, true
		}
	}
	for _, r := range t.routes {
		if strings.HasPrefix(clean, util.StripTrailingSlash(r.Prefix)) {
			return r.Service, true
		}
	}
	return "", false
}

// BaseURL returns the configured base URL of svc.
func (t *Table) BaseURL(svc Service) (string, bool) {
	u, ok := t.services[svc]
	if !ok || u == "" {
		return "", false
	}
	return u, true
}

// Lookup resolves path and returns the service together with its base URL.
// Services without a base URL (such as the gateway itself) return ok=false
// for the URL but still return the service.
func (t *Table) Lookup(path string) (Service, string, error) {
	svc, ok := t.Resolve(path)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrNoRoute, util.StripQuery(path))
	}
	base, _ := t.BaseURL(svc)
	return svc, base, nil
}

// Routes returns a copy of the declared routes, in priority order.
func (t *Table) Routes() []Route {
	return append([]Route(nil), t.routes...)
}

// Prefixes lists the declared prefixes, in priority order.
func (t *Table) Prefixes() []string {
	out := make([]string, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.Prefix
	}
	return out
}

// Services returns a copy of the service→base URL map.
func (t *Table) Services() map[Service]string {
	out := make(map[Service]string, len(t.services))
	for k, v := range t.services {
		out[k] = v
	}
	return out
}
