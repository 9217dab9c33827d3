// Package proxy forwards /api/* requests to the backend chosen by the
// route table.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/constants"
	"github.com/loykin/apigw/internal/locator"
	"github.com/loykin/apigw/internal/report"
	"github.com/loykin/apigw/internal/retry"
	"github.com/loykin/apigw/internal/util"
)

// APIPrefix is removed from the inbound path before forwarding.
const APIPrefix = "/api"

// Caller performs one logical outbound call.
type Caller interface {
	Call(ctx context.Context, call retry.OutboundCall) retry.Outcome
}

// Request is the inbound request to forward.
type Request struct {
	Method   string
	Path     string // full inbound path, e.g. /api/users/1
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Response is what the gateway writes back.
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	Service string
	Outcome string
}

// NoRouteBody is returned when no route matches.
type NoRouteBody struct {
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	AvailableRoutes []string `json:"available_routes"`
}

// ErrInternalRoute marks paths owned by the gateway itself.
var ErrInternalRoute = errors.New("route is served by the gateway")

// Proxy forwards requests through a retrying caller.
type Proxy struct {
	table  *locator.Table
	caller Caller
	logger *common.Logger
}

// New builds a Proxy.
func New(table *locator.Table, caller Caller) (*Proxy, error) {
	if table == nil {
		return nil, errors.New("proxy: route table is required")
	}
	if caller == nil {
		return nil, errors.New("proxy: caller is required")
	}
	return &Proxy{table: table, caller: caller, logger: common.GetLogger().WithComponent("proxy")}, nil
}

// Target resolves an inbound path to the service and the backend URL it
// is forwarded to.
func (p *Proxy) Target(path string) (locator.Service, string, error) {
	svc, base, err := p.table.Lookup(path)
	if err != nil {
		return "", "", err
	}
	if svc == constants.ServiceInternal {
		return svc, "", ErrInternalRoute
	}
	if base == "" {
		return svc, "", fmt.Errorf("service %s has no base url", svc)
	}
	return svc, util.JoinURL(base, BackendPath(path)), nil
}

// BackendPath strips the /api prefix once.
func BackendPath(path string) string {
	p := util.StripQuery(path)
	if p == APIPrefix || strings.HasPrefix(p, APIPrefix+"/") {
		p = strings.TrimPrefix(p, APIPrefix)
	}
	return p
}

// Forward relays req to its backend. Failures are mapped to JSON bodies:
// no route 404, unconfigured service 500, timeout 504, connection 503,
// anything else 500. Backend responses pass through with their status.
func (p *Proxy) Forward(ctx context.Context, req Request) Response {
	logger := p.logger.WithRequest(req.Method, req.Path)

	svc, target, err := p.Target(req.Path)
	switch {
	case errors.Is(err, locator.ErrNoRoute):
		logger.Warn("no service configured for path")
		return p.noRoute(req.Path)
	case errors.Is(err, ErrInternalRoute):
		return jsonResponse(http.StatusNotFound, string(svc), "",
			report.ErrorJSON(report.CodeNotFound, "The requested URL does not exist on this gateway"))
	case err != nil:
		logger.Error("service url not configured", "service", svc, "error", err)
		return jsonResponse(http.StatusInternalServerError, string(svc), "",
			report.ErrorJSON("invalid_configuration", "Service URL is not configured"))
	}

	query, _ := url.ParseQuery(req.RawQuery)
	header := ForwardHeaders(req.Header)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))

	logger.Info("forwarding request", "service", svc, "target", common.MaskSensitiveData(target))
	out := p.caller.Call(ctx, retry.OutboundCall{
		Service: string(svc),
		Method:  req.Method,
		URL:     target,
		Header:  header,
		Query:   query,
		Body:    req.Body,
	})

	switch {
	case out.IsSuccess():
		logger.Info("backend responded", "service", svc, "upstream_status", out.StatusCode)
		return Response{
			Status:  out.StatusCode,
			Header:  ResponseHeaders(out.Header),
			Body:    out.Body,
			Service: string(svc),
			Outcome: out.Tag(),
		}
	case out.IsTransient() && out.Cause == retry.CauseTimeout:
		return jsonResponse(http.StatusGatewayTimeout, string(svc), out.Tag(),
			report.ErrorJSON(report.CodeGatewayTimeout, "The service did not respond in time"))
	case out.IsTransient():
		return jsonResponse(http.StatusServiceUnavailable, string(svc), out.Tag(),
			report.ErrorJSON(report.CodeServiceUnavailable, fmt.Sprintf("Could not connect to %s", svc)))
	default:
		return jsonResponse(http.StatusInternalServerError, string(svc), out.Tag(),
			report.ErrorJSON(report.CodeInternalError, "An unexpected error occurred in the gateway"))
	}
}

func (p *Proxy) noRoute(path string) Response {
	body, _ := json.Marshal(NoRouteBody{
		Error:           "route_not_found",
		Message:         fmt.Sprintf("No service is configured for %s", util.StripQuery(path)),
		AvailableRoutes: p.table.Prefixes(),
	})
	return jsonResponse(http.StatusNotFound, "", "", body)
}

func jsonResponse(status int, svc, outcome string, body []byte) Response {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return Response{Status: status, Header: h, Body: body, Service: svc, Outcome: outcome}
}

// ForwardHeaders copies h without hop-by-hop headers. Accept-Encoding is
// dropped so the transport negotiates and decodes compression itself.
func ForwardHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range constants.HopHeaders {
		out.Del(name)
	}
	out.Del("Accept-Encoding")
	return out
}

// ResponseHeaders copies backend headers without server, date,
// content-encoding and the framing headers the gateway rewrites.
func ResponseHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range constants.UpstreamHeadersToDrop {
		out.Del(name)
	}
	for _, name := range constants.HopHeaders {
		out.Del(name)
	}
	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", "application/json")
	}
	return out
}
