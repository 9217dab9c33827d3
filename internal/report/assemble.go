// Package report turns aggregation outcomes into the client response.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/apigw/internal/aggregate"
	"github.com/loykin/apigw/internal/common"
	"github.com/loykin/apigw/internal/retry"
)

// Response is the final status and JSON body of an aggregate request.
type Response struct {
	Status int
	State  State
	Body   []byte
}

// ErrorBody is the shape of every failure response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Document is the merged report returned on success.
type Document struct {
	Primary  json.RawMessage `json:"primary"`
	Related  json.RawMessage `json:"related"`
	Summary  json.RawMessage `json:"summary"`
	Stats    json.RawMessage `json:"stats"`
	Metadata Metadata        `json:"metadata"`
}

// Metadata describes how a Document was produced.
type Metadata struct {
	GeneratedAt  float64           `json:"generated_at"`
	RelatedCount int               `json:"related_count"`
	Sources      map[string]string `json:"sources"`
	Degraded     []string          `json:"degraded"`
}

var (
	emptyArray  = json.RawMessage(`[]`)
	emptyObject = json.RawMessage(`{}`)
)

// Assemble decides the status and body for entityID. aggErr is the error
// returned by the aggregator; the primary outcome alone decides the status,
// secondary failures only degrade the document. now stamps generated_at.
func Assemble(entityID string, res aggregate.Result, aggErr error, now time.Time) (resp Response) {
	logger := common.GetLogger().WithComponent("report").WithEntity(entityID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("report assembly panicked", "panic", fmt.Sprint(r))
			resp = Failure(StateInternalError, "")
		}
	}()

	if aggErr != nil {
		if errors.Is(aggErr, aggregate.ErrAggregateTimeout) {
			logger.Warn("aggregate deadline exceeded", "error", aggErr)
			return Failure(StateTimedOut, "")
		}
		logger.Error("aggregation failed", "error", aggErr)
		return Failure(StateInternalError, "")
	}

	primary := res.Get(aggregate.LabelPrimary)
	switch primary.Kind {
	case retry.KindTransient:
		logger.Warn("primary dependency failed", "cause", primary.Cause.String(), "reason", primary.Reason)
		if primary.Cause == retry.CauseConnection {
			return Failure(StateUnavailable, "")
		}
		return Failure(StateTimedOut, "")
	case retry.KindFatal:
		logger.Error("primary dependency failed", "reason", primary.Reason)
		return Failure(StateUpstreamError, "")
	}

	switch primary.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Failure(StateNotFound, entityID)
	default:
		logger.Error("primary dependency returned unexpected status", "upstream_status", primary.StatusCode)
		return Failure(StateUpstreamError, "")
	}

	doc, err := Merge(res, now)
	if err != nil {
		logger.Error("report merge failed", "error", err)
		return Failure(StateInternalError, "")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		logger.Error("report encoding failed", "error", err)
		return Failure(StateInternalError, "")
	}
	if len(doc.Metadata.Degraded) > 0 {
		logger.Info("report generated with degraded sources", "degraded", doc.Metadata.Degraded)
	}
	return Response{Status: http.StatusOK, State: StateSucceeded, Body: body}
}

// Merge builds the Document from a Result whose primary slot holds a 200.
// The primary body must be a JSON object. Secondary slots that failed, did
// not return 200 or returned unexpected JSON fall back to empty values.
func Merge(res aggregate.Result, now time.Time) (Document, error) {
	primary := res.Get(aggregate.LabelPrimary)
	if !gjson.ValidBytes(primary.Body) || !gjson.ParseBytes(primary.Body).IsObject() {
		return Document{}, errors.New("primary body is not a JSON object")
	}

	doc := Document{
		Primary: json.RawMessage(primary.Body),
		Related: emptyArray,
		Summary: emptyObject,
		Stats:   emptyObject,
		Metadata: Metadata{
			GeneratedAt: float64(now.UnixNano()) / float64(time.Second),
			Sources:     make(map[string]string, aggregate.NumLabels),
			Degraded:    []string{},
		},
	}

	if body, ok := okBody(res.Get(aggregate.LabelRelated)); ok {
		root := gjson.ParseBytes(body)
		records := root.Get("records")
		if root.IsArray() {
			records = root
		}
		if records.IsArray() {
			doc.Related = json.RawMessage(records.Raw)
			doc.Metadata.RelatedCount = len(records.Array())
		}
		if summary := root.Get("summary"); summary.IsObject() {
			doc.Summary = json.RawMessage(summary.Raw)
		}
	}

	if body, ok := okBody(res.Get(aggregate.LabelStats)); ok {
		if stats := gjson.GetBytes(body, "summary_general"); stats.IsObject() {
			doc.Stats = json.RawMessage(stats.Raw)
		}
	}

	for _, l := range aggregate.Labels {
		if svc := res.Services[l]; svc != "" {
			doc.Metadata.Sources[l.String()] = svc
		}
	}
	for _, l := range res.Degraded() {
		doc.Metadata.Degraded = append(doc.Metadata.Degraded, l.String())
	}
	return doc, nil
}

func okBody(o retry.Outcome) ([]byte, bool) {
	if !o.IsSuccess() || o.StatusCode != http.StatusOK || !gjson.ValidBytes(o.Body) {
		return nil, false
	}
	return o.Body, true
}

// Failure builds the error response for a terminal failure state. entityID
// is only used in the not-found message.
func Failure(state State, entityID string) Response {
	status, code, msg := http.StatusInternalServerError, CodeInternalError, "Could not generate the report"
	switch state {
	case StateTimedOut:
		status, code, msg = http.StatusGatewayTimeout, CodeGatewayTimeout, "Timed out while querying backend services"
	case StateUnavailable:
		status, code, msg = http.StatusServiceUnavailable, CodeServiceUnavailable, "Could not connect to backend services"
	case StateUpstreamError:
		status, code, msg = http.StatusInternalServerError, CodeUpstreamError, "Could not retrieve entity data"
	case StateNotFound:
		status, code, msg = http.StatusNotFound, CodeNotFound, fmt.Sprintf("No entity exists with id %s", entityID)
	}
	return Response{Status: status, State: state, Body: ErrorJSON(code, msg)}
}

// ErrorJSON encodes an ErrorBody.
func ErrorJSON(code, message string) []byte {
	b, err := json.Marshal(ErrorBody{Error: code, Message: message})
	if err != nil {
		return []byte(`{"error":"internal_error","message":"internal error"}`)
	}
	return b
}
