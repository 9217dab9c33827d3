package aggregate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/apigw/internal/retry"
)

// callerFunc adapts a function to the Caller interface.
type callerFunc func(ctx context.Context, call retry.OutboundCall) retry.Outcome

func (f callerFunc) Call(ctx context.Context, call retry.OutboundCall) retry.Outcome {
	return f(ctx, call)
}

func testConfig(deadline time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Primary.BaseURL = "http://users.test"
	cfg.Related.BaseURL = "http://tx.test"
	cfg.Stats.BaseURL = "http://tx.test"
	cfg.Deadline = deadline
	return cfg
}

func labelOf(call retry.OutboundCall) Label {
	switch {
	case strings.Contains(call.URL, "/records"):
		return LabelRelated
	case strings.Contains(call.URL, "/stats"):
		return LabelStats
	default:
		return LabelPrimary
	}
}

func TestTasks(t *testing.T) {
	tasks := testConfig(time.Second).Tasks("42")

	assert.Equal(t, LabelPrimary, tasks[LabelPrimary].Label)
	assert.Equal(t, "http://users.test/entities/42", tasks[LabelPrimary].Call.URL)
	assert.Empty(t, tasks[LabelPrimary].Call.Query)

	assert.Equal(t, "http://tx.test/records", tasks[LabelRelated].Call.URL)
	assert.Equal(t, "42", tasks[LabelRelated].Call.Query.Get("owner"))

	assert.Equal(t, "http://tx.test/stats", tasks[LabelStats].Call.URL)
	assert.Equal(t, "42", tasks[LabelStats].Call.Query.Get("owner"))

	for _, task := range tasks {
		assert.Equal(t, http.MethodGet, task.Call.Method)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testConfig(time.Second))
	assert.Error(t, err)

	cfg := testConfig(time.Second)
	cfg.Stats.BaseURL = "not a url"
	_, err = New(callerFunc(func(context.Context, retry.OutboundCall) retry.Outcome { return retry.Outcome{} }), cfg)
	assert.Error(t, err)
}

func TestAggregate_AllSucceed(t *testing.T) {
	var calls atomic.Int32
	caller := callerFunc(func(_ context.Context, call retry.OutboundCall) retry.Outcome {
		calls.Add(1)
		return retry.Success(http.StatusOK, []byte(labelOf(call).String()), nil)
	})
	agg, err := New(caller, testConfig(time.Second))
	require.NoError(t, err)

	res, err := agg.Aggregate(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	for _, l := range Labels {
		assert.Equal(t, l.String(), string(res.Get(l).Body))
	}
	assert.Empty(t, res.Degraded())
}

func TestAggregate_FailSoft(t *testing.T) {
	caller := callerFunc(func(_ context.Context, call retry.OutboundCall) retry.Outcome {
		switch labelOf(call) {
		case LabelRelated:
			return retry.Transient(retry.CauseConnection, "refused")
		case LabelStats:
			return retry.Fatal("bad request")
		default:
			return retry.Success(http.StatusOK, []byte(`{}`), nil)
		}
	})
	agg, err := New(caller, testConfig(time.Second))
	require.NoError(t, err)

	res, err := agg.Aggregate(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Get(LabelPrimary).IsSuccess())
	assert.True(t, res.Get(LabelRelated).IsTransient())
	assert.True(t, res.Get(LabelStats).IsFatal())
	assert.Equal(t, []Label{LabelRelated, LabelStats}, res.Degraded())
	assert.Equal(t, map[string]string{
		"primary": "success",
		"related": "transient/connection",
		"stats":   "fatal",
	}, res.Tags())
}

func TestAggregate_RunsConcurrently(t *testing.T) {
	caller := callerFunc(func(context.Context, retry.OutboundCall) retry.Outcome {
		time.Sleep(100 * time.Millisecond)
		return retry.Success(http.StatusOK, nil, nil)
	})
	agg, err := New(caller, testConfig(time.Second))
	require.NoError(t, err)

	start := time.Now()
	_, err = agg.Aggregate(context.Background(), "1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestAggregate_DeadlineReturnsTimeout(t *testing.T) {
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	caller := callerFunc(func(_ context.Context, call retry.OutboundCall) retry.Outcome {
		if labelOf(call) == LabelStats {
			defer wg.Done()
			<-release
		}
		return retry.Success(http.StatusOK, nil, nil)
	})
	agg, err := New(caller, testConfig(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	res, err := agg.Aggregate(context.Background(), "1")
	assert.True(t, errors.Is(err, ErrAggregateTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, res.Get(LabelStats).IsTransient())
	assert.Equal(t, retry.CauseTimeout, res.Get(LabelStats).Cause)

	// the late task finishes into the buffered channel without blocking
	close(release)
	wg.Wait()
}

func TestAggregate_DetachedFromRequestCancellation(t *testing.T) {
	var sawCancel atomic.Bool
	caller := callerFunc(func(ctx context.Context, _ retry.OutboundCall) retry.Outcome {
		time.Sleep(30 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return retry.Success(http.StatusOK, nil, nil)
	})
	agg, err := New(caller, testConfig(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err = agg.Aggregate(ctx, "1")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrAggregateTimeout))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, sawCancel.Load(), "tasks must not observe request cancellation")
}

func TestAggregate_ParentDeadlineCountsAsTimeout(t *testing.T) {
	caller := callerFunc(func(context.Context, retry.OutboundCall) retry.Outcome {
		time.Sleep(200 * time.Millisecond)
		return retry.Success(http.StatusOK, nil, nil)
	})
	agg, err := New(caller, testConfig(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = agg.Aggregate(ctx, "1")
	assert.True(t, errors.Is(err, ErrAggregateTimeout))
}

func TestAggregate_DeterministicRegardlessOfOrder(t *testing.T) {
	delays := map[Label]time.Duration{LabelPrimary: 30 * time.Millisecond, LabelRelated: 0, LabelStats: 15 * time.Millisecond}
	caller := callerFunc(func(_ context.Context, call retry.OutboundCall) retry.Outcome {
		l := labelOf(call)
		time.Sleep(delays[l])
		return retry.Success(http.StatusOK, []byte(l.String()), nil)
	})
	agg, err := New(caller, testConfig(time.Second))
	require.NoError(t, err)

	first, err := agg.Aggregate(context.Background(), "5")
	require.NoError(t, err)
	delays = map[Label]time.Duration{LabelPrimary: 0, LabelRelated: 30 * time.Millisecond, LabelStats: 15 * time.Millisecond}
	second, err := agg.Aggregate(context.Background(), "5")
	require.NoError(t, err)

	for _, l := range Labels {
		assert.Equal(t, first.Get(l).Body, second.Get(l).Body)
	}
}

func TestAggregate_TaskPanicIsFatal(t *testing.T) {
	caller := callerFunc(func(_ context.Context, call retry.OutboundCall) retry.Outcome {
		if labelOf(call) == LabelRelated {
			panic("boom")
		}
		return retry.Success(http.StatusOK, nil, nil)
	})
	agg, err := New(caller, testConfig(time.Second))
	require.NoError(t, err)

	res, err := agg.Aggregate(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Get(LabelRelated).IsFatal())
	assert.True(t, res.Get(LabelPrimary).IsSuccess())
}

func TestAggregate_WithRetryCaller(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/entities/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":1,"name":"A"}`)
	})
	mux.HandleFunc("/records", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("owner"))
		_, _ = io.WriteString(w, `{"records":[{"id":10}],"summary":{"total":5}}`)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"summary_general":{"avg":5}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Primary.BaseURL, cfg.Related.BaseURL, cfg.Stats.BaseURL = srv.URL, srv.URL, srv.URL
	agg, err := New(retry.NewCaller(retry.Policy{MaxAttempts: 2, Delay: 10 * time.Millisecond, Timeout: time.Second}), cfg)
	require.NoError(t, err)

	res, err := agg.Aggregate(context.Background(), "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"A"}`, string(res.Get(LabelPrimary).Body))
	assert.Equal(t, http.StatusOK, res.Get(LabelStats).StatusCode)
}

func TestCheckBudget(t *testing.T) {
	p := retry.Policy{MaxAttempts: 2, Delay: 500 * time.Millisecond, Timeout: 5 * time.Second}
	assert.Error(t, CheckBudget(p, 10*time.Second))
	assert.NoError(t, CheckBudget(p, 11*time.Second))
	assert.NoError(t, CheckBudget(p, 0))
}
