package aggregate

import (
	"errors"
	"time"

	"github.com/loykin/apigw/internal/retry"
)

// ErrAggregateTimeout is returned when the shared deadline elapses before
// every task has reported.
var ErrAggregateTimeout = errors.New("aggregate deadline exceeded")

// Label identifies one of the fixed aggregation tasks.
type Label int

const (
	LabelPrimary Label = iota
	LabelRelated
	LabelStats

	// NumLabels is the fixed number of tasks per aggregation.
	NumLabels = 3
)

// Labels lists every label in slot order.
var Labels = [NumLabels]Label{LabelPrimary, LabelRelated, LabelStats}

func (l Label) String() string {
	switch l {
	case LabelPrimary:
		return "primary"
	case LabelRelated:
		return "related"
	case LabelStats:
		return "stats"
	default:
		return "unknown"
	}
}

// Task is one backend call of an aggregation.
type Task struct {
	Label Label
	Call  retry.OutboundCall
}

// Result holds exactly one outcome per label. Slots are indexed by Label, so
// the merge never depends on completion order.
type Result struct {
	Outcomes [NumLabels]retry.Outcome
	// Services names the backend each slot was fetched from.
	Services [NumLabels]string
	Elapsed  time.Duration
}

// Get returns the outcome stored for l.
func (r Result) Get(l Label) retry.Outcome {
	if l < 0 || int(l) >= NumLabels {
		return retry.Fatal("unknown label")
	}
	return r.Outcomes[l]
}

// Degraded lists the secondary labels whose call did not produce a 200.
func (r Result) Degraded() []Label {
	var out []Label
	for _, l := range Labels[1:] {
		o := r.Outcomes[l]
		if !o.IsSuccess() || o.StatusCode != 200 {
			out = append(out, l)
		}
	}
	return out
}

// Tags returns the outcome tag of every slot, keyed by label name.
func (r Result) Tags() map[string]string {
	out := make(map[string]string, NumLabels)
	for _, l := range Labels {
		out[l.String()] = r.Outcomes[l].Tag()
	}
	return out
}
