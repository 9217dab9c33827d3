package report

// State is the lifecycle of one aggregate request. Pending is the only
// non-terminal state.
type State int

const (
	StatePending State = iota
	StateSucceeded
	StateNotFound
	StateUpstreamError
	StateTimedOut
	StateUnavailable
	StateInternalError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateNotFound:
		return "not_found"
	case StateUpstreamError:
		return "upstream_error"
	case StateTimedOut:
		return "timed_out"
	case StateUnavailable:
		return "unavailable"
	case StateInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the request.
func (s State) Terminal() bool { return s != StatePending }

// Error codes carried in the "error" field of failure bodies.
const (
	CodeGatewayTimeout     = "gateway_timeout"
	CodeServiceUnavailable = "service_unavailable"
	CodeUpstreamError      = "upstream_error"
	CodeNotFound           = "not_found"
	CodeInternalError      = "internal_error"
)
