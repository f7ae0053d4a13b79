package harness

// Trace event types.
const (
	EventStep    = "step"
	EventRequest = "request"
	EventOutcome = "outcome"
)

// TraceEvent is one entry of a scenario trace: a flow step, a request the
// step sent, or the outcome of the step.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Type   string `json:"type"`
	Op     string `json:"op,omitempty"`
	Set    string `json:"set,omitempty"`
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	ETag   string `json:"etag,omitempty"`
	Body   any    `json:"body,omitempty"`
	Rows   *int   `json:"rows,omitempty"`
	Total  *int64 `json:"total,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps, requests and outcomes in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds the failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}

// Requests returns the request events of the trace.
func (r *Result) Requests() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventRequest {
			out = append(out, e)
		}
	}
	return out
}
