package harness

// Trace entry kinds.
const (
	KindStep  = "step"
	KindEvent = "event"
)

// TraceEvent is one entry in a scenario trace: a flow step with its
// result, or an event published on the bus while a step ran.
type TraceEvent struct {
	Seq    int            `json:"seq"`
	Kind   string         `json:"kind"`
	Name   string         `json:"name"` // step action or event topic
	Args   map[string]any `json:"args,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// fields returns Args and Result merged, Result winning.
func (e TraceEvent) fields() map[string]any {
	out := make(map[string]any, len(e.Args)+len(e.Result))
	for k, v := range e.Args {
		out[k] = v
	}
	for k, v := range e.Result {
		out[k] = v
	}
	return out
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps and events in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors is empty if Pass is true.
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

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// add appends an entry, assigning the next sequence number, and returns
// its index.
func (r *Result) add(kind, name string, args map[string]any) int {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:  len(r.Trace) + 1,
		Kind: kind,
		Name: name,
		Args: args,
	})
	return len(r.Trace) - 1
}
