package harness

// TraceEvent records the observable outcome of one step.
// Positions are left out: they are random below the millisecond, while
// labels and provisional flags are fully determined by the scenario.
type TraceEvent struct {
	Step       int          `json:"step"`
	Op         string       `json:"op"`
	Shard      int          `json:"shard"`
	Event      string       `json:"event,omitempty"`
	Inserted   *bool        `json:"inserted,omitempty"`
	Promoted   *int         `json:"promoted,omitempty"`
	Skipped    *int         `json:"skipped,omitempty"`
	Backfilled *int         `json:"backfilled,omitempty"`
	Entries    []TraceEntry `json:"entries,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// TraceEntry is one row of a page read.
type TraceEntry struct {
	Event       string `json:"event"`
	Provisional bool   `json:"provisional,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains one event per step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
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

// AddTrace appends a step outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
