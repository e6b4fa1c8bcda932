package harness

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario names a set of events, drives them through staging, promotion,
// backfill and reads, and asserts on the observed pages and final feed.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are keyed on it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Events maps a label to an event identity. Steps and assertions refer
	// to events by label so traces stay readable.
	Events map[string]EventRef `yaml:"events"`

	// Steps run in order against a fresh store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state after all steps ran.
	// Supported types: feed_order, feed_count, outbox_count
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// EventRef identifies an event. Aggregate is a small integer expanded to a
// fixed UUID so scenarios do not carry UUID literals.
type EventRef struct {
	Aggregate uint64 `yaml:"aggregate"`
	Sequence  int64  `yaml:"sequence"`
}

// Step is one operation. Exactly one of Stage, Promote, Backfill or Read is set.
type Step struct {
	Stage    *StageStep    `yaml:"stage,omitempty"`
	Promote  *PromoteStep  `yaml:"promote,omitempty"`
	Backfill *BackfillStep `yaml:"backfill,omitempty"`
	Read     *ReadStep     `yaml:"read,omitempty"`

	// Expect validates the step outcome. If nil, any successful outcome passes.
	Expect *Expect `yaml:"expect,omitempty"`
}

// StageStep records an event in the outbox.
type StageStep struct {
	Shard int    `yaml:"shard"`
	Event string `yaml:"event"`
	// TimeHint is an RFC 3339 instant. Defaults to the scenario clock.
	TimeHint string `yaml:"time_hint,omitempty"`
}

// PromoteStep runs one promotion batch.
type PromoteStep struct {
	Shard int `yaml:"shard"`
	Limit int `yaml:"limit"`
}

// BackfillStep inserts historical events directly into the feed.
type BackfillStep struct {
	Shard  int             `yaml:"shard"`
	Events []BackfillEvent `yaml:"events"`
}

// BackfillEvent is one historical event with its original instant.
type BackfillEvent struct {
	Event   string `yaml:"event"`
	Instant string `yaml:"instant"`
}

// ReadStep reads one page.
type ReadStep struct {
	Shard    int `yaml:"shard"`
	PageSize int `yaml:"page_size"`
	// Cursor is "start", "continue" (the cursor returned by the previous
	// read of the same shard) or a literal token. Defaults to "continue".
	Cursor string `yaml:"cursor,omitempty"`
	// Promote promotes the shard before answering when the page would
	// otherwise include provisional entries.
	Promote bool `yaml:"promote,omitempty"`
}

// Cursor keywords.
const (
	CursorStart    = "start"
	CursorContinue = "continue"
)

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Inserted is checked for stage steps.
	Inserted *bool `yaml:"inserted,omitempty"`

	// Promoted and Skipped are checked for promote steps.
	Promoted *int `yaml:"promoted,omitempty"`
	Skipped  *int `yaml:"skipped,omitempty"`

	// Backfilled is checked for backfill steps.
	Backfilled *int `yaml:"backfilled,omitempty"`

	// Events lists the labels a read must return, in order.
	Events []string `yaml:"events,omitempty"`

	// Provisional lists the labels in Events that must be served from the outbox.
	Provisional []string `yaml:"provisional,omitempty"`

	// Error is a substring the step error must contain. A step with an
	// expected error must fail.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "feed_order": the full feed of Shard holds Events in order
	// - "feed_count": the feed of Shard holds Count entries
	// - "outbox_count": the outbox of Shard holds Count entries
	Type string `yaml:"type"`

	Shard  int      `yaml:"shard"`
	Events []string `yaml:"events,omitempty"`
	Count  int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertFeedOrder   = "feed_order"
	AssertFeedCount   = "feed_count"
	AssertOutboxCount = "outbox_count"
)

// Step kinds as they appear in traces.
const (
	OpStage    = "stage"
	OpPromote  = "promote"
	OpBackfill = "backfill"
	OpRead     = "read"
)

// Kind returns the operation a step performs.
func (s Step) Kind() string {
	switch {
	case s.Stage != nil:
		return OpStage
	case s.Promote != nil:
		return OpPromote
	case s.Backfill != nil:
		return OpBackfill
	case s.Read != nil:
		return OpRead
	}
	return ""
}

// Shard returns the shard a step targets.
func (s Step) Shard() int {
	switch {
	case s.Stage != nil:
		return s.Stage.Shard
	case s.Promote != nil:
		return s.Promote.Shard
	case s.Backfill != nil:
		return s.Backfill.Shard
	case s.Read != nil:
		return s.Read.Shard
	}
	return 0
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Events) == 0 {
		return fmt.Errorf("events map is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	// Labels must map to distinct identities, otherwise traces are ambiguous.
	labels := make([]string, 0, len(s.Events))
	for label := range s.Events {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	seen := make(map[EventRef]string, len(labels))
	for _, label := range labels {
		ref := s.Events[label]
		if ref.Aggregate == 0 {
			return fmt.Errorf("events[%s]: aggregate must be positive", label)
		}
		if ref.Sequence < 0 {
			return fmt.Errorf("events[%s]: sequence must be non-negative", label)
		}
		if other, ok := seen[ref]; ok {
			return fmt.Errorf("events[%s]: same identity as %s", label, other)
		}
		seen[ref] = label
	}

	for i, step := range s.Steps {
		if err := validateStep(s, i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(s, i, a); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(s *Scenario, i int, step Step) error {
	set := 0
	for _, present := range []bool{step.Stage != nil, step.Promote != nil, step.Backfill != nil, step.Read != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of stage, promote, backfill, read is required", i)
	}

	switch {
	case step.Stage != nil:
		if err := s.checkLabel(step.Stage.Event); err != nil {
			return fmt.Errorf("steps[%d].stage: %w", i, err)
		}
		if step.Stage.TimeHint != "" {
			if _, err := parseInstant(step.Stage.TimeHint); err != nil {
				return fmt.Errorf("steps[%d].stage: %w", i, err)
			}
		}
	case step.Backfill != nil:
		if len(step.Backfill.Events) == 0 {
			return fmt.Errorf("steps[%d].backfill: events list is required", i)
		}
		for j, e := range step.Backfill.Events {
			if err := s.checkLabel(e.Event); err != nil {
				return fmt.Errorf("steps[%d].backfill.events[%d]: %w", i, j, err)
			}
			if _, err := parseInstant(e.Instant); err != nil {
				return fmt.Errorf("steps[%d].backfill.events[%d]: %w", i, j, err)
			}
		}
	}

	if step.Expect != nil {
		for _, label := range step.Expect.Events {
			if err := s.checkLabel(label); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", i, err)
			}
		}
		for _, label := range step.Expect.Provisional {
			if err := s.checkLabel(label); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", i, err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(s *Scenario, index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFeedOrder:
		for _, label := range a.Events {
			if err := s.checkLabel(label); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertFeedCount, AssertOutboxCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func (s *Scenario) checkLabel(label string) error {
	if label == "" {
		return fmt.Errorf("event label is required")
	}
	if _, ok := s.Events[label]; !ok {
		return fmt.Errorf("unknown event %q", label)
	}
	return nil
}

func parseInstant(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid instant %q: %w", v, err)
	}
	return t.UTC(), nil
}
