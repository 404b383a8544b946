package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Keys maps key names used by store steps to signature algorithms
	// ("ed25519" or "es256k").
	Keys map[string]string `yaml:"keys,omitempty"`

	// Handlers registers a scripted queue handler per operation type.
	// Types without an entry have no handler.
	Handlers map[string]HandlerSpec `yaml:"handlers,omitempty"`

	// MaxRetries overrides the queue's default attempt limit.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// HandlerSpec scripts a queue handler. With no fields set the handler
// always succeeds.
type HandlerSpec struct {
	// FailTimes fails the first N attempts of each operation.
	FailTimes int `yaml:"fail_times,omitempty"`

	// FailAlways fails every attempt.
	FailAlways bool `yaml:"fail_always,omitempty"`

	// Panic panics on every attempt.
	Panic bool `yaml:"panic,omitempty"`
}

// FlowStep is one action in the scenario flow.
type FlowStep struct {
	// Do is the action name (see the package documentation).
	Do string `yaml:"do"`

	// Args are the action arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is a subset match against the step result. Nil skips
	// validation.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is the step action or event topic (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are matched as a subset of the entry's fields (trace_contains,
	// trace_count), or select the row (final_state operation table).
	Args map[string]any `yaml:"args,omitempty"`

	// Table is "vault", "queue", or "operation" (final_state).
	Table string `yaml:"table,omitempty"`

	// Expect contains expected values (final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Action names.
const (
	ActionStore    = "store"
	ActionRetrieve = "retrieve"
	ActionTamper   = "tamper"
	ActionCorrupt  = "corrupt"
	ActionDelete   = "delete"
	ActionList     = "list"
	ActionEnqueue  = "enqueue"
	ActionProcess  = "process"
	ActionClear    = "clear"
)

var knownActions = []string{
	ActionStore, ActionRetrieve, ActionTamper, ActionCorrupt, ActionDelete,
	ActionList, ActionEnqueue, ActionProcess, ActionClear,
}

// State tables for final_state.
const (
	TableVault     = "vault"
	TableQueue     = "queue"
	TableOperation = "operation"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	for name, alg := range s.Keys {
		if _, err := deriveSigner(name, alg); err != nil {
			return fmt.Errorf("keys.%s: %w", name, err)
		}
	}

	for i, step := range s.Flow {
		if step.Do == "" {
			return fmt.Errorf("flow[%d]: do is required", i)
		}
		if !slices.Contains(knownActions, step.Do) {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Do)
		}
		if step.Do == ActionStore {
			key, _ := step.Args["key"].(string)
			if _, ok := s.Keys[key]; !ok {
				return fmt.Errorf("flow[%d]: store needs a key declared under keys, got %q", i, key)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableVault, TableQueue:
		case TableOperation:
			if _, ok := a.Args["id"]; !ok {
				return fmt.Errorf("assertions[%d]: args.id is required for the operation table", index)
			}
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
