package harness

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/scanvault/internal/queue"
	"github.com/roach88/scanvault/internal/vault"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %v\n", event.Seq, event.Kind, event.Name, event.fields())
		}
	}
	return buf.String()
}

// AssertionContext provides state access for final_state assertions.
type AssertionContext struct {
	Ctx   context.Context
	Vault *vault.Vault
	Queue *queue.Queue
}

// assertTraceContains checks that some entry has the action name and
// fields matching args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Name == assertion.Action && len(matchFields(event.fields(), assertion.Args)) == 0 {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s with %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrence of each name appears
// in the given order. Other entries may appear in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int, len(assertion.Actions))
	for _, event := range trace {
		if _, seen := positions[event.Name]; !seen && slices.Contains(assertion.Actions, event.Name) {
			positions[event.Name] = event.Seq
		}
	}

	for _, action := range assertion.Actions {
		if _, ok := positions[action]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%s before %s", prev, curr),
				Actual:   fmt.Sprintf("%s at %d, %s at %d", prev, positions[prev], curr, positions[curr]),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks how many entries have the action name and
// fields matching args.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Name == assertion.Action && len(matchFields(event.fields(), assertion.Args)) == 0 {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d of %s with %v", assertion.Count, assertion.Action, assertion.Args),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the expected fields against a snapshot of
// the named table.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	actual, err := stateOf(actx, assertion)
	if err != nil {
		return err
	}
	if mismatches := matchFields(actual, assertion.Expect); len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %v", assertion.Table, assertion.Expect),
			Actual:   strings.Join(mismatches, "; "),
		}
	}
	return nil
}

func stateOf(actx *AssertionContext, assertion Assertion) (map[string]any, error) {
	switch assertion.Table {
	case TableVault:
		entries, err := actx.Vault.List(actx.Ctx)
		if err != nil {
			return nil, err
		}
		count := 0
		for range entries {
			count++
		}
		return map[string]any{"count": count}, nil

	case TableQueue:
		st, err := actx.Queue.Status(actx.Ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"pending":       st.Pending,
			"retrying":      st.Retrying,
			"high_priority": st.HighPriority,
		}, nil

	case TableOperation:
		ops, err := actx.Queue.Pending(actx.Ctx)
		if err != nil {
			return nil, err
		}
		id := fmt.Sprint(assertion.Args["id"])
		for _, op := range ops {
			if op.ID == id {
				return map[string]any{
					"exists":      true,
					"type":        op.Type,
					"priority":    op.Priority,
					"retry_count": op.RetryCount,
					"max_retries": op.MaxRetries,
					"last_error":  op.LastError,
				}, nil
			}
		}
		return map[string]any{"exists": false}, nil

	default:
		return nil, fmt.Errorf("unknown table %q", assertion.Table)
	}
}

// matchFields returns one message per expected key that is missing from
// actual or holds a different value. Keys are visited in sorted order.
func matchFields(actual, expected map[string]any) []string {
	var mismatches []string
	for _, key := range slices.Sorted(maps.Keys(expected)) {
		got, ok := actual[key]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: missing", key))
			continue
		}
		if !valuesEqual(got, expected[key]) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %v, got %v", key, expected[key], got))
		}
	}
	return mismatches
}

// valuesEqual compares values with numeric normalization, since YAML
// decodes integers as int and floats as float64.
func valuesEqual(actual, expected any) bool {
	if a, ok := toFloat(actual); ok {
		e, ok := toFloat(expected)
		return ok && a == e
	}

	switch a := actual.(type) {
	case []any:
		e, ok := expected.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range a {
			if !valuesEqual(a[i], e[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		e, ok := expected.(map[string]any)
		return ok && len(a) == len(e) && len(matchFields(a, e)) == 0
	}
	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Vault == nil || actx.Queue == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires vault and queue context", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
