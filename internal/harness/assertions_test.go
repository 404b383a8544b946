package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	i := r.add(KindStep, "enqueue", map[string]any{"type": "sync"})
	r.Trace[i].Result = map[string]any{"id": "op-0001"}
	r.add(KindStep, "process", nil)
	r.add(KindEvent, "queue:started", map[string]any{"pending": 1})
	r.add(KindEvent, "queue:operation_succeeded", map[string]any{"id": "op-0001", "attempt": 1})
	r.add(KindEvent, "queue:completed", map[string]any{"processed": 1})
	return r.Trace
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Action: "enqueue"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{
		Action: "enqueue",
		Args:   map[string]any{"type": "sync", "id": "op-0001"},
	}), "args and result are both matched")

	err := assertTraceContains(trace, Assertion{
		Action: "queue:operation_succeeded",
		Args:   map[string]any{"attempt": 2},
	})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertTraceContains, aerr.Type)
	assert.Contains(t, err.Error(), "[4] event queue:operation_succeeded")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{
		Actions: []string{"enqueue", "queue:started", "queue:completed"},
	}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"queue:completed", "process"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue:completed before process")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"enqueue", "clear"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: clear")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "process", Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Action: "clear", Count: 0}))
	assert.NoError(t, assertTraceCount(trace, Assertion{
		Action: "queue:started",
		Args:   map[string]any{"pending": 2},
		Count:  0,
	}))

	err := assertTraceCount(trace, Assertion{Action: "enqueue", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: 1")
}

func TestMatchFields(t *testing.T) {
	actual := map[string]any{
		"count": 2,
		"refs":  []any{"b", "a"},
		"ok":    true,
	}

	assert.Empty(t, matchFields(actual, nil))
	assert.Empty(t, matchFields(actual, map[string]any{"count": 2.0, "refs": []any{"b", "a"}}))
	assert.Equal(t,
		[]string{"missing: missing", "refs: expected [a b], got [b a]"},
		matchFields(actual, map[string]any{"refs": []any{"a", "b"}, "missing": 1}))
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int and float", 3, 3.0, true},
		{"int64 and int", int64(7), 7, true},
		{"number and string", 3, "3", false},
		{"strings", "found", "found", true},
		{"bools", false, false, true},
		{"nested maps", map[string]any{"a": 1}, map[string]any{"a": 1.0}, true},
		{"map with extra key", map[string]any{"a": 1, "b": 2}, map[string]any{"a": 1}, false},
		{"slices of different length", []any{1}, []any{1, 2}, false},
		{"nil and nil", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestEvaluateAssertions_FinalStateNeedsContext(t *testing.T) {
	errs := EvaluateAssertions(&Result{}, []Assertion{{Type: AssertFinalState, Table: TableVault}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "final_state requires vault and queue context")
}
