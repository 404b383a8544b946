package connectivity

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scanvault/internal/events"
	"github.com/roach88/scanvault/internal/queue"
	"github.com/roach88/scanvault/internal/testutil"
)

// fakeDrainer reports each Process call on calls.
type fakeDrainer struct {
	calls chan struct{}
	err   error
	panic bool
	block chan struct{}
}

func newFakeDrainer() *fakeDrainer {
	return &fakeDrainer{calls: make(chan struct{}, 16)}
}

func (d *fakeDrainer) Process(ctx context.Context) (queue.Summary, error) {
	d.calls <- struct{}{}
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return queue.Summary{}, ctx.Err()
		}
	}
	if d.panic {
		panic("drain exploded")
	}
	return queue.Summary{Processed: 1, Succeeded: 1}, d.err
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitCall(t *testing.T, d *fakeDrainer) {
	t.Helper()
	select {
	case <-d.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("drain was not triggered")
	}
}

func assertNoCall(t *testing.T, d *fakeDrainer) {
	t.Helper()
	select {
	case <-d.calls:
		t.Fatal("unexpected drain")
	case <-time.After(50 * time.Millisecond):
	}
}

func startMonitor(t *testing.T, m *Monitor) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return func() {
		cancelCtx()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("monitor did not stop")
		}
		m.Wait()
	}
}

func waitOnline(t *testing.T, m *Monitor, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return m.IsOnline() == want }, 5*time.Second, time.Millisecond)
}

func TestMonitor_OnlineTransitionTriggersDrain(t *testing.T) {
	signal := NewManualSignal(false)
	drainer := newFakeDrainer()
	bus := events.NewBus()
	rec := testutil.RecordEvents(t, bus)

	m := New(signal, drainer, WithBus(bus))
	stop := startMonitor(t, m)
	defer stop()

	assertNoCall(t, drainer)

	signal.Set(true)
	waitCall(t, drainer)
	waitOnline(t, m, true)

	changes := testutil.OfType[events.ConnectivityChanged](rec)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Online)
}

func TestMonitor_OfflineOnlyPublishes(t *testing.T) {
	signal := NewManualSignal(true)
	drainer := newFakeDrainer()
	bus := events.NewBus()
	rec := testutil.RecordEvents(t, bus)

	m := New(signal, drainer, WithBus(bus), WithDrainOnStart(false))
	stop := startMonitor(t, m)
	defer stop()

	signal.Set(false)
	waitOnline(t, m, false)
	require.Eventually(t, func() bool {
		return len(testutil.OfType[events.ConnectivityChanged](rec)) == 1
	}, 5*time.Second, time.Millisecond)
	assertNoCall(t, drainer)

	changes := testutil.OfType[events.ConnectivityChanged](rec)
	assert.False(t, changes[0].Online)
}

func TestMonitor_DrainOnStart(t *testing.T) {
	drainer := newFakeDrainer()
	m := New(NewManualSignal(true), drainer)
	stop := startMonitor(t, m)
	defer stop()

	waitCall(t, drainer)
}

func TestMonitor_DoesNotBlockOnDrain(t *testing.T) {
	signal := NewManualSignal(false)
	drainer := newFakeDrainer()
	drainer.block = make(chan struct{})

	m := New(signal, drainer)
	stop := startMonitor(t, m)
	defer stop()

	signal.Set(true)
	waitCall(t, drainer)

	// monitor keeps consuming while the first drain is stuck
	signal.Set(false)
	waitOnline(t, m, false)
	signal.Set(true)
	waitCall(t, drainer)

	close(drainer.block)
}

func TestMonitor_DrainErrorsAreLogged(t *testing.T) {
	for name, configure := range map[string]func(d *fakeDrainer){
		"error": func(d *fakeDrainer) { d.err = errors.New("kv: store closed") },
		"panic": func(d *fakeDrainer) { d.panic = true },
	} {
		t.Run(name, func(t *testing.T) {
			logs := &syncBuffer{}
			logger := slog.New(slog.NewTextHandler(logs, nil))

			signal := NewManualSignal(false)
			drainer := newFakeDrainer()
			configure(drainer)

			m := New(signal, drainer, WithLogger(logger))
			stop := startMonitor(t, m)

			signal.Set(true)
			waitCall(t, drainer)
			m.Wait()
			stop()

			assert.Contains(t, logs.String(), "level=ERROR")
		})
	}
}

func TestMonitor_RepeatedStateIsIgnored(t *testing.T) {
	signal := NewManualSignal(false)
	drainer := newFakeDrainer()
	bus := events.NewBus()
	rec := testutil.RecordEvents(t, bus)

	m := New(signal, drainer, WithBus(bus))
	stop := startMonitor(t, m)
	defer stop()

	signal.Set(false)
	signal.Set(false)
	assertNoCall(t, drainer)
	assert.Empty(t, rec.All())
}

func TestMonitor_StopsWhenSignalCloses(t *testing.T) {
	ch := make(chan bool)
	m := New(closingSignal{ch: ch}, newFakeDrainer())

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	close(ch)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

type closingSignal struct{ ch chan bool }

func (closingSignal) IsOnline() bool          { return false }
func (s closingSignal) Changes() <-chan bool { return s.ch }

func TestManualSignal_DeliversEveryTransition(t *testing.T) {
	s := NewManualSignal(false)
	s.Set(true)
	s.Set(false)
	s.Set(true)

	assert.True(t, s.IsOnline())
	var got []bool
	for range 3 {
		select {
		case v := <-s.Changes():
			got = append(got, v)
		default:
			t.Fatal("transition not delivered")
		}
	}
	assert.Equal(t, []bool{true, false, true}, got)
	select {
	case <-s.Changes():
		t.Fatal("unexpected extra transition")
	default:
	}
}

func TestManualSignal_OverflowKeepsLatestState(t *testing.T) {
	s := NewManualSignal(false)
	for i := range changeBuffer + 3 {
		s.Set(i%2 == 0)
	}
	require.True(t, s.IsOnline())

	var got []bool
	for len(got) < changeBuffer+3 {
		select {
		case v := <-s.Changes():
			got = append(got, v)
			continue
		default:
		}
		break
	}
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), changeBuffer)
	assert.True(t, got[0], "queue starts with a transition away from offline")
	assert.True(t, got[len(got)-1], "latest state delivered")
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1], got[i], "transitions alternate at %d", i)
	}
}

func TestMonitor_ShortFlapStillDrains(t *testing.T) {
	signal := NewManualSignal(false)
	drainer := newFakeDrainer()
	bus := events.NewBus()
	rec := testutil.RecordEvents(t, bus)

	// both transitions land before the monitor reads either
	signal.Set(true)
	signal.Set(false)

	m := New(signal, drainer, WithBus(bus))
	stop := startMonitor(t, m)
	defer stop()

	waitCall(t, drainer)
	require.Eventually(t, func() bool {
		return len(testutil.OfType[events.ConnectivityChanged](rec)) == 2
	}, 5*time.Second, time.Millisecond)

	changes := testutil.OfType[events.ConnectivityChanged](rec)
	assert.True(t, changes[0].Online)
	assert.False(t, changes[1].Online)
	waitOnline(t, m, false)
}
