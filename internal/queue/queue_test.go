package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scanvault/internal/clock"
	"github.com/roach88/scanvault/internal/codec"
	"github.com/roach88/scanvault/internal/events"
	"github.com/roach88/scanvault/internal/kv"
	"github.com/roach88/scanvault/internal/store"
	"github.com/roach88/scanvault/internal/testutil"
)

var epoch = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// attempts records handler invocations in order.
type attempts struct {
	mu  sync.Mutex
	ids []string
}

func (a *attempts) add(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
}

func (a *attempts) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

type harness struct {
	queue    *Queue
	backing  kv.Store
	registry *Registry
	clock    *clock.FakeClock
	bus      *events.Bus
	recorder *testutil.Recorder
	attempts *attempts
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		backing:  kv.NewMemory(),
		registry: NewRegistry(),
		clock:    clock.AutoFake(epoch),
		bus:      events.NewBus(),
		attempts: &attempts{},
	}
	h.recorder = testutil.RecordEvents(t, h.bus)

	base := []Option{
		WithClock(h.clock),
		WithBus(h.bus),
		WithRandom(func() float64 { return 0.5 }),
		WithIDGenerator(testutil.NewSequentialIDs("op")),
	}
	h.queue = New(h.backing, h.registry, append(base, opts...)...)
	return h
}

// register installs a handler that records the attempt and returns result.
func (h *harness) register(opType string, result func(op Operation) error) {
	h.registry.RegisterFunc(opType, func(_ context.Context, op Operation) error {
		h.attempts.add(op.ID)
		return result(op)
	})
}

func (h *harness) enqueue(t *testing.T, op Operation) Operation {
	t.Helper()
	stored, err := h.queue.Enqueue(context.Background(), op)
	require.NoError(t, err)
	return stored
}

func succeed(Operation) error { return nil }

func TestQueue_OrderingPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(epoch)
	h := newHarness(t, WithClock(fake))
	h.register("upload", succeed)

	for _, pri := range []int{2, 1, 2, 1} {
		h.enqueue(t, Operation{Type: "upload", Priority: pri})
		fake.Advance(time.Second)
	}

	sum, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Equal(t, []string{"op-0002", "op-0004", "op-0001", "op-0003"}, h.attempts.list())
}

func TestQueue_SameTimestampTieBreaksByID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("upload", succeed)

	h.enqueue(t, Operation{ID: "b", Type: "upload", CreatedAt: epoch})
	h.enqueue(t, Operation{ID: "a", Type: "upload", CreatedAt: epoch})

	_, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, h.attempts.list())
}

func TestQueue_SuccessRemovesAndEmits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("upload", succeed)
	op := h.enqueue(t, Operation{Type: "upload", Payload: []byte("scan-1")})

	sum, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Succeeded: 1}, sum)

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, []string{
		events.TopicQueueStarted,
		events.TopicOperationSucceeded,
		events.TopicQueueCompleted,
	}, h.recorder.Topics())

	ok := testutil.OfType[events.OperationSucceeded](h.recorder)
	require.Len(t, ok, 1)
	assert.Equal(t, op.ID, ok[0].ID)
	assert.Equal(t, 1, ok[0].Attempt)

	done := testutil.OfType[events.QueueCompleted](h.recorder)
	require.Len(t, done, 1)
	assert.Equal(t, 1, done[0].Processed)
	assert.Equal(t, 1, done[0].Succeeded)
	assert.NoError(t, done[0].Err)
}

func TestQueue_RetryCeiling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("upload", func(Operation) error { return errors.New("offline") })
	op := h.enqueue(t, Operation{Type: "upload", MaxRetries: 3})

	for drain := 0; drain < 6; drain++ {
		_, err := h.queue.Process(ctx)
		require.NoError(t, err)
	}

	assert.Len(t, h.attempts.list(), 3, "attempted exactly MaxRetries times")

	failed := testutil.OfType[events.OperationFailed](h.recorder)
	require.Len(t, failed, 4)
	for i, e := range failed[:3] {
		assert.False(t, e.Permanent)
		assert.Equal(t, i+1, e.RetryCount)
		assert.EqualError(t, e.Err, "offline")
	}
	assert.True(t, failed[3].Permanent)
	assert.Equal(t, op.ID, failed[3].ID)
	assert.EqualError(t, failed[3].Err, "offline")

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "permanently failed operation removed")
}

func TestQueue_BackoffWaitsBeforeRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("upload", func(Operation) error { return errors.New("offline") })
	h.enqueue(t, Operation{Type: "upload", MaxRetries: 4})

	for drain := 0; drain < 4; drain++ {
		_, err := h.queue.Process(ctx)
		require.NoError(t, err)
	}

	// first attempt is immediate; jitter sample 0.5 gives the midpoint
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
	}, h.clock.Waits())
}

func TestQueue_FailurePersistsRetryState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("upload", func(Operation) error { return errors.New("503 from server") })
	op := h.enqueue(t, Operation{Type: "upload", Payload: []byte("receipt")})

	sum, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	got := pending[0]
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "503 from server", got.LastError)
	assert.False(t, got.LastAttemptAt.IsZero())
	assert.Equal(t, []byte("receipt"), got.Payload)

	keys, err := h.backing.Keys(ctx, Namespace)
	require.NoError(t, err)
	assert.Len(t, keys, 1, "retry rewrites the same record")
}

func TestQueue_MissingHandlerIsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enqueue(t, Operation{Type: "unknown.kind"})

	sum, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	failed := testutil.OfType[events.OperationFailed](h.recorder)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, ErrNoHandler)
}

func TestQueue_PanicIsFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("upload", func(Operation) error { panic("nil map write") })
	h.register("other", succeed)
	h.enqueue(t, Operation{Type: "upload", Priority: 0})
	h.enqueue(t, Operation{Type: "other", Priority: 1})

	sum, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Succeeded, "drain continues after a panic")

	failed := testutil.OfType[events.OperationFailed](h.recorder)
	require.Len(t, failed, 1)
	var pe *PanicError
	require.ErrorAs(t, failed[0].Err, &pe)
	assert.Equal(t, "nil map write", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Contains(t, pending[0].LastError, "panicked")
}

func TestQueue_ReentrancyGuard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.registry.RegisterFunc("slow", func(context.Context, Operation) error {
		close(entered)
		<-release
		return nil
	})
	h.enqueue(t, Operation{Type: "slow"})

	var wg sync.WaitGroup
	wg.Add(1)
	var first Summary
	go func() {
		defer wg.Done()
		var err error
		first, err = h.queue.Process(ctx)
		assert.NoError(t, err)
	}()
	<-entered

	second, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	st, err := h.queue.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Processing)

	_, err = h.queue.ClearProcessed(ctx)
	assert.ErrorIs(t, err, ErrProcessing)

	close(release)
	wg.Wait()
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Succeeded)

	st, err = h.queue.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Processing, "guard released")
}

func TestQueue_ConcurrentProcessRunsOneDrain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("upload", succeed)
	for i := 0; i < 20; i++ {
		h.enqueue(t, Operation{Type: "upload"})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.queue.Process(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[string]int{}
	for _, id := range h.attempts.list() {
		seen[id]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "operation %s attempted more than once", id)
	}
}

func TestQueue_CancelDuringBackoffLeavesOperationQueued(t *testing.T) {
	fake := clock.Fake(epoch)
	h := newHarness(t, WithClock(fake))
	h.register("upload", succeed)
	h.enqueue(t, Operation{Type: "upload", RetryCount: 1, MaxRetries: 3, LastError: "earlier"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.queue.Process(ctx)
		done <- err
	}()

	fake.WaitForTimers(1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not stop on cancellation")
	}

	assert.Empty(t, h.attempts.list(), "no attempt after cancellation")
	pending, err := h.queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount, "not marked failed")
	assert.Equal(t, "earlier", pending[0].LastError)

	done2 := testutil.OfType[events.QueueCompleted](h.recorder)
	require.Len(t, done2, 1)
	assert.ErrorIs(t, done2[0].Err, context.Canceled)

	st, err := h.queue.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Processing, "guard released")
}

func TestQueue_CancelDuringHandlerKeepsPreAttemptState(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.registry.RegisterFunc("upload", func(ctx context.Context, _ Operation) error {
		cancel()
		return ctx.Err()
	})
	h.register("later", succeed)
	h.enqueue(t, Operation{Type: "upload", Priority: 0})
	h.enqueue(t, Operation{Type: "later", Priority: 5})

	_, err := h.queue.Process(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	pending, err := h.queue.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2, "remaining batch untouched")
	assert.Equal(t, 0, pending[0].RetryCount)
	assert.Empty(t, h.attempts.list())
}

// failingStore fails Delete calls once armed.
type failingStore struct {
	kv.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) Delete(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return false, errors.New("disk full")
	}
	return f.Store.Delete(ctx, key)
}

func TestQueue_StorageFailureAbortsDrain(t *testing.T) {
	ctx := context.Background()
	backing := &failingStore{Store: kv.NewMemory()}
	bus := events.NewBus()
	rec := testutil.RecordEvents(t, bus)
	reg := NewRegistry()
	var calls int
	reg.RegisterFunc("upload", func(context.Context, Operation) error {
		calls++
		return nil
	})
	q := New(backing, reg, WithBus(bus), WithClock(clock.AutoFake(epoch)))

	_, err := q.Enqueue(ctx, Operation{Type: "upload", Priority: 0})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Operation{Type: "upload", Priority: 1})
	require.NoError(t, err)

	backing.fail = true
	_, err = q.Process(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, calls, "drain stops after the storage failure")

	done := testutil.OfType[events.QueueCompleted](rec)
	require.Len(t, done, 1)
	assert.Error(t, done[0].Err)

	backing.fail = false
	sum, err := q.Process(ctx)
	require.NoError(t, err)
	assert.False(t, sum.Skipped, "guard released after failure")
}

func TestQueue_Status(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	st, err := h.queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Status{}, st)

	h.enqueue(t, Operation{Type: "a", Priority: 0, CreatedAt: epoch.Add(2 * time.Hour)})
	h.enqueue(t, Operation{Type: "a", Priority: 1, CreatedAt: epoch.Add(time.Hour), RetryCount: 2})
	h.enqueue(t, Operation{Type: "a", Priority: 5, CreatedAt: epoch, RetryCount: 1})

	st, err = h.queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Pending)
	assert.Equal(t, 2, st.HighPriority)
	assert.Equal(t, 2, st.Retrying)
	assert.Equal(t, epoch, st.Oldest)
	assert.False(t, st.Processing)
}

func TestQueue_ClearProcessed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.enqueue(t, Operation{ID: "fresh", Type: "a", RetryCount: 0, MaxRetries: 3})
	h.enqueue(t, Operation{ID: "retrying", Type: "a", RetryCount: 1, MaxRetries: 3})
	h.enqueue(t, Operation{ID: "exhausted", Type: "a", RetryCount: 3, MaxRetries: 3})
	require.NoError(t, h.backing.Put(ctx, Namespace+"corrupt", []byte{0xff}))

	purged, err := h.queue.ClearProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "retrying", pending[0].ID)
}

func TestQueue_Enqueue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	op, err := h.queue.Enqueue(ctx, Operation{Type: "vault.store", Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "op-0001", op.ID)
	assert.Equal(t, epoch, op.CreatedAt)
	assert.Equal(t, 3, op.MaxRetries, "policy default")
	assert.Equal(t, 0, op.RetryCount)

	tests := []struct {
		name string
		op   Operation
	}{
		{"empty type", Operation{Type: "  "}},
		{"negative retry count", Operation{Type: "a", RetryCount: -1}},
		{"negative max retries", Operation{Type: "a", MaxRetries: -2}},
		{"duplicate id", Operation{ID: op.ID, Type: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.queue.Enqueue(ctx, tt.op)
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestQueue_EnqueueCopiesPayload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	payload := []byte("original")
	_, err := h.queue.Enqueue(ctx, Operation{Type: "a", Payload: payload})
	require.NoError(t, err)
	payload[0] = 'X'

	pending, err := h.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), pending[0].Payload)
}

func TestQueue_CompressedPayloadReachesHandler(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithCompression(CompressionZstd, 64))

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte('a' + i%3)
	}
	var got []byte
	h.registry.RegisterFunc("upload", func(_ context.Context, op Operation) error {
		got = op.Payload
		return nil
	})
	op := h.enqueue(t, Operation{Type: "upload", Payload: payload})

	raw, err := h.backing.Get(ctx, Namespace+op.ID)
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload))

	_, err = h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestQueue_SharesStoreWithoutCrossingNamespaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.backing.Put(ctx, "cas/abc", []byte("content")))
	h.register("a", succeed)
	h.enqueue(t, Operation{Type: "a"})

	_, err := h.queue.Process(ctx)
	require.NoError(t, err)

	_, err = h.backing.Get(ctx, "cas/abc")
	assert.NoError(t, err, "queue never touches other namespaces")
}

func TestQueue_DurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scanvault.db")

	db, err := store.Open(path)
	require.NoError(t, err)
	q := New(db, nil, WithClock(clock.AutoFake(epoch)))
	op, err := q.Enqueue(ctx, Operation{Type: "vault.store", Priority: 1, Payload: []byte("env")})
	require.NoError(t, err)
	_, err = q.Process(ctx) // no handler: first attempt fails
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = store.Open(path)
	require.NoError(t, err)
	defer db.Close()

	reg := NewRegistry()
	var seen Operation
	reg.RegisterFunc("vault.store", func(_ context.Context, got Operation) error {
		seen = got
		return nil
	})
	q = New(db, reg, WithClock(clock.AutoFake(epoch)))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)

	sum, err := q.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, []byte("env"), seen.Payload)
	assert.Equal(t, 1, seen.RetryCount)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("a")
	assert.False(t, ok)

	r.RegisterFunc("b", func(context.Context, Operation) error { return nil })
	r.RegisterFunc("a", func(context.Context, Operation) error { return nil })
	_, ok = r.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, r.Types())

	var nilReg *Registry
	_, ok = nilReg.Lookup("a")
	assert.False(t, ok)
}

func TestQueue_RecordWithBadPayloadSizeIsSkippedAndCleared(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register("sync", succeed)
	h.enqueue(t, Operation{Type: "sync"})

	bad, err := codec.Marshal(record{
		ID:          "bad",
		Type:        "sync",
		MaxRetries:  3,
		Compression: CompressionLZ4,
		Payload:     []byte{0},
		PayloadSize: -1,
	})
	require.NoError(t, err)
	require.NoError(t, h.backing.Put(ctx, Namespace+"bad", bad))

	st, err := h.queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)

	sum, err := h.queue.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, []string{"op-0001"}, h.attempts.list())

	removed, err := h.queue.ClearProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = h.backing.Get(ctx, Namespace+"bad")
	assert.True(t, kv.IsNotFound(err))
}
