package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/scanvault/internal/clock"
	"github.com/roach88/scanvault/internal/events"
	"github.com/roach88/scanvault/internal/kv"
)

// Namespace is the key prefix owned by the queue in the shared store.
const Namespace = "queue/"

// Summary describes one Process call.
type Summary struct {
	// Skipped is set when another drain was already running.
	Skipped bool

	// Processed counts operations that were attempted or evicted.
	Processed int
	Succeeded int
	// Failed counts failed attempts plus evictions.
	Failed  int
	Evicted int
	Elapsed time.Duration
}

// Status is a point-in-time view of the queue.
type Status struct {
	Pending      int
	HighPriority int // Priority <= 1
	Retrying     int // RetryCount > 0
	Oldest       time.Time
	Processing   bool
}

// Queue is the durable offline operation queue.
//
// Thread-safety: safe for concurrent use. Process is guarded so at most
// one drain runs at a time.
type Queue struct {
	store    kv.Store
	registry *Registry
	policy   Policy
	bus      *events.Bus
	clock    clock.Clock
	logger   *slog.Logger
	random   func() float64
	ids      IDGenerator

	compression       Compression
	compressThreshold int

	processing atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithPolicy sets the retry policy. Zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(q *Queue) {
		def := DefaultPolicy()
		if p.BaseDelay <= 0 {
			p.BaseDelay = def.BaseDelay
		}
		if p.MaxDelay <= 0 {
			p.MaxDelay = def.MaxDelay
		}
		if p.MaxDelay < p.BaseDelay {
			p.MaxDelay = p.BaseDelay
		}
		if p.JitterMin <= 0 || p.JitterMax < p.JitterMin {
			p.JitterMin, p.JitterMax = def.JitterMin, def.JitterMax
		}
		if p.DefaultMaxRetries <= 0 {
			p.DefaultMaxRetries = def.DefaultMaxRetries
		}
		q.policy = p
	}
}

// WithBus publishes queue events on bus.
func WithBus(bus *events.Bus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithClock sets the clock used for timestamps and backoff waits.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithRandom sets the source of jitter samples in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(q *Queue) {
		if fn != nil {
			q.random = fn
		}
	}
}

// WithIDGenerator sets the generator for operation IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(q *Queue) {
		if g != nil {
			q.ids = g
		}
	}
}

// WithCompression compresses payloads of at least threshold bytes.
// A non-positive threshold uses DefaultCompressThreshold.
func WithCompression(c Compression, threshold int) Option {
	return func(q *Queue) {
		if threshold <= 0 {
			threshold = DefaultCompressThreshold
		}
		q.compression = c
		q.compressThreshold = threshold
	}
}

// New creates a queue over the "queue/" namespace of backing.
func New(backing kv.Store, registry *Registry, opts ...Option) *Queue {
	if registry == nil {
		registry = NewRegistry()
	}
	q := &Queue{
		store:             kv.WithPrefix(backing, Namespace),
		registry:          registry,
		policy:            DefaultPolicy(),
		clock:             clock.Real(),
		logger:            slog.Default(),
		random:            rand.Float64,
		ids:               UUIDv7Generator{},
		compressThreshold: DefaultCompressThreshold,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the effective retry policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Registry returns the handler registry.
func (q *Queue) Registry() *Registry {
	return q.registry
}

// Enqueue validates and durably stores op. ID and CreatedAt are assigned
// when empty, MaxRetries when zero. The stored operation is returned.
func (q *Queue) Enqueue(ctx context.Context, op Operation) (Operation, error) {
	if strings.TrimSpace(op.Type) == "" {
		return Operation{}, fmt.Errorf("%w: empty type", ErrInvalidOperation)
	}
	if op.RetryCount < 0 {
		return Operation{}, fmt.Errorf("%w: negative retry count %d", ErrInvalidOperation, op.RetryCount)
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = q.policy.DefaultMaxRetries
	}
	if op.MaxRetries < 0 {
		return Operation{}, fmt.Errorf("%w: max retries must be positive, got %d", ErrInvalidOperation, op.MaxRetries)
	}
	if op.ID == "" {
		op.ID = q.ids.Generate()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.clock.Now()
	}
	op.CreatedAt = op.CreatedAt.UTC()
	op.Payload = clonePayload(op.Payload)

	data, err := encodeOperation(op, q.compression, q.compressThreshold)
	if err != nil {
		return Operation{}, err
	}
	inserted, err := q.store.PutIfAbsent(ctx, op.ID, data)
	if err != nil {
		return Operation{}, fmt.Errorf("enqueue %s: %w", op.ID, err)
	}
	if !inserted {
		return Operation{}, fmt.Errorf("%w: id %s already queued", ErrInvalidOperation, op.ID)
	}

	q.logger.Debug("operation queued",
		"id", op.ID,
		"type", op.Type,
		"priority", op.Priority,
		"max_retries", op.MaxRetries)
	return op, nil
}

// Pending returns every queued operation in drain order.
func (q *Queue) Pending(ctx context.Context) ([]Operation, error) {
	return q.load(ctx)
}

// Status summarises the queued operations.
func (q *Queue) Status(ctx context.Context) (Status, error) {
	ops, err := q.load(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Pending:    len(ops),
		Processing: q.processing.Load(),
	}
	for _, op := range ops {
		if op.Priority <= 1 {
			st.HighPriority++
		}
		if op.RetryCount > 0 {
			st.Retrying++
		}
		if st.Oldest.IsZero() || op.CreatedAt.Before(st.Oldest) {
			st.Oldest = op.CreatedAt
		}
	}
	return st, nil
}

// ClearProcessed keeps only operations that have failed at least once and
// still have attempts left; everything else is deleted. Returns the number
// of records removed, or ErrProcessing if a drain is running.
func (q *Queue) ClearProcessed(ctx context.Context) (int, error) {
	if !q.processing.CompareAndSwap(false, true) {
		return 0, ErrProcessing
	}
	defer q.processing.Store(false)

	keys, err := q.store.Keys(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	purged := 0
	for _, key := range keys {
		data, err := q.store.Get(ctx, key)
		if kv.IsNotFound(err) {
			continue
		}
		if err != nil {
			return purged, fmt.Errorf("clear: %w", err)
		}
		op, err := decodeOperation(data)
		if err == nil && op.RetryCount > 0 && op.RetryCount < op.MaxRetries {
			continue
		}
		if _, err := q.store.Delete(ctx, key); err != nil {
			return purged, fmt.Errorf("clear %s: %w", key, err)
		}
		purged++
	}
	q.logger.Info("queue cleared", "purged", purged, "kept", len(keys)-purged)
	return purged, nil
}

// Process drains the queue once. See the package documentation for the
// per-operation state machine.
//
// Cancelling ctx stops the drain before the next attempt; the current
// operation stays queued unchanged. A storage failure also stops the
// drain and is returned.
func (q *Queue) Process(ctx context.Context) (Summary, error) {
	if !q.processing.CompareAndSwap(false, true) {
		q.logger.Debug("drain already running, skipping")
		return Summary{Skipped: true}, nil
	}
	defer q.processing.Store(false)

	start := q.clock.Now()
	ops, err := q.load(ctx)
	if err != nil {
		q.logger.Error("drain aborted: load failed", "error", err)
		return Summary{}, err
	}

	q.bus.Publish(events.QueueStarted{Pending: len(ops), At: start})
	q.logger.Info("drain started", "pending", len(ops))

	var sum Summary
	var runErr error
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if err := q.processOne(ctx, op, &sum); err != nil {
			runErr = err
			break
		}
	}
	sum.Elapsed = q.clock.Now().Sub(start)

	q.bus.Publish(events.QueueCompleted{
		Processed: sum.Processed,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Elapsed:   sum.Elapsed,
		Err:       runErr,
	})
	if runErr != nil {
		q.logger.Warn("drain stopped early",
			"processed", sum.Processed,
			"remaining", len(ops)-sum.Processed,
			"error", runErr)
		return sum, runErr
	}
	q.logger.Info("drain completed",
		"processed", sum.Processed,
		"succeeded", sum.Succeeded,
		"failed", sum.Failed,
		"elapsed", sum.Elapsed)
	return sum, nil
}

// processOne returns a non-nil error only when the drain must stop.
func (q *Queue) processOne(ctx context.Context, op Operation, sum *Summary) error {
	if op.Exhausted() {
		if _, err := q.store.Delete(ctx, op.ID); err != nil {
			return fmt.Errorf("evict %s: %w", op.ID, err)
		}
		sum.Processed++
		sum.Failed++
		sum.Evicted++
		q.logger.Warn("operation permanently failed",
			"id", op.ID,
			"type", op.Type,
			"retries", op.RetryCount,
			"last_error", op.LastError)
		q.bus.Publish(events.OperationFailed{
			ID:         op.ID,
			Type:       op.Type,
			RetryCount: op.RetryCount,
			MaxRetries: op.MaxRetries,
			Permanent:  true,
			Err:        lastError(op),
		})
		return nil
	}

	if op.RetryCount > 0 {
		delay := q.policy.Backoff(op.RetryCount, q.random())
		q.logger.Debug("backing off", "id", op.ID, "retry", op.RetryCount, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.clock.After(delay):
		}
	}

	attemptErr := q.attempt(ctx, op)
	if err := ctx.Err(); err != nil {
		// record left in its pre-attempt state
		return err
	}
	sum.Processed++

	if attemptErr == nil {
		if _, err := q.store.Delete(ctx, op.ID); err != nil {
			return fmt.Errorf("remove %s: %w", op.ID, err)
		}
		sum.Succeeded++
		q.logger.Debug("operation succeeded", "id", op.ID, "type", op.Type)
		q.bus.Publish(events.OperationSucceeded{
			ID:      op.ID,
			Type:    op.Type,
			Attempt: op.RetryCount + 1,
		})
		return nil
	}

	op.RetryCount++
	op.LastError = attemptErr.Error()
	op.LastAttemptAt = q.clock.Now().UTC()
	data, err := encodeOperation(op, q.compression, q.compressThreshold)
	if err != nil {
		return err
	}
	if err := q.store.Put(ctx, op.ID, data); err != nil {
		return fmt.Errorf("persist retry %s: %w", op.ID, err)
	}
	sum.Failed++
	q.logger.Warn("operation attempt failed",
		"id", op.ID,
		"type", op.Type,
		"retry_count", op.RetryCount,
		"max_retries", op.MaxRetries,
		"error", attemptErr)
	q.bus.Publish(events.OperationFailed{
		ID:         op.ID,
		Type:       op.Type,
		RetryCount: op.RetryCount,
		MaxRetries: op.MaxRetries,
		Err:        attemptErr,
	})
	return nil
}

func (q *Queue) attempt(ctx context.Context, op Operation) (err error) {
	h, ok := q.registry.Lookup(op.Type)
	if !ok {
		return fmt.Errorf("%w for type %q", ErrNoHandler, op.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Type: op.Type, Value: r, Stack: debug.Stack()}
		}
	}()
	op.Payload = clonePayload(op.Payload)
	return h.Handle(ctx, op)
}

// load reads every record and returns them in drain order. Undecodable
// records are logged and skipped; ClearProcessed removes them.
func (q *Queue) load(ctx context.Context) ([]Operation, error) {
	keys, err := q.store.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	ops := make([]Operation, 0, len(keys))
	for _, key := range keys {
		data, err := q.store.Get(ctx, key)
		if kv.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load queue %s: %w", key, err)
		}
		op, err := decodeOperation(data)
		if err != nil {
			q.logger.Error("skipping undecodable queue record", "key", key, "error", err)
			continue
		}
		ops = append(ops, op)
	}
	slices.SortFunc(ops, compareOperations)
	return ops, nil
}

func compareOperations(a, b Operation) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func lastError(op Operation) error {
	if op.LastError == "" {
		return nil
	}
	return errors.New(op.LastError)
}

func clonePayload(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
