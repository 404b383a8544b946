package harness

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/scanvault/internal/cas"
	"github.com/roach88/scanvault/internal/clock"
	"github.com/roach88/scanvault/internal/envelope"
	"github.com/roach88/scanvault/internal/events"
	"github.com/roach88/scanvault/internal/queue"
	"github.com/roach88/scanvault/internal/store"
	"github.com/roach88/scanvault/internal/testutil"
	"github.com/roach88/scanvault/internal/vault"
)

// Epoch is the fake clock's starting time for every run.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness holds the per-run infrastructure.
type Harness struct {
	backing *store.Store
	clock   *clock.FakeClock
	vault   *vault.Vault
	queue   *queue.Queue
	signers map[string]envelope.Signer
	refs    map[string]cas.Address
	names   map[cas.Address]string
	logger  *slog.Logger

	attempts map[string]int
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. A returned error means
// the scenario could not be executed at all; failed expectations and
// assertions are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := clock.AutoFake(Epoch)

	v, err := vault.New(cas.New(st, cas.WithLogger(logger)), envelope.NewSignatureVerifier(),
		vault.WithClock(fake),
		vault.WithLogger(logger),
		vault.WithMetadataCache(0))
	if err != nil {
		return nil, err
	}
	defer v.Close()

	h := &Harness{
		backing:  st,
		clock:    fake,
		vault:    v,
		signers:  make(map[string]envelope.Signer, len(scenario.Keys)),
		refs:     make(map[string]cas.Address),
		names:    make(map[cas.Address]string),
		logger:   logger,
		attempts: make(map[string]int),
	}
	for name, alg := range scenario.Keys {
		signer, err := deriveSigner(name, alg)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", name, err)
		}
		h.signers[name] = signer
	}

	registry := queue.NewRegistry()
	for opType, spec := range scenario.Handlers {
		registry.RegisterFunc(opType, h.scriptedHandler(spec))
	}

	bus := events.NewBus()
	h.queue = queue.New(st, registry,
		queue.WithPolicy(queue.Policy{DefaultMaxRetries: scenario.MaxRetries}),
		queue.WithBus(bus),
		queue.WithClock(fake),
		queue.WithLogger(logger),
		queue.WithRandom(func() float64 { return 0.5 }),
		queue.WithIDGenerator(testutil.NewSequentialIDs("op")))

	result := NewResult()
	stop, err := traceEvents(bus, result)
	if err != nil {
		return nil, err
	}
	defer stop()

	ctx := context.Background()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{
		Ctx:   ctx,
		Vault: v,
		Queue: h.queue,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// traceEvents records queue events into result as they are published.
func traceEvents(bus *events.Bus, result *Result) (func(), error) {
	var cancels []func()
	stop := func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
	subscribe := func(err error, cancel func()) error {
		if err == nil {
			cancels = append(cancels, cancel)
		}
		return err
	}

	cancel, err := events.Subscribe(bus, func(e events.QueueStarted) {
		result.add(KindEvent, e.Topic(), map[string]any{"pending": e.Pending})
	})
	if err := subscribe(err, cancel); err != nil {
		return nil, err
	}
	cancel, err = events.Subscribe(bus, func(e events.QueueCompleted) {
		result.add(KindEvent, e.Topic(), map[string]any{
			"processed": e.Processed,
			"succeeded": e.Succeeded,
			"failed":    e.Failed,
		})
	})
	if err := subscribe(err, cancel); err != nil {
		stop()
		return nil, err
	}
	cancel, err = events.Subscribe(bus, func(e events.OperationSucceeded) {
		result.add(KindEvent, e.Topic(), map[string]any{
			"id":      e.ID,
			"type":    e.Type,
			"attempt": e.Attempt,
		})
	})
	if err := subscribe(err, cancel); err != nil {
		stop()
		return nil, err
	}
	cancel, err = events.Subscribe(bus, func(e events.OperationFailed) {
		result.add(KindEvent, e.Topic(), map[string]any{
			"id":          e.ID,
			"type":        e.Type,
			"retry_count": e.RetryCount,
			"max_retries": e.MaxRetries,
			"permanent":   e.Permanent,
		})
	})
	if err := subscribe(err, cancel); err != nil {
		stop()
		return nil, err
	}
	return stop, nil
}

// scriptedHandler builds a queue handler that behaves as spec describes.
func (h *Harness) scriptedHandler(spec HandlerSpec) queue.HandlerFunc {
	return func(ctx context.Context, op queue.Operation) error {
		h.attempts[op.ID]++
		n := h.attempts[op.ID]
		switch {
		case spec.Panic:
			panic(fmt.Sprintf("scripted panic on attempt %d", n))
		case spec.FailAlways, n <= spec.FailTimes:
			return fmt.Errorf("scripted failure on attempt %d", n)
		}
		return nil
	}
}

// executeFlow runs the flow steps in order. Each step is traced before it
// runs so that events it causes follow it in the trace.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		idx := result.add(KindStep, step.Do, step.Args)

		out, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("flow[%d] %s: %w", i, step.Do, err)
		}
		result.Trace[idx].Result = out

		for _, mismatch := range matchFields(out, step.Expect) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Do, mismatch))
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step FlowStep) (map[string]any, error) {
	switch step.Do {
	case ActionStore:
		return h.storeContent(ctx, step.Args)
	case ActionRetrieve:
		return h.retrieve(ctx, step.Args)
	case ActionTamper:
		return h.tamper(ctx, step.Args)
	case ActionCorrupt:
		return h.corrupt(ctx, step.Args)
	case ActionDelete:
		return h.deleteRef(ctx, step.Args)
	case ActionList:
		return h.list(ctx)
	case ActionEnqueue:
		return h.enqueue(ctx, step.Args)
	case ActionProcess:
		sum, err := h.queue.Process(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"processed": sum.Processed,
			"succeeded": sum.Succeeded,
			"failed":    sum.Failed,
			"evicted":   sum.Evicted,
		}, nil
	case ActionClear:
		removed, err := h.queue.ClearProcessed(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"removed": removed}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", step.Do)
	}
}

func (h *Harness) storeContent(ctx context.Context, args map[string]any) (map[string]any, error) {
	ref, err := stringArg(args, "ref")
	if err != nil {
		return nil, err
	}
	keyName, err := stringArg(args, "key")
	if err != nil {
		return nil, err
	}
	signer, ok := h.signers[keyName]
	if !ok {
		return nil, fmt.Errorf("unknown key %q", keyName)
	}
	content, _ := args["content"].(string)

	at := h.clock.Now()
	if offset, ok := args["at"].(string); ok {
		d, err := time.ParseDuration(offset)
		if err != nil {
			return nil, fmt.Errorf("at: %w", err)
		}
		at = Epoch.Add(d)
	}

	sc, err := envelope.Sign([]byte(content), signer, at)
	if err != nil {
		return nil, err
	}
	md, err := h.vault.Store(ctx, sc)
	if err != nil {
		return nil, err
	}
	h.refs[ref] = md.Address
	h.names[md.Address] = ref
	return map[string]any{"outcome": "stored"}, nil
}

func (h *Harness) retrieve(ctx context.Context, args map[string]any) (map[string]any, error) {
	addr, err := h.ref(args)
	if err != nil {
		return nil, err
	}
	got, err := h.vault.Retrieve(ctx, addr)
	if err != nil && !vault.IsTampered(err) {
		return nil, err
	}
	out := map[string]any{"outcome": got.Outcome.String()}
	if got.Outcome == vault.Found {
		out["content"] = string(got.Content.Content)
	}
	return out, nil
}

// tamper rewrites the stored envelope's content in place, leaving the
// signature and the address untouched.
func (h *Harness) tamper(ctx context.Context, args map[string]any) (map[string]any, error) {
	addr, err := h.ref(args)
	if err != nil {
		return nil, err
	}
	content, _ := args["content"].(string)

	key := cas.Namespace + string(addr)
	data, err := h.backing.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	sc, err := envelope.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	sc.Content = []byte(content)
	rewritten, err := envelope.Marshal(sc)
	if err != nil {
		return nil, err
	}
	if err := h.backing.Put(ctx, key, rewritten); err != nil {
		return nil, err
	}
	return map[string]any{"outcome": "rewritten"}, nil
}

func (h *Harness) corrupt(ctx context.Context, args map[string]any) (map[string]any, error) {
	addr, err := h.ref(args)
	if err != nil {
		return nil, err
	}
	if err := h.backing.Put(ctx, cas.Namespace+string(addr), []byte("not an envelope")); err != nil {
		return nil, err
	}
	return map[string]any{"outcome": "corrupted"}, nil
}

func (h *Harness) deleteRef(ctx context.Context, args map[string]any) (map[string]any, error) {
	addr, err := h.ref(args)
	if err != nil {
		return nil, err
	}
	removed, err := h.vault.Delete(ctx, addr)
	if err != nil {
		return nil, err
	}
	if removed {
		return map[string]any{"outcome": "deleted"}, nil
	}
	return map[string]any{"outcome": "missing"}, nil
}

// list reports refs rather than addresses so traces stay readable.
func (h *Harness) list(ctx context.Context) (map[string]any, error) {
	entries, err := h.vault.List(ctx)
	if err != nil {
		return nil, err
	}
	refs := []any{}
	for md := range entries {
		name, ok := h.names[md.Address]
		if !ok {
			name = md.Address.String()
		}
		refs = append(refs, name)
	}
	return map[string]any{"count": len(refs), "refs": refs}, nil
}

func (h *Harness) enqueue(ctx context.Context, args map[string]any) (map[string]any, error) {
	opType, err := stringArg(args, "type")
	if err != nil {
		return nil, err
	}
	priority, err := intArg(args, "priority")
	if err != nil {
		return nil, err
	}
	maxRetries, err := intArg(args, "max_retries")
	if err != nil {
		return nil, err
	}
	payload, _ := args["payload"].(string)

	op, err := h.queue.Enqueue(ctx, queue.Operation{
		Type:       opType,
		Priority:   priority,
		MaxRetries: maxRetries,
		Payload:    []byte(payload),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": op.ID}, nil
}

func (h *Harness) ref(args map[string]any) (cas.Address, error) {
	ref, err := stringArg(args, "ref")
	if err != nil {
		return "", err
	}
	addr, ok := h.refs[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %q", ref)
	}
	return addr, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	s, ok := args[name].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("args.%s is required", name)
	}
	return s, nil
}

// intArg returns 0 when the argument is absent.
func intArg(args map[string]any, name string) (int, error) {
	v, ok := args[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("args.%s must be an integer, got %T", name, v)
	}
	return n, nil
}

// deriveSigner builds a deterministic signer whose key is derived from
// name.
func deriveSigner(name, alg string) (envelope.Signer, error) {
	seed := sha256.Sum256([]byte(name))
	switch alg {
	case "ed25519":
		return envelope.NewEd25519Signer(ed25519.NewKeyFromSeed(seed[:]))
	case "es256k":
		return envelope.NewSecp256k1Signer(seed[:])
	default:
		return nil, errors.New("algorithm must be ed25519 or es256k")
	}
}
