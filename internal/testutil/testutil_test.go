package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/scanvault/internal/events"
)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "op-0001", g.Generate())
	assert.Equal(t, "op-0002", g.Generate())

	h := NewSequentialIDs("scan")
	assert.Equal(t, "scan-0001", h.Generate())
}

func TestSequentialIDs_Concurrent(t *testing.T) {
	g := NewSequentialIDs("op")
	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(g.Generate(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}

func TestRecorder(t *testing.T) {
	bus := events.NewBus()
	r := RecordEvents(t, bus)

	bus.Publish(events.QueueStarted{Pending: 1})
	bus.Publish(events.OperationSucceeded{ID: "a"})
	bus.Publish(events.QueueCompleted{Processed: 1, Succeeded: 1})

	assert.Equal(t, []string{
		events.TopicQueueStarted,
		events.TopicOperationSucceeded,
		events.TopicQueueCompleted,
	}, r.Topics())

	ok := OfType[events.OperationSucceeded](r)
	assert.Len(t, ok, 1)
	assert.Equal(t, "a", ok[0].ID)

	select {
	case <-r.Notify():
	default:
		t.Fatal("expected a notification")
	}

	r.Reset()
	assert.Empty(t, r.All())
}
