package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(0)
	ch := bus.Subscribe("sess-1", 4)
	defer bus.Unsubscribe("sess-1", ch)

	bus.Publish(Event{SessionID: "sess-1", Type: TypeEyeStarted, Eye: "clarify"})

	evt := <-ch
	assert.Equal(t, TypeEyeStarted, evt.Type)
	assert.Equal(t, "clarify", evt.Eye)
	assert.Equal(t, uint64(1), evt.Seq)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestSequencesAreIndependentPerSession(t *testing.T) {
	bus := NewBus(0)

	bus.Publish(Event{SessionID: "a", Type: TypeEyeStarted})
	bus.Publish(Event{SessionID: "a", Type: TypeEyeCompleted})
	bus.Publish(Event{SessionID: "b", Type: TypeEyeStarted})

	a := bus.ReplaySince("a", 0)
	require.Len(t, a, 2)
	assert.Equal(t, uint64(1), a[0].Seq)
	assert.Equal(t, uint64(2), a[1].Seq)

	b := bus.ReplaySince("b", 0)
	require.Len(t, b, 1)
	assert.Equal(t, uint64(1), b[0].Seq)
}

func TestSlowSubscriberDropsButCanReplay(t *testing.T) {
	bus := NewBus(0)
	ch := bus.Subscribe("sess-1", 1)
	defer bus.Unsubscribe("sess-1", ch)

	// Publishing never blocks, even with a full subscriber buffer.
	for i := 0; i < 3; i++ {
		bus.Publish(Event{SessionID: "sess-1", Type: TypeEyeCompleted})
	}

	first := <-ch
	assert.Equal(t, uint64(1), first.Seq)

	missed := bus.ReplaySince("sess-1", first.Seq)
	require.Len(t, missed, 2)
	assert.Equal(t, uint64(2), missed[0].Seq)
	assert.Equal(t, uint64(3), missed[1].Seq)
}

func TestReplayHonorsRingCapacity(t *testing.T) {
	bus := NewBus(4)

	for i := 0; i < 10; i++ {
		bus.Publish(Event{SessionID: "sess-1", Type: TypeEyeCompleted})
	}

	events := bus.ReplaySince("sess-1", 0)
	require.Len(t, events, 4)
	assert.Equal(t, uint64(7), events[0].Seq)
	assert.Equal(t, uint64(10), events[3].Seq)
}

func TestReplayUnknownSession(t *testing.T) {
	bus := NewBus(0)
	assert.Empty(t, bus.ReplaySince("nope", 0))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(0)
	ch := bus.Subscribe("sess-1", 1)
	bus.Unsubscribe("sess-1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after the last unsubscribe must not panic.
	bus.Publish(Event{SessionID: "sess-1", Type: TypeTaskCompleted})

	// Double unsubscribe is a no-op.
	bus.Unsubscribe("sess-1", ch)
}

func TestDropSessionClosesSubscribers(t *testing.T) {
	bus := NewBus(0)
	ch := bus.Subscribe("sess-1", 1)
	bus.Publish(Event{SessionID: "sess-1", Type: TypeTaskCompleted})

	bus.DropSession("sess-1")

	// Drain the buffered event, then observe the close.
	<-ch
	_, open := <-ch
	assert.False(t, open)
	assert.Empty(t, bus.ReplaySince("sess-1", 0))
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus(64)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Publish(Event{SessionID: "sess-1", Type: TypeEyeCompleted})
			}
		}()
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := bus.Subscribe("sess-1", 8)
			for i := 0; i < 10; i++ {
				select {
				case <-ch:
				default:
				}
			}
			bus.Unsubscribe("sess-1", ch)
		}()
	}
	wg.Wait()

	tail := bus.ReplaySince("sess-1", 0)
	require.Len(t, tail, 64)
	assert.Equal(t, uint64(200), tail[len(tail)-1].Seq)
}
