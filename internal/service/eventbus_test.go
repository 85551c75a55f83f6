package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	events []Event
}

func (r *recordingPublisher) Publish(_ string, event Event) {
	r.events = append(r.events, event)
}

func TestEventBus_PublishToSubscribers(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe("pipe-1")
	b := bus.Subscribe("pipe-1")
	other := bus.Subscribe("pipe-2")

	bus.Publish("pipe-1", Event{Type: "job", Status: "running"})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Empty(t, other)
	assert.Equal(t, "running", (<-a).Status)
}

func TestEventBus_DropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("pipe-1")

	for i := 0; i < 40; i++ {
		bus.Publish("pipe-1", Event{Type: "job"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe("pipe-1")
	bus.Unsubscribe("pipe-1", ch)

	_, open := <-ch
	assert.False(t, open)

	bus.Publish("pipe-1", Event{Type: "job"})
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	assert.NotContains(t, bus.subscribers, "pipe-1")
}

func TestFanOut(t *testing.T) {
	first, second := &recordingPublisher{}, &recordingPublisher{}
	FanOut{first, nil, second}.Publish("pipe-1", Event{Type: "pipeline", Status: "succeeded"})

	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}
