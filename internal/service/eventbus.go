package service

import (
	"sync"
	"time"
)

type EventPublisher interface {
	Publish(pipelineID string, event Event)
}

// Event is a status change of a pipeline or one of its jobs.
type Event struct {
	Type       string    `json:"type"` // "job", "progress", "pipeline"
	PipelineID string    `json:"pipeline_id"`
	Stage      int       `json:"stage,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	At         time.Time `json:"at"`
}

type EventBus struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
	}
}

func (eb *EventBus) Subscribe(pipelineID string) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, 16)
	eb.subscribers[pipelineID] = append(eb.subscribers[pipelineID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(pipelineID string, ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[pipelineID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[pipelineID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[pipelineID]) == 0 {
		delete(eb.subscribers, pipelineID)
	}
}

func (eb *EventBus) Publish(pipelineID string, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[pipelineID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is slow
		}
	}
}

// FanOut publishes every event to each of its publishers.
type FanOut []EventPublisher

func (f FanOut) Publish(pipelineID string, event Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(pipelineID, event)
		}
	}
}
