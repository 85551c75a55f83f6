// Package events mirrors pipeline events onto Redis pub/sub so that other
// processes can follow pipelines without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/sketchmotion/internal/infrastructure/logger"
	"github.com/bnema/sketchmotion/internal/service"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "sketchmotion:pipeline:"
	publishTimeout = 2 * time.Second
	queueSize      = 256
)

// Channel returns the pub/sub channel carrying a pipeline's events.
func Channel(pipelineID string) string {
	return channelPrefix + pipelineID
}

type message struct {
	pipelineID string
	event      service.Event
}

// Publisher forwards events from a bounded queue. Publish never blocks, events
// are dropped when Redis falls behind.
type Publisher struct {
	rdb   *redis.Client
	queue chan message
	done  chan struct{}
	once  sync.Once
}

// Connect pings addr and starts the forwarding loop.
func Connect(ctx context.Context, addr string) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewPublisher(rdb), nil
}

func NewPublisher(rdb *redis.Client) *Publisher {
	p := &Publisher{
		rdb:   rdb,
		queue: make(chan message, queueSize),
		done:  make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Publisher) Publish(pipelineID string, event service.Event) {
	select {
	case p.queue <- message{pipelineID: pipelineID, event: event}:
	default:
		logger.Debug.Printf("redis queue full, dropping %s event for pipeline %s", event.Type, pipelineID)
	}
}

func (p *Publisher) loop() {
	defer close(p.done)
	for msg := range p.queue {
		payload, err := json.Marshal(msg.event)
		if err != nil {
			logger.Error.Printf("failed to encode event for pipeline %s: %v", msg.pipelineID, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.rdb.Publish(ctx, Channel(msg.pipelineID), payload).Err(); err != nil {
			logger.Warn.Printf("failed to publish event for pipeline %s: %v", msg.pipelineID, err)
		}
		cancel()
	}
}

// Close flushes queued events and closes the client. Publish must not be
// called afterwards.
func (p *Publisher) Close() error {
	p.once.Do(func() { close(p.queue) })
	<-p.done
	return p.rdb.Close()
}

var _ service.EventPublisher = (*Publisher)(nil)
