package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	pkgkafka "SignalDesk/pkg/kafka"
	"SignalDesk/pkg/ws"
)

type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaEventPublisher writes events to a topic keyed by ensemble or strategy
// id, so one target's events stay ordered within a partition.
type KafkaEventPublisher struct {
	producer messageProducer
	topic    string
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

// NewKafkaEventPublisher creates Kafka event publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, e models.Event) error {
	key := e.EnsembleID
	if key == "" {
		key = e.StrategyID
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(key), e); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Close is a no-op; the producer is shared with the log collector and
// closed by the application.
func (p *KafkaEventPublisher) Close() error { return nil }

// HubEventPublisher broadcasts events as JSON frames to websocket clients.
type HubEventPublisher struct {
	hub *ws.Hub
}

var _ domrepo.EventPublisher = (*HubEventPublisher)(nil)

func NewHubEventPublisher(hub *ws.Hub) *HubEventPublisher {
	return &HubEventPublisher{hub: hub}
}

func (p *HubEventPublisher) PublishEvent(_ context.Context, e models.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type, err)
	}
	p.hub.Broadcast(b)
	return nil
}

func (p *HubEventPublisher) Close() error { return p.hub.Close() }

// FanoutPublisher forwards each event to every publisher and joins errors.
type FanoutPublisher []domrepo.EventPublisher

var _ domrepo.EventPublisher = FanoutPublisher(nil)

func (f FanoutPublisher) PublishEvent(ctx context.Context, e models.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f FanoutPublisher) Close() error {
	var errs []error
	for _, p := range f {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
