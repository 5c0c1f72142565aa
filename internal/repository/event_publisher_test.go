package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/pkg/ws"
)

type captureProducer struct {
	topics []string
	keys   []string
	values []interface{}
	err    error
}

func (c *captureProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	c.topics = append(c.topics, topic)
	c.keys = append(c.keys, string(key))
	c.values = append(c.values, value)
	return c.err
}

func TestKafkaEventPublisherKeysByTarget(t *testing.T) {
	prod := &captureProducer{}
	p := &KafkaEventPublisher{producer: prod, topic: "signaldesk.events"}
	ctx := context.Background()

	_ = p.PublishEvent(ctx, models.NewEvent(models.EventStrategyCreated, "rsi_1", "", nil))
	_ = p.PublishEvent(ctx, models.NewEvent(models.EventMemberAdded, "rsi_1", "ens_1", nil))

	if prod.keys[0] != "rsi_1" || prod.keys[1] != "ens_1" {
		t.Fatalf("unexpected keys %v", prod.keys)
	}
	if prod.topics[0] != "signaldesk.events" {
		t.Fatalf("unexpected topic %s", prod.topics[0])
	}
}

func TestKafkaEventPublisherWrapsError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaEventPublisher{producer: &captureProducer{err: boom}, topic: "t"}
	if err := p.PublishEvent(context.Background(), models.NewEvent(models.EventViewChanged, "", "", nil)); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) PublishEvent(context.Context, models.Event) error { return f.err }
func (f failingPublisher) Close() error                                   { return nil }

func TestFanoutReachesEveryPublisher(t *testing.T) {
	hub := ws.NewHub(4)
	stream, unsub := hub.Subscribe()
	defer unsub()

	boom := errors.New("down")
	f := FanoutPublisher{failingPublisher{err: boom}, NewHubEventPublisher(hub)}
	e := models.NewEvent(models.EventEnsembleCreated, "rsi_1", "ens_1", map[string]int{"members": 1})

	if err := f.PublishEvent(context.Background(), e); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	var got models.Event
	if err := json.Unmarshal(<-stream, &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.ID != e.ID || got.Type != models.EventEnsembleCreated {
		t.Fatalf("unexpected event %+v", got)
	}
}

var _ domrepo.EventPublisher = failingPublisher{}
