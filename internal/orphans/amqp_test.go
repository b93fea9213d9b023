package orphans

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/gallery"
	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	published  []publishedMessage
	publishErr error
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+":"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublisherDeclaresTopicExchange(t *testing.T) {
	ch := &fakeChannel{}
	if _, err := newPublisher(ch, Config{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != DefaultExchange+":topic" {
		t.Fatalf("unexpected declarations %v", ch.declared)
	}
}

func TestPublisherPublishesJSONReport(t *testing.T) {
	ch := &fakeChannel{}
	publisher, err := newPublisher(ch, Config{
		Exchange:   "custom.exchange",
		RoutingKey: "custom.key",
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	publisher.ReportOrphans(context.Background(), gallery.OrphanReport{
		Operation: "gallery.delete_image",
		Reason:    gallery.OrphanReasonDelete,
		Keys:      []string{"solo/quiet-forms/a.png"},
		Cause:     "timeout",
	})

	if len(ch.published) != 1 {
		t.Fatalf("expected one message, got %d", len(ch.published))
	}
	published := ch.published[0]
	if published.exchange != "custom.exchange" || published.key != "custom.key" {
		t.Fatalf("unexpected routing %s/%s", published.exchange, published.key)
	}
	if published.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("expected persistent delivery")
	}
	var message Message
	if err := json.Unmarshal(published.msg.Body, &message); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	if message.Reason != gallery.OrphanReasonDelete || len(message.Keys) != 1 || message.ReportedAt != 1700000000 {
		t.Fatalf("unexpected message %#v", message)
	}
}

func TestPublisherSkipsEmptyReportsAndSwallowsErrors(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("broker down")}
	publisher, err := newPublisher(ch, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	publisher.ReportOrphans(context.Background(), gallery.OrphanReport{Operation: "op"})
	publisher.ReportOrphans(context.Background(), gallery.OrphanReport{Operation: "op", Keys: []string{"k"}})
	if len(ch.published) != 0 {
		t.Fatalf("expected nothing published")
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !ch.closed {
		t.Fatalf("expected channel to be closed")
	}
}

func TestDialRequiresURL(t *testing.T) {
	if _, err := Dial(Config{}); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("expected missing url error, got %v", err)
	}
}
