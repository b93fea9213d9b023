// Package orphans publishes object keys left without a metadata row so an
// out-of-band sweeper can remove them.
package orphans

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/gallery"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// DefaultExchange is the topic exchange orphan reports are published to.
	DefaultExchange = "exhibits.orphans"
	// DefaultRoutingKey routes reports to the sweeper queue.
	DefaultRoutingKey = "object.orphaned"

	exchangeKindTopic = "topic"
	publishTimeout    = 5 * time.Second
)

var (
	// ErrMissingURL indicates the publisher was configured without a broker url.
	ErrMissingURL = errors.New("orphans: amqp url is required")
	// ErrMissingChannel indicates the publisher was constructed without a channel.
	ErrMissingChannel = errors.New("orphans: amqp channel is required")
)

// Message is the JSON body of one orphan report.
type Message struct {
	Operation  string   `json:"operation"`
	Reason     string   `json:"reason"`
	Keys       []string `json:"keys"`
	Cause      string   `json:"cause,omitempty"`
	ReportedAt int64    `json:"reported_at"`
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config configures the AMQP publisher.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Publisher reports orphaned keys to an AMQP topic exchange.
type Publisher struct {
	connection *amqp.Connection
	channel    channel
	exchange   string
	routingKey string
	logger     *zap.Logger
	clock      func() time.Time
}

var _ gallery.OrphanReporter = (*Publisher)(nil)

// Dial connects to the broker and declares the exchange.
func Dial(cfg Config) (*Publisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, ErrMissingURL
	}
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, err
	}
	publisher, err := newPublisher(ch, cfg)
	if err != nil {
		_ = ch.Close()
		_ = connection.Close()
		return nil, err
	}
	publisher.connection = connection
	return publisher, nil
}

func newPublisher(ch channel, cfg Config) (*Publisher, error) {
	if ch == nil {
		return nil, ErrMissingChannel
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	routingKey := strings.TrimSpace(cfg.RoutingKey)
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
		clock:      clock,
	}, nil
}

// ReportOrphans publishes the report. Failures are logged and never returned.
func (p *Publisher) ReportOrphans(ctx context.Context, report gallery.OrphanReport) {
	if len(report.Keys) == 0 {
		return
	}
	now := p.clock().UTC()
	body, err := json.Marshal(Message{
		Operation:  report.Operation,
		Reason:     report.Reason,
		Keys:       report.Keys,
		Cause:      report.Cause,
		ReportedAt: now.Unix(),
	})
	if err != nil {
		p.logger.Error("orphan report encoding failed", zap.Error(err))
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err = p.channel.PublishWithContext(publishCtx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
	})
	if err != nil {
		p.logger.Error("orphan report publish failed",
			zap.String("operation", report.Operation),
			zap.String("reason", report.Reason),
			zap.Strings("keys", report.Keys),
			zap.Error(err))
		return
	}
	p.logger.Info("orphan report published",
		zap.String("operation", report.Operation),
		zap.Int("keys", len(report.Keys)))
}

// Close releases the channel and the connection.
func (p *Publisher) Close() error {
	var failures []error
	if p.channel != nil {
		failures = append(failures, p.channel.Close())
	}
	if p.connection != nil {
		failures = append(failures, p.connection.Close())
	}
	return errors.Join(failures...)
}
