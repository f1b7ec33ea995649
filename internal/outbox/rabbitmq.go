package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var ErrPublishNacked = errors.New("rabbitmq: message was nacked by broker")

// RabbitConfig locates the exchange events are published to.
type RabbitConfig struct {
	URL            string
	Exchange       string
	ConfirmTimeout time.Duration
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (confirmation, error)
	IsClosed() bool
	Close() error
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type amqpChannel struct {
	*amqp.Channel
}

func (c amqpChannel) PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil || dc == nil {
		return nil, err
	}
	return dc, nil
}

// RabbitPublisher publishes to a topic exchange with publisher confirms. An
// event counts as delivered only once the broker acks it.
type RabbitPublisher struct {
	cfg    RabbitConfig
	logger *logrus.Logger

	mu          sync.Mutex
	conn        *amqp.Connection
	ch          channel
	openChannel func() (channel, error)
}

func NewRabbitPublisher(cfg RabbitConfig, logger *logrus.Logger) (*RabbitPublisher, error) {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	p := &RabbitPublisher{cfg: cfg, logger: logger}
	p.openChannel = p.dial

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect must be called with mu held.
func (p *RabbitPublisher) connect() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	ch, err := p.openChannel()
	if err != nil {
		return err
	}
	p.ch = ch
	p.logger.WithField("exchange", p.cfg.Exchange).Info("RabbitPublisher.connect")
	return nil
}

// dial opens a confirm-mode channel, redialing the connection if it dropped.
func (p *RabbitPublisher) dial() (channel, error) {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}
	return amqpChannel{Channel: ch}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, event *Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return err
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, event.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         event.EventType,
		Timestamp:    event.CreatedAt,
		Headers: amqp.Table{
			"transaction_id": event.TransactionID.String(),
		},
		Body: event.Payload,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	if confirm == nil {
		return errors.New("rabbitmq publish: channel is not in confirm mode")
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
