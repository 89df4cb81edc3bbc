package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"timeline_sync/internal/domain"
	"timeline_sync/internal/events"
)

// Consumer subscribes handlers to the event exchange. Every subscription gets its own
// exclusive queue, so each live controller sees every event.
type Consumer struct {
	conn       *amqp.Connection
	exchange   string
	routingKey string
	logger     *slog.Logger
	seq        atomic.Uint64
}

func NewConsumer(cfg Config, logger *slog.Logger) (*Consumer, error) {
	conn, ch, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	ch.Close()

	return &Consumer{
		conn:       conn,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func (c *Consumer) Subscribe(_ context.Context, h events.Handler) (events.Subscription, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, c.routingKey, c.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	tag := fmt.Sprintf("timeline-sync-%d", c.seq.Add(1))
	deliveries, err := ch.Consume(
		q.Name,
		tag,
		true,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume: %w", err)
	}

	sub := &subscription{
		channel: ch,
		tag:     tag,
		done:    make(chan struct{}),
	}
	go c.dispatch(deliveries, h, sub.done)

	c.logger.Info("subscribed to events", "queue", q.Name, "consumer", tag)
	return sub, nil
}

func (c *Consumer) dispatch(deliveries <-chan amqp.Delivery, h events.Handler, done chan<- struct{}) {
	defer close(done)

	for d := range deliveries {
		var msg domain.EventMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			c.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		h(msg.Event())
	}
}

func (c *Consumer) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

type subscription struct {
	channel *amqp.Channel
	tag     string
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		if err := s.channel.Cancel(s.tag, false); err != nil {
			s.err = fmt.Errorf("cancel consumer: %w", err)
		}
		if err := s.channel.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("close channel: %w", err)
		}
		<-s.done
	})
	return s.err
}
