//go:build integration

package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"timeline_sync/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) config(name string) Config {
	return Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-" + name,
		RoutingKey: "test-routing-key-" + name,
	}
}

func (s *RabbitMQIntegrationSuite) subscribe(consumer *Consumer) (<-chan domain.RemovalEvent, func()) {
	received := make(chan domain.RemovalEvent, 10)
	sub, err := consumer.Subscribe(s.ctx, func(ev domain.RemovalEvent) { received <- ev })
	s.Require().NoError(err)
	return received, func() { s.NoError(sub.Close()) }
}

func (s *RabbitMQIntegrationSuite) receive(ch <-chan domain.RemovalEvent) domain.RemovalEvent {
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for event")
		return domain.RemovalEvent{}
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	pub, err := NewPublisher(s.config("conn"), s.logger)
	s.NoError(err)
	s.NotNil(pub)

	s.NoError(pub.Close())
}

func (s *RabbitMQIntegrationSuite) TestPublishAndConsume() {
	cfg := s.config("roundtrip")

	consumer, err := NewConsumer(cfg, s.logger)
	s.Require().NoError(err)
	defer consumer.Close()

	received, unsubscribe := s.subscribe(consumer)
	defer unsubscribe()

	pub, err := NewPublisher(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	sent := domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 123, Flag: true}
	s.NoError(pub.Publish(s.ctx, sent))

	s.Equal(sent, s.receive(received))
}

func (s *RabbitMQIntegrationSuite) TestEverySubscriberReceives() {
	cfg := s.config("fanout")

	consumer, err := NewConsumer(cfg, s.logger)
	s.Require().NoError(err)
	defer consumer.Close()

	first, closeFirst := s.subscribe(consumer)
	defer closeFirst()
	second, closeSecond := s.subscribe(consumer)
	defer closeSecond()

	pub, err := NewPublisher(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	sent := domain.RemovalEvent{Kind: domain.EventRelationshipRevoked, TargetID: 7, Flag: false}
	s.NoError(pub.Publish(s.ctx, sent))

	s.Equal(sent, s.receive(first))
	s.Equal(sent, s.receive(second))
}

func (s *RabbitMQIntegrationSuite) TestClosedSubscriptionStopsDelivery() {
	cfg := s.config("closed")

	consumer, err := NewConsumer(cfg, s.logger)
	s.Require().NoError(err)
	defer consumer.Close()

	received, unsubscribe := s.subscribe(consumer)
	unsubscribe()

	pub, err := NewPublisher(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	s.NoError(pub.Publish(s.ctx, domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 1, Flag: true}))

	select {
	case ev := <-received:
		s.Failf("unexpected event", "%+v", ev)
	case <-time.After(500 * time.Millisecond):
	}
}

func (s *RabbitMQIntegrationSuite) TestMessageFormat() {
	cfg := s.config("format")

	pub, err := NewPublisher(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	s.Require().NoError(err)
	s.Require().NoError(ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil))

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	s.Require().NoError(err)

	s.NoError(pub.Publish(s.ctx, domain.RemovalEvent{Kind: domain.EventEntryRemoved, TargetID: 789, Flag: true}))

	select {
	case msg := <-msgs:
		s.Equal("application/json", msg.ContentType)
		s.Equal("entry_removed", msg.Type)

		var received domain.EventMessage
		s.NoError(json.Unmarshal(msg.Body, &received))
		s.Equal(domain.EventEntryRemoved, received.Action)
		s.Equal(int64(789), received.TargetID)
		s.True(received.Flag)
		s.False(received.Timestamp.IsZero())
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
	}
}
