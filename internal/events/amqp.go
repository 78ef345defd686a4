package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// AMQP publishes to a topic exchange on an AMQP 0.9.1 broker (RabbitMQ).
type AMQP struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
}

var _ Publisher = (*AMQP)(nil)

// NewAMQP connects to uri and declares the portfolio exchange.
func NewAMQP(uri string) (*AMQP, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	slog.Info("Connected to message broker", "exchange", Exchange)
	return &AMQP{conn: conn, ch: ch}, nil
}

func (a *AMQP) PublishBalanceUpdated(_ context.Context, ev BalanceUpdated) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// reopen the channel after a broker-side close
	if a.ch == nil {
		if a.ch, err = a.conn.Channel(); err != nil {
			return fmt.Errorf("amqp channel: %w", err)
		}
	}

	msg := amqp.Publishing{
		Headers:      amqp.Table{"x-wallet-id": ev.WalletID},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.FetchedAt,
		Body:         body,
	}
	if err := a.ch.Publish(Exchange, ev.RoutingKey(), false, false, msg); err != nil {
		_ = a.ch.Close()
		a.ch = nil
		return fmt.Errorf("publish %s: %w", ev.RoutingKey(), err)
	}
	return nil
}

// Close terminates the connection to the broker.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			slog.Warn("Error closing amqp channel", "error", err)
		}
		a.ch = nil
	}
	return a.conn.Close()
}
