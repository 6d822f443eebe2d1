// Package consumer принимает тики из RabbitMQ и передаёт их обработчику.
//
// Топология объявляется на каждом подключении: durable direct exchange,
// durable очередь с ограничением длины (x-max-length), привязка по
// routing key. Подтверждения ручные: успешно обработанное сообщение
// ack'ается, ошибочное nack'ается без requeue - битый тик не должен
// крутиться в очереди.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"arbsim/internal/models"
	"arbsim/pkg/retry"
)

// Options - параметры подключения к брокеру
type Options struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	QueueLength  int
}

// Handler обрабатывает один разобранный тик.
// Возврат ошибки ведёт к nack без requeue; фатальные ошибки
// (models.ErrSnapshotIO) останавливают потребителя.
type Handler func(tick *models.Tick) error

// Consumer - потребитель тиков с автоматическим переподключением
type Consumer struct {
	opts    Options
	handler Handler
	log     zerolog.Logger
}

// New создаёт потребителя
func New(opts Options, handler Handler, log zerolog.Logger) *Consumer {
	return &Consumer{opts: opts, handler: handler, log: log}
}

// Run подключается к брокеру и обрабатывает сообщения до отмены контекста.
// Обрыв соединения ведёт к переподключению с экспоненциальным backoff.
// Возвращает nil при отмене контекста, ошибку при фатальном сбое обработчика.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.consume(ctx, conn)
		_ = conn.Close()

		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && errors.Is(err, models.ErrSnapshotIO):
			return err
		case err != nil:
			c.log.Warn().Err(err).Msg("broker connection lost, reconnecting")
		}
	}
}

// connect устанавливает соединение с бесконечным backoff
func (c *Consumer) connect(ctx context.Context) (*amqp.Connection, error) {
	var conn *amqp.Connection

	cfg := retry.NetworkConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("broker dial failed")
	}

	err := retry.Do(ctx, func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(c.opts.URL)
		return dialErr
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	return conn, nil
}

// consume объявляет топологию и читает сообщения до обрыва или отмены
func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		c.opts.ExchangeName,
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	queue, err := ch.QueueDeclare(
		c.opts.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-length": int32(c.opts.QueueLength)},
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, c.opts.RoutingKey, c.opts.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",    // consumer tag
		false, // auto-ack выключен, подтверждаем вручную
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}

	c.log.Info().
		Str("queue", queue.Name).
		Str("exchange", c.opts.ExchangeName).
		Str("routing_key", c.opts.RoutingKey).
		Msg("consuming ticks")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := c.handleDelivery(d); err != nil {
				return err
			}
		}
	}
}

// handleDelivery разбирает, обрабатывает и подтверждает одно сообщение
func (c *Consumer) handleDelivery(d amqp.Delivery) error {
	tick, err := models.ParseTick(d.Body)
	if err != nil {
		c.log.Warn().Err(err).Msg("malformed tick discarded")
		return d.Nack(false, false)
	}

	if err := c.handler(tick); err != nil {
		_ = d.Nack(false, false)
		if errors.Is(err, models.ErrSnapshotIO) {
			return err
		}
		c.log.Warn().Err(err).
			Str("exchange", tick.Exchange).
			Str("instrument", tick.InstrumentID).
			Msg("tick processing failed")
		return nil
	}

	return d.Ack(false)
}
