package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher публикует события в topic exchange RabbitMQ.
// Routing key — тип события.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher подключается к брокеру и объявляет exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "amqp_publisher")),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect открывает соединение и канал. Вызывается под mu (или до начала работы).
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("подключение к AMQP: %w", err)
	}
	ch, err := p.openChannel(conn)
	if err != nil {
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = ch
	p.logger.Info("Подключение к AMQP установлено", slog.String("exchange", p.exchange))
	return nil
}

// openChannel открывает канал на conn и объявляет exchange.
func (p *AMQPPublisher) openChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("открытие AMQP канала: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("объявление exchange %s: %w", p.exchange, err)
	}
	return ch, nil
}

// ensureChannel восстанавливает соединение или только канал.
// Брокер закрывает канал при channel-level исключении, соединение при этом живо.
// Вызывается под mu.
func (p *AMQPPublisher) ensureChannel() error {
	if p.conn == nil || p.conn.IsClosed() {
		return p.connect()
	}
	if p.channel != nil && !p.channel.IsClosed() {
		return nil
	}

	ch, err := p.openChannel(p.conn)
	if err != nil {
		return err
	}
	p.channel = ch
	p.logger.Warn("AMQP канал был закрыт брокером и открыт заново")
	return nil
}

// Publish сериализует событие в JSON и публикует его.
// При закрытом соединении или канале выполняется одна попытка восстановления.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         e.Type,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.channel.PublishWithContext(ctx, p.exchange, e.Type, false, false, msg); err != nil {
		return fmt.Errorf("публикация события %s: %w", e.Type, err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && !p.channel.IsClosed() {
		p.channel.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}
