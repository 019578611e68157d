package rabbitmq

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrConnectionClosed is returned when an operation needs a live connection.
	ErrConnectionClosed = errors.New("rabbitmq connection is closed")
	// ErrPublishNacked is returned when the broker refused a published message.
	ErrPublishNacked = errors.New("publish NACK from broker")
)

// Client is a publishing connection with publisher confirms enabled.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation
	mu   sync.Mutex // Publish waits for its own confirm, so publishes are serialized
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// dial opens an AMQP connection. amqps URLs get TLS 1.2+.
func dial(url string) (*amqp.Connection, error) {
	if strings.HasPrefix(url, "amqps://") {
		return amqp.DialTLS(url, &tls.Config{MinVersion: tls.VersionTLS12})
	}
	return amqp.Dial(url)
}

// Dial opens a connection and a confirm-mode channel.
func Dial(url string) (*Client, error) {
	conn, err := dial(url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", MaskURL(url))
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "confirm mode")
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &Client{conn: conn, ch: ch, acks: acks}, nil
}

// Ping reports whether the connection is still open.
func (c *Client) Ping() error {
	if c.conn == nil || c.ch == nil || c.conn.IsClosed() {
		return ErrConnectionClosed
	}
	return nil
}

// Publish sends a message and waits for the broker's ack/nack.
func (c *Client) Publish(ctx context.Context, exchange, key string,
	body []byte, headers amqp.Table, messageID string, persistent bool) error {

	if err := c.Ping(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}

	if err := c.ch.PublishWithContext(
		ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: mode,
			ContentType:  "application/json",
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         body,
		},
	); err != nil {
		return err
	}

	return waitConfirm(ctx, c.acks)
}

// waitConfirm blocks until the broker confirms the last publish. A closed
// acks channel means the channel died before the confirm arrived.
func waitConfirm(ctx context.Context, acks <-chan amqp.Confirmation) error {
	select {
	case conf, ok := <-acks:
		if !ok {
			return ErrConnectionClosed
		}
		if !conf.Ack {
			return errors.Wrapf(ErrPublishNacked, "delivery tag %d", conf.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for publish confirm")
	}
}
