package rabbitmq

import amqp "github.com/rabbitmq/amqp091-go"

// Connection is the part of *amqp.Connection a consumer needs.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// Channel is the part of *amqp.Channel a consumer needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a consumer connection.
type Dialer func(url string) (Connection, error)

// DialConsumer is the production Dialer.
func DialConsumer(url string) (Connection, error) {
	conn, err := dial(url)
	if err != nil {
		return nil, err
	}
	return connection{Connection: conn}, nil
}

type connection struct {
	*amqp.Connection
}

func (c connection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}
