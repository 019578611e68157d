package order

import (
	"context"

	"github.com/go-faster/errors"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/config"
	"restaurant-system/internal/connections/rabbitmq"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/order/service"
)

// Publish sends one order message to the worker's queue and waits for the
// broker to confirm it.
func Publish(ctx context.Context, cfg *config.Config, lg *logger.Logger, msg domain.OrderMessage) error {
	client, err := rabbitmq.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		return err
	}
	if err := declareQueue(client, cfg.RabbitMQ.Queue); err != nil {
		return err
	}

	svc := service.New(client, cfg.RabbitMQ.Queue, lg)
	if _, err := svc.OrderService.PublishOrder(ctx, msg); err != nil {
		return err
	}
	return nil
}

// declareQueue mirrors the worker's declaration so a message published
// before the first worker starts is not dropped by the default exchange.
func declareQueue(client *rabbitmq.Client, queue string) error {
	if _, err := client.Channel().QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %s", queue)
	}
	return nil
}
