package kitchen

import (
	"context"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/config"
	"restaurant-system/internal/connections/database"
	"restaurant-system/internal/connections/rabbitmq"
	"restaurant-system/internal/microservices/kitchen/repository"
	"restaurant-system/internal/microservices/kitchen/service"
)

// Run starts the worker and blocks until ctx is cancelled, then shuts it
// down. Broker outages are retried inside the worker and never end Run.
func Run(ctx context.Context, cfg *config.Config, lg *logger.Logger) error {
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		if ctx.Err() != nil {
			// signalled while the database was still coming up
			lg.Info("startup_interrupted", map[string]any{"stage": "db_connect"})
			return nil
		}
		return err
	}
	lg.Info("db_connected", map[string]any{"max_conns": cfg.Database.MaxConns})

	repo := repository.New(pool)
	svc := service.New(service.Config{
		URL:             cfg.RabbitMQ.URL,
		Queue:           cfg.RabbitMQ.Queue,
		ReconnectDelay:  cfg.RabbitMQ.ReconnectDelay,
		PrepareDuration: cfg.Worker.PrepareDuration,
	}, *repo, rabbitmq.DialConsumer, lg)

	// Shutdown owns the teardown order; ctx only tells us when to call it.
	go func() {
		_ = svc.KitchenService.Run(context.WithoutCancel(ctx))
	}()

	<-ctx.Done()
	svc.KitchenService.Shutdown()
	return nil
}
