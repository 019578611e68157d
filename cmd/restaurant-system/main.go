package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/config"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/kitchen"
	"restaurant-system/internal/microservices/order"
)

func main() {
	mode := flag.String("mode", "kitchen-worker", "kitchen-worker | publish-order")
	cfgPath := flag.String("config", "", "optional YAML config file; environment variables override it")
	orderID := flag.String("order-id", "", "publish-order: order id (default: random uuid)")
	userID := flag.String("user-id", "", "publish-order: user id")
	addressID := flag.String("address-id", "", "publish-order: address id")
	productID := flag.String("product-id", "", "publish-order: product of the single item")
	quantity := flag.Int("quantity", 1, "publish-order: item quantity")
	price := flag.Float64("price", 0, "publish-order: item price")
	notes := flag.String("notes", "", "publish-order: order notes")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "kitchen-worker":
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fatal(logger.New("kitchen-worker"), err)
		}
		lg, err := logger.NewWithLevel("kitchen-worker", cfg.Log.Level)
		if err != nil {
			fatal(logger.New("kitchen-worker"), err)
		}
		defer lg.Sync()

		lg.Info("service_started", map[string]any{"queue": cfg.RabbitMQ.Queue})
		if err := kitchen.Run(ctx, cfg, lg); err != nil {
			fatal(lg, err)
		}
		lg.Info("service_stopped", nil)
	case "publish-order":
		cfg, err := config.Read(*cfgPath)
		if err == nil {
			err = cfg.ValidateBroker()
		}
		if err != nil {
			fatal(logger.New("order-publisher"), err)
		}
		lg, err := logger.NewWithLevel("order-publisher", cfg.Log.Level)
		if err != nil {
			fatal(logger.New("order-publisher"), err)
		}
		defer lg.Sync()

		msg := domain.OrderMessage{
			OrderID:   *orderID,
			UserID:    *userID,
			AddressID: *addressID,
		}
		if msg.OrderID == "" {
			msg.OrderID = uuid.NewString()
		}
		if *productID != "" {
			msg.Items = []domain.OrderItemMsg{{ProductID: *productID, Quantity: *quantity, Price: *price}}
		}
		if *notes != "" {
			msg.Notes = notes
		}
		if err := order.Publish(ctx, cfg, lg, msg); err != nil {
			fatal(lg, err)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode must be kitchen-worker or publish-order")
		os.Exit(2)
	}
}

func fatal(lg *logger.Logger, err error) {
	lg.Error("fatal", err, nil)
	lg.Sync()
	os.Exit(1)
}
