package service

import (
	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/connections/rabbitmq"
	"restaurant-system/internal/microservices/kitchen/repository"
)

type Service struct {
	KitchenService KitchenServiceInterface
}

func New(cfg Config, repo repository.Repository, dial rabbitmq.Dialer, lg *logger.Logger) *Service {
	return &Service{
		KitchenService: NewKitchenService(cfg, dial, repo.KitchenRepo, lg),
	}
}
