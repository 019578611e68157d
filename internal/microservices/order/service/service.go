package service

import "restaurant-system/internal/common/logger"

type Service struct {
	OrderService OrderServiceInterface
}

func New(pub Publisher, queue string, lg *logger.Logger) *Service {
	return &Service{
		OrderService: NewOrderService(pub, queue, lg),
	}
}
