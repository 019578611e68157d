package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
)

// ErrInvalidOrder is returned before anything is sent to the broker.
var ErrInvalidOrder = errors.New("invalid order")

// publishTimeout bounds the wait for the broker's confirm.
const publishTimeout = 5 * time.Second

// Publisher is implemented by *rabbitmq.Client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, messageID string, persistent bool) error
}

type OrderServiceInterface interface {
	PublishOrder(ctx context.Context, msg domain.OrderMessage) (string, error)
}

type OrderService struct {
	pub   Publisher
	queue string
	lg    *logger.Logger
}

func NewOrderService(pub Publisher, queue string, lg *logger.Logger) *OrderService {
	return &OrderService{pub: pub, queue: queue, lg: lg}
}

// PublishOrder sends msg to the queue through the default exchange as a
// persistent message and returns its message id once the broker confirmed it.
func (s *OrderService) PublishOrder(ctx context.Context, msg domain.OrderMessage) (string, error) {
	if err := validate(&msg); err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", errors.Wrap(err, "marshal order message")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id := uuid.NewString()
	headers := amqp.Table{"x-source": "order-publisher"}

	// default exchange: the routing key is the queue name
	if err := s.pub.Publish(ctx, "", s.queue, body, headers, id, true); err != nil {
		return "", errors.Wrapf(err, "publish order %s", msg.OrderID)
	}

	s.lg.Info("order_published", map[string]any{
		"order_id": msg.OrderID, "message_id": id, "queue": s.queue, "items": len(msg.Items),
	})
	return id, nil
}

// validate fills a missing total from the items and rejects what the API
// would never have accepted.
func validate(msg *domain.OrderMessage) error {
	var problems []string
	if strings.TrimSpace(msg.OrderID) == "" {
		problems = append(problems, "orderId is required")
	}

	sum := 0.0
	for i, it := range msg.Items {
		if it.Quantity <= 0 {
			problems = append(problems, "items["+strconv.Itoa(i)+"].quantity must be > 0")
		}
		if it.Price < 0 {
			problems = append(problems, "items["+strconv.Itoa(i)+"].price must be >= 0")
		}
		sum += float64(it.Quantity) * it.Price
	}
	if msg.Total < 0 {
		problems = append(problems, "total must be >= 0")
	}

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalidOrder, strings.Join(problems, "; "))
	}
	if msg.Total == 0 {
		msg.Total = sum
	}
	if msg.Items == nil {
		msg.Items = []domain.OrderItemMsg{}
	}
	return nil
}
