package repository

import (
	"context"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"restaurant-system/internal/domain"
)

// ErrOrderNotFound is returned when no order row has the given id.
var ErrOrderNotFound = errors.New("order not found")

type KitchenRepositoryInterface interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
	Close()
}

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type KitchenRepository struct {
	db        Execer
	close     func()
	closeOnce sync.Once
}

// NewKitchenRepository wraps db; closeFn is called once by Close (pool.Close in production).
func NewKitchenRepository(db Execer, closeFn func()) *KitchenRepository {
	return &KitchenRepository{db: db, close: closeFn}
}

func (r *KitchenRepository) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	if !status.Valid() {
		return errors.Errorf("unknown order status %q", status)
	}

	if orderID == "" {
		return errors.Wrap(ErrOrderNotFound, "message carried no orderId")
	}

	query, args, err := updateStatusQuery(orderID, status)
	if err != nil {
		return errors.Wrap(err, "build update query")
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update order %s", orderID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrOrderNotFound, "update order %s", orderID)
	}
	return nil
}

func (r *KitchenRepository) Close() {
	r.closeOnce.Do(func() {
		if r.close != nil {
			r.close()
		}
	})
}

func updateStatusQuery(orderID string, status domain.OrderStatus) (string, []any, error) {
	return sq.Update("orders").
		Set("status", sq.Expr(`?::"OrderStatus"`, string(status))).
		Set(`"updatedAt"`, sq.Expr("NOW()")).
		Where(sq.Eq{"id": orderID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
}
