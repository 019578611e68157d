package repository

import "github.com/jackc/pgx/v5/pgxpool"

type Repository struct {
	KitchenRepo KitchenRepositoryInterface
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{
		KitchenRepo: NewKitchenRepository(pool, pool.Close),
	}
}
