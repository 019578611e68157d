package domain

// OrderStatus mirrors the "OrderStatus" enum of the orders table.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusPreparing  OrderStatus = "PREPARING"
	StatusReady      OrderStatus = "READY"
	StatusOnDelivery OrderStatus = "ON_DELIVERY"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusOnDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}
