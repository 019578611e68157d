package domain

import (
	"encoding/json"

	"github.com/go-faster/errors"
)

// OrderItemMsg is one line of an order as the API publishes it.
type OrderItemMsg struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderMessage is the body published to order_queue when an order is created.
// The worker does not decode it as a whole; it reads an OrderEnvelope.
type OrderMessage struct {
	OrderID   string         `json:"orderId"`
	UserID    string         `json:"userId"`
	AddressID string         `json:"addressId"`
	Items     []OrderItemMsg `json:"items"`
	Total     float64        `json:"total"`
	Notes     *string        `json:"notes,omitempty"`
}

// OrderEnvelope is what the worker reads from a message body. Only orderId is
// looked at; the other fields are kept raw and never type-checked.
type OrderEnvelope struct {
	OrderID string
	Fields  map[string]json.RawMessage
}

// ErrNotAnObject is returned for bodies that are not a JSON object.
var ErrNotAnObject = errors.New("message body is not a JSON object")

// DecodeOrderEnvelope fails only when body is not a JSON object. A string
// orderId is unquoted; any other orderId is returned as its JSON text and a
// missing one as "", so the database rejects it instead of the decoder.
func DecodeOrderEnvelope(body []byte) (OrderEnvelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return OrderEnvelope{}, errors.Wrap(ErrNotAnObject, err.Error())
	}
	if fields == nil {
		return OrderEnvelope{}, errors.Wrap(ErrNotAnObject, "null body")
	}

	env := OrderEnvelope{Fields: fields}
	raw, ok := fields["orderId"]
	if !ok {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env.OrderID); err != nil {
		env.OrderID = string(raw)
	}
	return env, nil
}

// ItemCount is the length of items when it is an array, else 0.
func (e OrderEnvelope) ItemCount() int {
	var items []json.RawMessage
	if err := json.Unmarshal(e.Fields["items"], &items); err != nil {
		return 0
	}
	return len(items)
}
