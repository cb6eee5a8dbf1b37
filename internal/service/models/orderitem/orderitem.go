package orderitem

import "time"

// OrderItem represents an item within an order. Items are owned by their
// order and are replaced as a whole set whenever the order is re-ingested.
type OrderItem struct {
	ID             int64     `json:"id"`
	OrderCode      int64     `json:"codigoPedido"`
	Product        string    `json:"produto"`
	Quantity       float64   `json:"quantidade"`
	PriceCents     int64     `json:"priceCents"`
	LineTotalCents int64     `json:"lineTotalCents"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
