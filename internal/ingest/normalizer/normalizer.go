package normalizer

import (
	"math"

	"github.com/corray333/order-ingest/internal/ingest/coerce"
	"github.com/corray333/order-ingest/internal/service/models/order"
	"github.com/corray333/order-ingest/internal/service/models/orderitem"
)

// Normalize converts a payload that already passed validation into its
// canonical form. Money is kept as integer cents. Each unit price is rounded
// half-up to 2 decimals, each line total is rounded half-up after
// multiplication, and the order total is the sum of the rounded line totals.
// Rounding per line before summing keeps the total exactly equal to the sum
// of the displayed line totals.
func Normalize(raw map[string]any) order.Order {
	orderCode, _ := coerce.Number(raw["codigoPedido"])
	customerCode, _ := coerce.Number(raw["codigoCliente"])
	rawItems, _ := raw["itens"].([]any)

	items := make([]orderitem.OrderItem, 0, len(rawItems))

	var totalCents int64
	for _, rawItem := range rawItems {
		item, _ := rawItem.(map[string]any)

		product, _ := coerce.String(item["produto"])
		quantity, _ := coerce.Number(item["quantidade"])
		price, _ := coerce.Number(item["preco"])

		priceCents := Cents(price)
		lineTotalCents := roundHalfUp(quantity * float64(priceCents))

		totalCents += lineTotalCents

		items = append(items, orderitem.OrderItem{
			OrderCode:      int64(orderCode),
			Product:        product,
			Quantity:       quantity,
			PriceCents:     priceCents,
			LineTotalCents: lineTotalCents,
		})
	}

	return order.Order{
		OrderCode:    int64(orderCode),
		CustomerCode: int64(customerCode),
		TotalCents:   totalCents,
		Items:        items,
	}
}

// Cents converts a monetary amount to integer cents, rounding half-up.
func Cents(amount float64) int64 {
	return roundHalfUp(amount * 100)
}

// roundHalfUp rounds to the nearest integer with ties going up. The small
// epsilon compensates for binary representation of decimal inputs: 29.995 is
// stored as 29.994999..., which must still round to 3000 cents.
func roundHalfUp(f float64) int64 {
	return int64(math.Floor(f + 0.5 + 1e-9))
}
