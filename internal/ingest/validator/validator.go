package validator

import (
	"fmt"

	"github.com/corray333/order-ingest/internal/ingest/coerce"
)

// Result is the outcome of validating a decoded order payload.
type Result struct {
	Valid  bool
	Errors []string
}

// maxQuantity bounds the item quantity magnitude. Together with the unit
// price bound it caps every line total well below the int64 cents range.
const maxQuantity = 1_000_000

// Validator checks decoded order payloads against the wire contract.
// It is a pure function over the payload: no I/O, never panics, and all
// rules are checked so a rejected message reports every defect at once.
type Validator struct {
	maxPrice float64
}

// New creates a Validator. maxPrice bounds the unit price magnitude so a
// coerced value cannot overflow the fixed-point storage column.
func New(maxPrice float64) *Validator {
	return &Validator{maxPrice: maxPrice}
}

// Validate checks a decoded JSON object. The payload must already be
// structurally valid JSON; malformed transport payloads are handled before
// validation is attempted.
func (v *Validator) Validate(raw map[string]any) Result {
	var errs []string

	if _, ok := coerce.Number(raw["codigoPedido"]); !ok {
		errs = append(errs, "codigoPedido must be a finite number")
	}

	if _, ok := coerce.Number(raw["codigoCliente"]); !ok {
		errs = append(errs, "codigoCliente must be a finite number")
	}

	items, ok := raw["itens"].([]any)
	if !ok || len(items) == 0 {
		errs = append(errs, "itens must be a non-empty array")
	}

	for i, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("itens[%d] must be an object", i))

			continue
		}

		errs = append(errs, v.validateItem(i, item)...)
	}

	return Result{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

func (v *Validator) validateItem(i int, item map[string]any) []string {
	var errs []string

	if _, ok := coerce.String(item["produto"]); !ok {
		errs = append(errs, fmt.Sprintf("itens[%d].produto must be a non-empty string", i))
	}

	qty, ok := coerce.Number(item["quantidade"])
	switch {
	case !ok || qty <= 0:
		errs = append(errs, fmt.Sprintf("itens[%d].quantidade must be a positive number", i))
	case qty > maxQuantity:
		errs = append(errs, fmt.Sprintf("itens[%d].quantidade exceeds maximum of %d", i, maxQuantity))
	}

	price, ok := coerce.Number(item["preco"])
	switch {
	case !ok || price <= 0:
		errs = append(errs, fmt.Sprintf("itens[%d].preco must be a positive number", i))
	case price > v.maxPrice:
		errs = append(errs, fmt.Sprintf("itens[%d].preco exceeds maximum of %.2f", i, v.maxPrice))
	}

	return errs
}
