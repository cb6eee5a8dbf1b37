package orderitem

// QueryOrderItemsModel represents filter parameters for querying order items.
type QueryOrderItemsModel struct {
	OrderCodes []int64 `json:"orderCodes,omitempty"`
}
