package order

// QueryOrdersModel represents filter parameters for querying orders.
type QueryOrdersModel struct {
	OrderCodes    []int64 `json:"orderCodes,omitempty"`
	CustomerCodes []int64 `json:"customerCodes,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	Offset        int     `json:"offset,omitempty"`
}
