package domain

// OrderStatus enumerates lifecycle states shared by orders and commissions.
type OrderStatus string

const (
	OrderStatusOpen       OrderStatus = "open"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusComplete   OrderStatus = "complete"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderStatusTransitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderStatusOpen: {
		OrderStatusInProgress: {},
		OrderStatusCancelled:  {},
	},
	OrderStatusInProgress: {
		OrderStatusInProgress: {},
		OrderStatusComplete:   {},
		OrderStatusCancelled:  {},
	},
}

// Valid reports whether the status is one of the known values.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusOpen, OrderStatusInProgress, OrderStatusComplete, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusComplete || s == OrderStatusCancelled
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	next, ok := orderStatusTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
