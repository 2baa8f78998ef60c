package order

import "fmt"

// Status tracks the delivery progress of an order.
type Status string

const (
	StatusNew       Status = "new"
	StatusAssigned  Status = "assigned"
	StatusPickedUp  Status = "picked_up"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

var validStatuses = []Status{
	StatusNew,
	StatusAssigned,
	StatusPickedUp,
	StatusInTransit,
	StatusDelivered,
	StatusCompleted,
	StatusCancelled,
	StatusReturned,
}

// IsValid reports whether the value is a known Status.
func (s Status) IsValid() bool {
	for _, candidate := range validStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStatus converts raw input into a Status.
func ParseStatus(value string) (Status, error) {
	for _, candidate := range validStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// PaymentStatus tracks how much of the order's charge the client has settled.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentPrepaid  PaymentStatus = "prepaid"
	PaymentRefunded PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentUnpaid,
	PaymentPartial,
	PaymentPaid,
	PaymentPrepaid,
	PaymentRefunded,
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// DeliveryMethod says who physically carries the order.
type DeliveryMethod string

const (
	DeliveryInHouse    DeliveryMethod = "in_house"
	DeliveryThirdParty DeliveryMethod = "third_party"
)

// IsValid reports whether the value is a known DeliveryMethod.
func (d DeliveryMethod) IsValid() bool {
	return d == DeliveryInHouse || d == DeliveryThirdParty
}

// Type distinguishes orders where the recipient pays the goods total on delivery
// from orders that only carry a delivery fee.
type Type string

const (
	TypeCollect      Type = "collect"
	TypeDeliveryOnly Type = "delivery_only"
)

// IsValid reports whether the value is a known Type.
func (t Type) IsValid() bool {
	return t == TypeCollect || t == TypeDeliveryOnly
}

// PaymentMethod names the money pool client payments for the order land in.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodWish PaymentMethod = "wish"
)

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCash || m == PaymentMethodWish
}
