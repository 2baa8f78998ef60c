// Package order holds the order record the ledger reads and partially writes back,
// and the two-axis lifecycle state machine (delivery status and payment status).
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/rapidroute/cashbox/internal/money"
)

// ErrInvalidTransition is returned when a status change is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid order transition")

// Order is the ledger-relevant view of a delivery order.
type Order struct {
	ID           int64
	Reference    string
	ClientID     int64
	DriverID     int64
	ThirdPartyID int64

	Type           Type
	DeliveryMethod DeliveryMethod
	Status         Status
	PaymentStatus  PaymentStatus
	PaymentMethod  PaymentMethod

	Total         money.Amount
	DeliveryFee   money.Amount
	DriverFee     money.Amount
	ThirdPartyFee money.Amount
	// Paid is what the client has paid against this order so far.
	Paid money.Amount

	Flags            Flags
	AccountingCashed bool
	CashedAt         *time.Time

	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the intake fields of a new order.
func (o Order) Validate() error {
	if o.ClientID <= 0 {
		return fmt.Errorf("client id is required")
	}
	if !o.Type.IsValid() {
		return fmt.Errorf("invalid order type %q", o.Type)
	}
	if !o.DeliveryMethod.IsValid() {
		return fmt.Errorf("invalid delivery method %q", o.DeliveryMethod)
	}
	if !o.PaymentMethod.IsValid() {
		return fmt.Errorf("invalid payment method %q", o.PaymentMethod)
	}
	fields := []struct {
		name string
		amt  money.Amount
	}{
		{"total", o.Total},
		{"delivery fee", o.DeliveryFee},
		{"driver fee", o.DriverFee},
		{"third party fee", o.ThirdPartyFee},
	}
	for _, f := range fields {
		if f.amt.AnyNegative() {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		if err := f.amt.CheckPrecision(); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

// Outstanding returns the part of the delivery fee the client has not yet paid,
// clamped at zero per currency.
func (o Order) Outstanding() money.Amount {
	return o.DeliveryFee.Sub(o.Paid).Positive()
}

// Settleable reports whether the order may be cashed out.
func (o Order) Settleable() bool {
	switch o.Status {
	case StatusDelivered, StatusCompleted, StatusCancelled, StatusReturned:
		return true
	}
	return false
}
