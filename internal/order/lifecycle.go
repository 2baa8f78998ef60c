package order

import "fmt"

// Trigger names a lifecycle point at which ledger effects are applied.
type Trigger string

const (
	TriggerCreate   Trigger = "create"
	TriggerDelivery Trigger = "delivery"
	TriggerPaid     Trigger = "paid"
	TriggerHistory  Trigger = "history"
)

// IsValid reports whether the value is a known Trigger.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerCreate, TriggerDelivery, TriggerPaid, TriggerHistory:
		return true
	}
	return false
}

// Flags record which lifecycle effects have already been applied to an order.
// A flag is never cleared once set.
type Flags struct {
	AppliedOnCreate   bool
	AppliedOnDelivery bool
	AppliedOnPaid     bool
	HistoryMoved      bool
}

// Applied reports whether the effect for t has already fired.
func (f Flags) Applied(t Trigger) bool {
	switch t {
	case TriggerCreate:
		return f.AppliedOnCreate
	case TriggerDelivery:
		return f.AppliedOnDelivery
	case TriggerPaid:
		return f.AppliedOnPaid
	case TriggerHistory:
		return f.HistoryMoved
	}
	return false
}

// Mark sets the flag for t.
func (f *Flags) Mark(t Trigger) {
	switch t {
	case TriggerCreate:
		f.AppliedOnCreate = true
	case TriggerDelivery:
		f.AppliedOnDelivery = true
	case TriggerPaid:
		f.AppliedOnPaid = true
	case TriggerHistory:
		f.HistoryMoved = true
	}
}

var statusFlow = map[Status]Status{
	StatusNew:       StatusAssigned,
	StatusAssigned:  StatusPickedUp,
	StatusPickedUp:  StatusInTransit,
	StatusInTransit: StatusDelivered,
	StatusDelivered: StatusCompleted,
}

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusReturned
}

// CanTransitionTo reports whether moving from s to next is allowed. Orders advance one
// step at a time and may be cancelled or returned from any non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() || !next.IsValid() {
		return false
	}
	if next == StatusCancelled || next == StatusReturned {
		return true
	}
	return statusFlow[s] == next
}

// Trigger returns the lifecycle trigger fired by entering s, if any.
func (s Status) Trigger() (Trigger, bool) {
	switch s {
	case StatusDelivered:
		return TriggerDelivery, true
	case StatusCompleted:
		return TriggerHistory, true
	}
	return "", false
}

var paymentFlow = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid:  {PaymentPartial, PaymentPaid, PaymentPrepaid},
	PaymentPartial: {PaymentPartial, PaymentPaid, PaymentRefunded},
	PaymentPaid:    {PaymentRefunded},
	PaymentPrepaid: {PaymentRefunded},
}

// CanTransitionTo reports whether moving from p to next is allowed. Partial may repeat
// while further part-payments arrive.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, candidate := range paymentFlow[p] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Trigger returns the lifecycle trigger fired by entering p, if any.
func (p PaymentStatus) Trigger() (Trigger, bool) {
	if p == PaymentPaid || p == PaymentPrepaid {
		return TriggerPaid, true
	}
	return "", false
}

// Advance moves the order to status next, assigning the given carrier when one is
// supplied. It reports the trigger the new status fires.
func (o *Order) Advance(next Status, driverID, thirdPartyID int64) (Trigger, bool, error) {
	if !o.Status.CanTransitionTo(next) {
		return "", false, fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	if driverID > 0 {
		o.DriverID = driverID
	}
	if thirdPartyID > 0 {
		o.ThirdPartyID = thirdPartyID
	}
	o.Status = next
	trig, ok := next.Trigger()
	return trig, ok, nil
}

// SetPaymentStatus moves the order's payment status to next and reports the trigger fired.
func (o *Order) SetPaymentStatus(next PaymentStatus) (Trigger, bool, error) {
	if !o.PaymentStatus.CanTransitionTo(next) {
		return "", false, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, o.PaymentStatus, next)
	}
	o.PaymentStatus = next
	trig, ok := next.Trigger()
	return trig, ok, nil
}
