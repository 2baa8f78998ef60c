package ledger

import (
	"errors"
	"fmt"

	"github.com/rapidroute/cashbox/internal/money"
)

var (
	// ErrInvalidAmount covers negative, zero-where-forbidden and malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput covers missing or malformed non-monetary fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds occurs when a posting would drive a pool account negative
	// while overdraft is disabled.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameAccount rejects a transfer whose source and destination match.
	ErrSameAccount = errors.New("source and destination account are the same")

	// ErrUnknownAccount rejects account refs that do not name a valid account.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrAlreadyCashedOut rejects a second cash-out of the same order.
	ErrAlreadyCashedOut = errors.New("order already cashed out")

	// ErrOrderNotFound is returned when a referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrClientMismatch rejects a client payment against another client's order.
	ErrClientMismatch = errors.New("order belongs to a different client")

	// ErrOrderNotSettleable rejects cash-out of an order still in flight.
	ErrOrderNotSettleable = errors.New("order cannot be cashed out in its current status")
)

// InsufficientFundsError details a rejected pool debit.
type InsufficientFundsError struct {
	Account   AccountRef
	Available money.Amount
	Requested money.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %s, requested %s",
		e.Account, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
