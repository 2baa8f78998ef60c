// Package ledger is the single mutation point for money movement in the cashbox.
// Every operation runs inside one store transaction that updates account balances,
// appends immutable entries and keeps the cashbox cache in step.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

// AccountType names a class of balance holder.
type AccountType string

const (
	AccountCash       AccountType = "cash"
	AccountWish       AccountType = "wish"
	AccountClient     AccountType = "client"
	AccountDriver     AccountType = "driver"
	AccountThirdParty AccountType = "third_party"
)

// IsValid reports whether the value is a known AccountType.
func (t AccountType) IsValid() bool {
	switch t {
	case AccountCash, AccountWish, AccountClient, AccountDriver, AccountThirdParty:
		return true
	}
	return false
}

// IsPool reports whether the account is one of the company's own money pools.
func (t AccountType) IsPool() bool { return t == AccountCash || t == AccountWish }

// Receivable reports whether a positive balance means the holder owes the company.
// Driver and third-party balances are payables: positive means the company owes them.
func (t AccountType) Receivable() bool { return t == AccountClient }

// AccountRef identifies one account. Pools use ID 0.
type AccountRef struct {
	Type AccountType `json:"type"`
	ID   int64       `json:"id"`
}

var (
	Cash = AccountRef{Type: AccountCash}
	Wish = AccountRef{Type: AccountWish}
)

func Client(id int64) AccountRef     { return AccountRef{Type: AccountClient, ID: id} }
func Driver(id int64) AccountRef     { return AccountRef{Type: AccountDriver, ID: id} }
func ThirdParty(id int64) AccountRef { return AccountRef{Type: AccountThirdParty, ID: id} }

// Pool returns the pool account for a payment method.
func Pool(m order.PaymentMethod) AccountRef {
	if m == order.PaymentMethodWish {
		return Wish
	}
	return Cash
}

// IsZero reports whether the ref is unset.
func (r AccountRef) IsZero() bool { return r.Type == "" }

// Validate checks the type and the id shape for that type.
func (r AccountRef) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: type %q", ErrUnknownAccount, r.Type)
	}
	if r.Type.IsPool() && r.ID != 0 {
		return fmt.Errorf("%w: %s takes no id", ErrUnknownAccount, r.Type)
	}
	if !r.Type.IsPool() && r.ID <= 0 {
		return fmt.Errorf("%w: %s requires an id", ErrUnknownAccount, r.Type)
	}
	return nil
}

func (r AccountRef) String() string {
	if r.Type.IsPool() {
		return string(r.Type)
	}
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Less orders refs by type then id.
func (r AccountRef) Less(o AccountRef) bool {
	if r.Type != o.Type {
		return r.Type < o.Type
	}
	return r.ID < o.ID
}

// EntryType is the canonical ledger entry taxonomy.
type EntryType string

const (
	EntryCapitalAdd           EntryType = "capital_add"
	EntryCapitalEdit          EntryType = "capital_edit"
	EntryIncome               EntryType = "income"
	EntryExpense              EntryType = "expense"
	EntryTransferOut          EntryType = "transfer_out"
	EntryTransferIn           EntryType = "transfer_in"
	EntryClientPayment        EntryType = "client_payment"
	EntryClientPayout         EntryType = "client_payout"
	EntryClientRefund         EntryType = "client_refund"
	EntryDriverAdvance        EntryType = "driver_advance"
	EntryDriverReturn         EntryType = "driver_return"
	EntryDriverPayout         EntryType = "driver_payout"
	EntryDriverFee            EntryType = "driver_fee"
	EntryThirdPartyPayable    EntryType = "third_party_payable"
	EntryThirdPartyPayout     EntryType = "third_party_payout"
	EntryThirdPartyCollection EntryType = "third_party_collection"
	EntryOrderCharge          EntryType = "order_charge"
	EntryOrderCollection      EntryType = "order_collection"
)

var validEntryTypes = []EntryType{
	EntryCapitalAdd,
	EntryCapitalEdit,
	EntryIncome,
	EntryExpense,
	EntryTransferOut,
	EntryTransferIn,
	EntryClientPayment,
	EntryClientPayout,
	EntryClientRefund,
	EntryDriverAdvance,
	EntryDriverReturn,
	EntryDriverPayout,
	EntryDriverFee,
	EntryThirdPartyPayable,
	EntryThirdPartyPayout,
	EntryThirdPartyCollection,
	EntryOrderCharge,
	EntryOrderCollection,
}

// IsValid reports whether the value is a canonical EntryType.
func (t EntryType) IsValid() bool {
	for _, candidate := range validEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseEntryType converts raw input into an EntryType.
func ParseEntryType(value string) (EntryType, error) {
	for _, candidate := range validEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entry type %q", value)
}

// Entry is one immutable balance change on one account. Entries written by the same
// operation share a GroupID; Counterpart names the other side of the posting.
type Entry struct {
	ID          uuid.UUID
	Seq         int64
	GroupID     uuid.UUID
	Type        EntryType
	Account     AccountRef
	Counterpart AccountRef
	Amount      money.Amount
	OrderID     int64
	Category    string
	Subcategory string
	Description string
	CreatedBy   int64
	CreatedAt   time.Time
}

// Party returns the non-pool account the entry concerns, if any.
func (e Entry) Party() (AccountRef, bool) {
	if !e.Account.Type.IsPool() {
		return e.Account, true
	}
	if !e.Counterpart.IsZero() && !e.Counterpart.Type.IsPool() {
		return e.Counterpart, true
	}
	return AccountRef{}, false
}

// AccountBalance pairs an account with its balance.
type AccountBalance struct {
	Account AccountRef   `json:"account"`
	Balance money.Amount `json:"balance"`
}

// Cashbox is the denormalized cache of the pool balances plus the capital record.
type Cashbox struct {
	Cash       money.Amount
	Wish       money.Amount
	Capital    money.Amount
	CapitalSet bool
	UpdatedAt  time.Time
}

// EntryFilter narrows entry queries. Zero fields match everything; From is
// inclusive and To exclusive.
type EntryFilter struct {
	Account     *AccountRef
	AccountType AccountType
	OrderID     int64
	CreatedBy   int64
	Types       []EntryType
	From        time.Time
	To          time.Time
}

// Match reports whether e passes the filter.
func (f EntryFilter) Match(e Entry) bool {
	if f.Account != nil && e.Account != *f.Account {
		return false
	}
	if f.AccountType != "" && e.Account.Type != f.AccountType {
		return false
	}
	if f.OrderID != 0 && e.OrderID != f.OrderID {
		return false
	}
	if f.CreatedBy != 0 && e.CreatedBy != f.CreatedBy {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	if len(f.Types) > 0 {
		for _, t := range f.Types {
			if t == e.Type {
				return true
			}
		}
		return false
	}
	return true
}

// Tx is the view of the store inside one atomic transaction. Only the Engine
// obtains one, through Store.WithTx.
type Tx interface {
	// ApplyDelta adds delta to the account, creating it at zero if needed, and
	// returns the new balance. The account stays locked until the transaction ends.
	ApplyDelta(ctx context.Context, ref AccountRef, delta money.Amount) (money.Amount, error)
	// AppendEntries persists entries in order, assigning Seq.
	AppendEntries(ctx context.Context, entries []Entry) ([]Entry, error)

	Cashbox(ctx context.Context) (Cashbox, error)
	SaveCashbox(ctx context.Context, cb Cashbox) error

	// Order loads and locks an order; ErrOrderNotFound when missing.
	Order(ctx context.Context, id int64) (order.Order, error)
	InsertOrder(ctx context.Context, o order.Order) (order.Order, error)
	UpdateOrder(ctx context.Context, o order.Order) error
	OrderEntries(ctx context.Context, orderID int64) ([]Entry, error)
}

// Store persists accounts, entries, the cashbox row and orders.
type Store interface {
	// WithTx runs fn atomically: on error nothing fn wrote survives.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Balance(ctx context.Context, ref AccountRef) (money.Amount, error)
	Balances(ctx context.Context) ([]AccountBalance, error)
	Cashbox(ctx context.Context) (Cashbox, error)
	Entries(ctx context.Context, filter EntryFilter) ([]Entry, error)
	Order(ctx context.Context, id int64) (order.Order, error)
}
