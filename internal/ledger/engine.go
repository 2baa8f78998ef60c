package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

// Options tunes engine policy.
type Options struct {
	// AllowOverdraft lets cash and wish go negative. When false, any posting that
	// lowers a pool currency below zero fails with ErrInsufficientFunds.
	AllowOverdraft bool
	// Now overrides the clock; defaults to time.Now in UTC.
	Now func() time.Time
}

// Engine applies every money movement through a Store.
type Engine struct {
	store Store
	opts  Options
}

// NewEngine builds an engine over the given store.
func NewEngine(store Store, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{store: store, opts: opts}
}

// Result is what a ledger operation wrote and the post-operation balances of every
// account it touched.
type Result struct {
	Entries  []Entry
	Balances []AccountBalance
}

// BalanceOf returns the post-operation balance of ref, if the operation touched it.
func (r Result) BalanceOf(ref AccountRef) (money.Amount, bool) {
	for _, b := range r.Balances {
		if b.Account == ref {
			return b.Balance, true
		}
	}
	return money.Amount{}, false
}

// leg is one side of a posting.
type leg struct {
	account     AccountRef
	counterpart AccountRef
	delta       money.Amount
	kind        EntryType
}

// pair builds the two legs of a movement: a receives deltaA and b receives deltaB.
func pair(kind EntryType, a AccountRef, deltaA money.Amount, b AccountRef, deltaB money.Amount) []leg {
	return []leg{
		{account: a, counterpart: b, delta: deltaA, kind: kind},
		{account: b, counterpart: a, delta: deltaB, kind: kind},
	}
}

// posting is a group of legs written together.
type posting struct {
	legs        []leg
	orderID     int64
	category    string
	subcategory string
	description string
	actor       int64
}

// session carries state across the postings of one store transaction.
type session struct {
	ctx     context.Context
	tx      Tx
	engine  *Engine
	now     time.Time
	cashbox *Cashbox
	entries []Entry
	touched []AccountBalance
}

func (s *session) loadCashbox() (*Cashbox, error) {
	if s.cashbox == nil {
		cb, err := s.tx.Cashbox(s.ctx)
		if err != nil {
			return nil, err
		}
		s.cashbox = &cb
	}
	return s.cashbox, nil
}

func (s *session) touch(ref AccountRef, bal money.Amount) {
	for i := range s.touched {
		if s.touched[i].Account == ref {
			s.touched[i].Balance = bal
			return
		}
	}
	s.touched = append(s.touched, AccountBalance{Account: ref, Balance: bal})
}

// post applies every non-zero leg then appends the entries. The overdraft check runs
// on each pool's net movement across the whole posting.
func (s *session) post(p posting) error {
	group := uuid.New()
	var (
		batch     []Entry
		poolNet   = map[AccountRef]money.Amount{}
		poolFinal = map[AccountRef]money.Amount{}
	)
	for _, l := range p.legs {
		if l.delta.IsZero() {
			continue
		}
		if err := l.account.Validate(); err != nil {
			return err
		}
		bal, err := s.tx.ApplyDelta(s.ctx, l.account, l.delta)
		if err != nil {
			return fmt.Errorf("apply delta to %s: %w", l.account, err)
		}
		if l.account.Type.IsPool() {
			net, ok := poolNet[l.account]
			if !ok {
				net = money.Zero()
			}
			poolNet[l.account] = net.Add(l.delta)
			poolFinal[l.account] = bal
		}
		s.touch(l.account, bal)
		batch = append(batch, Entry{
			ID:          uuid.New(),
			GroupID:     group,
			Type:        l.kind,
			Account:     l.account,
			Counterpart: l.counterpart,
			Amount:      l.delta,
			OrderID:     p.orderID,
			Category:    p.category,
			Subcategory: p.subcategory,
			Description: p.description,
			CreatedBy:   p.actor,
			CreatedAt:   s.now,
		})
	}
	if len(batch) == 0 {
		return nil
	}
	for _, pool := range []AccountRef{Cash, Wish} {
		net, ok := poolNet[pool]
		if !ok {
			continue
		}
		bal := poolFinal[pool]
		if !s.engine.opts.AllowOverdraft && overdrawn(bal, net) {
			return &InsufficientFundsError{Account: pool, Available: bal.Sub(net), Requested: net.Neg()}
		}
		cb, err := s.loadCashbox()
		if err != nil {
			return err
		}
		if pool == Cash {
			cb.Cash = bal
		} else {
			cb.Wish = bal
		}
	}
	written, err := s.tx.AppendEntries(s.ctx, batch)
	if err != nil {
		return fmt.Errorf("append entries: %w", err)
	}
	s.entries = append(s.entries, written...)
	return nil
}

// overdrawn reports whether a currency the delta lowered ended below zero.
func overdrawn(bal, delta money.Amount) bool {
	return (delta.USD.IsNegative() && bal.USD.IsNegative()) || (delta.LBP < 0 && bal.LBP < 0)
}

func (s *session) flush() error {
	if s.cashbox == nil {
		return nil
	}
	s.cashbox.UpdatedAt = s.now
	return s.tx.SaveCashbox(s.ctx, *s.cashbox)
}

func (s *session) result() Result {
	return Result{Entries: s.entries, Balances: s.touched}
}

// run executes fn in one store transaction.
func (e *Engine) run(ctx context.Context, fn func(s *session) error) (Result, error) {
	var res Result
	err := e.store.WithTx(ctx, func(tx Tx) error {
		s := &session{ctx: ctx, tx: tx, engine: e, now: e.opts.Now()}
		if err := fn(s); err != nil {
			return err
		}
		if err := s.flush(); err != nil {
			return fmt.Errorf("save cashbox: %w", err)
		}
		res = s.result()
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func checkAmount(a money.Amount, allowZero bool) error {
	if err := a.CheckPrecision(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if a.AnyNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, a)
	}
	if !allowZero && a.IsZero() {
		return fmt.Errorf("%w: amount is zero", ErrInvalidAmount)
	}
	return nil
}

func checkPool(t AccountType) (AccountRef, error) {
	if !t.IsPool() {
		return AccountRef{}, fmt.Errorf("%w: %q is not cash or wish", ErrUnknownAccount, t)
	}
	return AccountRef{Type: t}, nil
}

func checkActor(actor int64) error {
	if actor <= 0 {
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	return nil
}

// SetCapital records the cash account's capital. The first call adds it; later calls
// adjust cash by the difference to the new capital, writing nothing when unchanged.
func (e *Engine) SetCapital(ctx context.Context, amount money.Amount, actor int64) (Result, error) {
	if err := checkAmount(amount, true); err != nil {
		return Result{}, err
	}
	if err := checkActor(actor); err != nil {
		return Result{}, err
	}
	return e.run(ctx, func(s *session) error {
		cb, err := s.loadCashbox()
		if err != nil {
			return err
		}
		kind, delta := EntryCapitalAdd, amount
		if cb.CapitalSet {
			kind, delta = EntryCapitalEdit, amount.Sub(cb.Capital)
		}
		if err := s.post(posting{
			legs:        []leg{{account: Cash, delta: delta, kind: kind}},
			description: "capital",
			actor:       actor,
		}); err != nil {
			return err
		}
		cb.Capital = amount
		cb.CapitalSet = true
		return nil
	})
}

// IncomeInput describes money received outside the order flow.
type IncomeInput struct {
	Amount      money.Amount
	Account     AccountType
	Description string
	Actor       int64
}

// RecordIncome credits a pool account.
func (e *Engine) RecordIncome(ctx context.Context, in IncomeInput) (Result, error) {
	if err := checkAmount(in.Amount, false); err != nil {
		return Result{}, err
	}
	pool, err := checkPool(in.Account)
	if err != nil {
		return Result{}, err
	}
	if err := checkActor(in.Actor); err != nil {
		return Result{}, err
	}
	return e.run(ctx, func(s *session) error {
		return s.post(posting{
			legs:        []leg{{account: pool, delta: in.Amount, kind: EntryIncome}},
			description: in.Description,
			actor:       in.Actor,
		})
	})
}

// ExpenseInput describes money spent from a pool.
type ExpenseInput struct {
	Amount      money.Amount
	Account     AccountType
	Category    string
	Subcategory string
	Description string
	Actor       int64
}

// RecordExpense debits a pool account under an expense category.
func (e *Engine) RecordExpense(ctx context.Context, in ExpenseInput) (Result, error) {
	if err := checkAmount(in.Amount, false); err != nil {
		return Result{}, err
	}
	pool, err := checkPool(in.Account)
	if err != nil {
		return Result{}, err
	}
	if in.Category == "" {
		return Result{}, fmt.Errorf("%w: expense category is required", ErrInvalidInput)
	}
	if err := checkActor(in.Actor); err != nil {
		return Result{}, err
	}
	return e.run(ctx, func(s *session) error {
		return s.post(posting{
			legs:        []leg{{account: pool, delta: in.Amount.Neg(), kind: EntryExpense}},
			category:    in.Category,
			subcategory: in.Subcategory,
			description: in.Description,
			actor:       in.Actor,
		})
	})
}

// TransferInput moves money between the cash and wish pools.
type TransferInput struct {
	Amount      money.Amount
	From        AccountType
	To          AccountType
	Description string
	Actor       int64
}

// Transfer debits From and credits To as one posting.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (Result, error) {
	if err := checkAmount(in.Amount, false); err != nil {
		return Result{}, err
	}
	from, err := checkPool(in.From)
	if err != nil {
		return Result{}, err
	}
	to, err := checkPool(in.To)
	if err != nil {
		return Result{}, err
	}
	if from == to {
		return Result{}, ErrSameAccount
	}
	if err := checkActor(in.Actor); err != nil {
		return Result{}, err
	}
	return e.run(ctx, func(s *session) error {
		return s.post(posting{
			legs: []leg{
				{account: from, counterpart: to, delta: in.Amount.Neg(), kind: EntryTransferOut},
				{account: to, counterpart: from, delta: in.Amount, kind: EntryTransferIn},
			},
			description: in.Description,
			actor:       in.Actor,
		})
	})
}

// ClientPaymentInput records money received from a client, optionally against an order.
type ClientPaymentInput struct {
	OrderID  int64
	ClientID int64
	Amount   money.Amount
	Method   order.PaymentMethod
	Actor    int64
}

// RecordClientPayment lowers the client's receivable and credits the method's pool.
// When tied to an order it advances the order's payment status; reaching paid marks
// the paid effect as applied, since this payment is that effect.
func (e *Engine) RecordClientPayment(ctx context.Context, in ClientPaymentInput) (Result, error) {
	if err := checkAmount(in.Amount, false); err != nil {
		return Result{}, err
	}
	client := Client(in.ClientID)
	if err := client.Validate(); err != nil {
		return Result{}, err
	}
	if !in.Method.IsValid() {
		return Result{}, fmt.Errorf("%w: payment method %q", ErrUnknownAccount, in.Method)
	}
	if err := checkActor(in.Actor); err != nil {
		return Result{}, err
	}
	return e.run(ctx, func(s *session) error {
		var o order.Order
		if in.OrderID != 0 {
			var err error
			if o, err = s.tx.Order(s.ctx, in.OrderID); err != nil {
				return err
			}
			if o.ClientID != in.ClientID {
				return fmt.Errorf("%w: order %d", ErrClientMismatch, in.OrderID)
			}
		}
		if err := s.post(posting{
			legs:    pair(EntryClientPayment, client, in.Amount.Neg(), Pool(in.Method), in.Amount),
			orderID: in.OrderID,
			actor:   in.Actor,
		}); err != nil {
			return err
		}
		if in.OrderID == 0 {
			return nil
		}
		o.Paid = o.Paid.Add(in.Amount)
		if o.PaymentStatus == order.PaymentUnpaid || o.PaymentStatus == order.PaymentPartial {
			next := order.PaymentPartial
			if o.Outstanding().IsZero() {
				next = order.PaymentPaid
			}
			trig, fired, err := o.SetPaymentStatus(next)
			if err != nil {
				return err
			}
			if fired {
				o.Flags.Mark(trig)
			}
		}
		o.UpdatedAt = s.now
		return s.tx.UpdateOrder(s.ctx, o)
	})
}

// DriverKind selects the direction of a driver cash movement.
type DriverKind string

const (
	// DriverAdvance hands cash to the driver ahead of settlement.
	DriverAdvance DriverKind = "advance"
	// DriverReturn takes cash back from the driver.
	DriverReturn DriverKind = "return"
	// DriverPayout pays the driver what the company owes.
	DriverPayout DriverKind = "payout"
)

// DriverPayoutInput describes a cash movement between a pool and a driver.
type DriverPayoutInput struct {
	OrderID  int64
	DriverID int64
	Amount   money.Amount
	Kind     DriverKind
	Account  AccountType
	Actor    int64
}

// RecordDriverPayout moves cash between a pool and a driver. Advances and payouts
// take cash out and lower the driver balance; returns do the opposite.
func (e *Engine) RecordDriverPayout(ctx context.Context, in DriverPayoutInput) (Result, error) {
	if err := checkAmount(in.Amount, false); err != nil {
		return Result{}, err
	}
	driver := Driver(in.DriverID)
	if err := driver.Validate(); err != nil {
		return Result{}, err
	}
	if in.Account == "" {
		in.Account = AccountCash
	}
	pool, err := checkPool(in.Account)
	if err != nil {
		return Result{}, err
	}
	if err := checkActor(in.Actor); err != nil {
		return Result{}, err
	}
	var legs []leg
	switch in.Kind {
	case DriverAdvance:
		legs = pair(EntryDriverAdvance, driver, in.Amount.Neg(), pool, in.Amount.Neg())
	case DriverPayout:
		legs = pair(EntryDriverPayout, driver, in.Amount.Neg(), pool, in.Amount.Neg())
	case DriverReturn:
		legs = pair(EntryDriverReturn, driver, in.Amount, pool, in.Amount)
	default:
		return Result{}, fmt.Errorf("%w: driver movement kind %q", ErrInvalidInput, in.Kind)
	}
	return e.run(ctx, func(s *session) error {
		if in.OrderID != 0 {
			if _, err := s.tx.Order(s.ctx, in.OrderID); err != nil {
				return err
			}
		}
		return s.post(posting{legs: legs, orderID: in.OrderID, actor: in.Actor})
	})
}

// ThirdPartyPayableInput records an amount owed to a carrier.
type ThirdPartyPayableInput struct {
	OrderID      int64
	ThirdPartyID int64
	Amount       money.Amount
	Description  string
	Actor        int64
}

// RecordThirdPartyPayable raises the carrier's payable balance.
func (e *Engine) RecordThirdPartyPayable(ctx context.Context, in ThirdPartyPayableInput) (Result, error) {
	if err := checkAmount(in.Amount, false); err != nil {
		return Result{}, err
	}
	carrier := ThirdParty(in.ThirdPartyID)
	if err := carrier.Validate(); err != nil {
		return Result{}, err
	}
	if err := checkActor(in.Actor); err != nil {
		return Result{}, err
	}
	return e.run(ctx, func(s *session) error {
		if in.OrderID != 0 {
			if _, err := s.tx.Order(s.ctx, in.OrderID); err != nil {
				return err
			}
		}
		return s.post(posting{
			legs:        []leg{{account: carrier, delta: in.Amount, kind: EntryThirdPartyPayable}},
			orderID:     in.OrderID,
			description: in.Description,
			actor:       in.Actor,
		})
	})
}

// Balance returns the current balance of an account.
func (e *Engine) Balance(ctx context.Context, ref AccountRef) (money.Amount, error) {
	if err := ref.Validate(); err != nil {
		return money.Amount{}, err
	}
	return e.store.Balance(ctx, ref)
}

// Balances lists every account with its balance.
func (e *Engine) Balances(ctx context.Context) ([]AccountBalance, error) {
	return e.store.Balances(ctx)
}

// Cashbox returns the cached pool balances and capital record.
func (e *Engine) Cashbox(ctx context.Context) (Cashbox, error) {
	return e.store.Cashbox(ctx)
}

// Entries returns entry history matching filter in write order.
func (e *Engine) Entries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return e.store.Entries(ctx, filter)
}

// Order returns an order by id.
func (e *Engine) Order(ctx context.Context, id int64) (order.Order, error) {
	return e.store.Order(ctx, id)
}
