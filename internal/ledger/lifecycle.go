package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

// Outcome reports what an order operation did. Applied lists the lifecycle effects
// that fired during the call; an empty list with a nil error is an idempotent skip.
type Outcome struct {
	Order   order.Order
	Applied []order.Trigger
	Result
}

// Fired reports whether trig was applied by the call.
func (o Outcome) Fired(trig order.Trigger) bool {
	for _, t := range o.Applied {
		if t == trig {
			return true
		}
	}
	return false
}

// orderRun loads and locks the order, lets fn mutate it and persists it, all in one
// store transaction.
func (e *Engine) orderRun(ctx context.Context, orderID int64, fn func(s *session, o *order.Order) ([]order.Trigger, error)) (Outcome, error) {
	var out Outcome
	res, err := e.run(ctx, func(s *session) error {
		o, err := s.tx.Order(s.ctx, orderID)
		if err != nil {
			return err
		}
		applied, err := fn(s, &o)
		if err != nil {
			return err
		}
		o.UpdatedAt = s.now
		if err := s.tx.UpdateOrder(s.ctx, o); err != nil {
			return fmt.Errorf("update order %d: %w", o.ID, err)
		}
		out = Outcome{Order: o, Applied: applied}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out.Result = res
	return out, nil
}

// CreateOrder registers a new order and applies its create effect. An order taken in
// as prepaid also gets its paid effect.
func (e *Engine) CreateOrder(ctx context.Context, o order.Order, actor int64) (Outcome, error) {
	if err := checkActor(actor); err != nil {
		return Outcome{}, err
	}
	if o.Status == "" {
		o.Status = order.StatusNew
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = order.PaymentUnpaid
	}
	if o.PaymentMethod == "" {
		o.PaymentMethod = order.PaymentMethodCash
	}
	if o.Status != order.StatusNew {
		return Outcome{}, fmt.Errorf("%w: new orders start as %s", ErrInvalidInput, order.StatusNew)
	}
	if o.PaymentStatus != order.PaymentUnpaid && o.PaymentStatus != order.PaymentPrepaid {
		return Outcome{}, fmt.Errorf("%w: new orders are unpaid or prepaid", ErrInvalidInput)
	}
	if err := o.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	o.Paid = money.Zero()
	o.Flags = order.Flags{}
	o.AccountingCashed = false
	o.CashedAt = nil
	o.CreatedBy = actor

	var out Outcome
	res, err := e.run(ctx, func(s *session) error {
		o.CreatedAt, o.UpdatedAt = s.now, s.now
		created, err := s.tx.InsertOrder(s.ctx, o)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		triggers := []order.Trigger{order.TriggerCreate}
		if created.PaymentStatus == order.PaymentPrepaid {
			triggers = append(triggers, order.TriggerPaid)
		}
		var applied []order.Trigger
		for _, trig := range triggers {
			ok, err := s.applyEffect(&created, trig, actor)
			if err != nil {
				return err
			}
			if ok {
				applied = append(applied, trig)
			}
		}
		if err := s.tx.UpdateOrder(s.ctx, created); err != nil {
			return fmt.Errorf("update order %d: %w", created.ID, err)
		}
		out = Outcome{Order: created, Applied: applied}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out.Result = res
	return out, nil
}

// StatusInput moves an order along its delivery status axis.
type StatusInput struct {
	OrderID      int64
	To           order.Status
	DriverID     int64
	ThirdPartyID int64
	Actor        int64
}

// AdvanceStatus validates the transition and applies the effect the new status fires.
func (e *Engine) AdvanceStatus(ctx context.Context, in StatusInput) (Outcome, error) {
	if err := checkActor(in.Actor); err != nil {
		return Outcome{}, err
	}
	return e.orderRun(ctx, in.OrderID, func(s *session, o *order.Order) ([]order.Trigger, error) {
		trig, fired, err := o.Advance(in.To, in.DriverID, in.ThirdPartyID)
		if err != nil {
			return nil, err
		}
		if !fired {
			return nil, nil
		}
		ok, err := s.applyEffect(o, trig, in.Actor)
		if err != nil || !ok {
			return nil, err
		}
		return []order.Trigger{trig}, nil
	})
}

// PaymentStatusInput moves an order along its payment status axis.
type PaymentStatusInput struct {
	OrderID int64
	To      order.PaymentStatus
	Actor   int64
}

// AdvancePayment validates the payment transition. Entering paid or prepaid applies the
// paid effect; entering refunded returns everything the client paid on the order and
// reverses its delivery charge.
func (e *Engine) AdvancePayment(ctx context.Context, in PaymentStatusInput) (Outcome, error) {
	if err := checkActor(in.Actor); err != nil {
		return Outcome{}, err
	}
	return e.orderRun(ctx, in.OrderID, func(s *session, o *order.Order) ([]order.Trigger, error) {
		trig, fired, err := o.SetPaymentStatus(in.To)
		if err != nil {
			return nil, err
		}
		if in.To == order.PaymentRefunded {
			return nil, s.refund(o, in.Actor)
		}
		if !fired {
			return nil, nil
		}
		ok, err := s.applyEffect(o, trig, in.Actor)
		if err != nil || !ok {
			return nil, err
		}
		return []order.Trigger{trig}, nil
	})
}

// ApplyOrderLifecycleEffect applies the effect for trig unless the order's flag says it
// already fired, in which case it is a no-op. The flag check and the effect share one
// store transaction.
func (e *Engine) ApplyOrderLifecycleEffect(ctx context.Context, orderID int64, trig order.Trigger, actor int64) (Outcome, error) {
	if !trig.IsValid() {
		return Outcome{}, fmt.Errorf("%w: trigger %q", ErrInvalidInput, trig)
	}
	if err := checkActor(actor); err != nil {
		return Outcome{}, err
	}
	return e.orderRun(ctx, orderID, func(s *session, o *order.Order) ([]order.Trigger, error) {
		ok, err := s.applyEffect(o, trig, actor)
		if err != nil || !ok {
			return nil, err
		}
		return []order.Trigger{trig}, nil
	})
}

// CashOut settles every party balance tied to the order against the pools and marks the
// order as cashed. A second call fails with ErrAlreadyCashedOut.
func (e *Engine) CashOut(ctx context.Context, orderID int64, actor int64) (Outcome, error) {
	if err := checkActor(actor); err != nil {
		return Outcome{}, err
	}
	return e.orderRun(ctx, orderID, func(s *session, o *order.Order) ([]order.Trigger, error) {
		if o.AccountingCashed {
			return nil, fmt.Errorf("%w: order %d", ErrAlreadyCashedOut, o.ID)
		}
		if !o.Settleable() {
			return nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotSettleable, o.ID, o.Status)
		}
		ok, err := s.applyEffect(o, order.TriggerHistory, actor)
		if err != nil {
			return nil, err
		}
		now := s.now
		o.AccountingCashed = true
		o.CashedAt = &now
		if ok {
			return []order.Trigger{order.TriggerHistory}, nil
		}
		return nil, nil
	})
}

// applyEffect posts the entries for trig and sets its flag. It returns false without
// writing when the flag is already set.
func (s *session) applyEffect(o *order.Order, trig order.Trigger, actor int64) (bool, error) {
	if o.Flags.Applied(trig) {
		return false, nil
	}
	var err error
	switch trig {
	case order.TriggerCreate:
		err = s.post(posting{
			legs:    []leg{{account: Client(o.ClientID), delta: o.DeliveryFee, kind: EntryOrderCharge}},
			orderID: o.ID,
			actor:   actor,
		})
	case order.TriggerDelivery:
		err = s.deliveryEffect(o, actor)
	case order.TriggerPaid:
		err = s.paidEffect(o, actor)
	case order.TriggerHistory:
		err = s.settle(o, actor)
	default:
		err = fmt.Errorf("%w: trigger %q", ErrInvalidInput, trig)
	}
	if err != nil {
		return false, err
	}
	o.Flags.Mark(trig)
	return true, nil
}

func (s *session) deliveryEffect(o *order.Order, actor int64) error {
	collect := o.Type == order.TypeCollect && !o.Total.IsZero()
	var (
		collector AccountRef
		legs      []leg
	)
	switch o.DeliveryMethod {
	case order.DeliveryInHouse:
		if o.DriverID <= 0 && (collect || !o.DriverFee.IsZero()) {
			return fmt.Errorf("%w: order %d has no driver", ErrUnknownAccount, o.ID)
		}
		collector = Driver(o.DriverID)
		legs = append(legs, leg{account: collector, delta: o.DriverFee, kind: EntryDriverFee})
	case order.DeliveryThirdParty:
		if o.ThirdPartyID <= 0 && (collect || !o.ThirdPartyFee.IsZero()) {
			return fmt.Errorf("%w: order %d has no third party", ErrUnknownAccount, o.ID)
		}
		collector = ThirdParty(o.ThirdPartyID)
		legs = append(legs, leg{account: collector, delta: o.ThirdPartyFee, kind: EntryThirdPartyPayable})
	default:
		return fmt.Errorf("%w: delivery method %q", ErrInvalidInput, o.DeliveryMethod)
	}
	if collect {
		legs = append(legs, pair(EntryOrderCollection, collector, o.Total.Neg(), Client(o.ClientID), o.Total.Neg())...)
	}
	return s.post(posting{legs: legs, orderID: o.ID, actor: actor})
}

func (s *session) paidEffect(o *order.Order, actor int64) error {
	due := o.Outstanding()
	if err := s.post(posting{
		legs:    pair(EntryClientPayment, Client(o.ClientID), due.Neg(), Pool(o.PaymentMethod), due),
		orderID: o.ID,
		actor:   actor,
	}); err != nil {
		return err
	}
	o.Paid = o.Paid.Add(due)
	return nil
}

// refund returns what the client paid on the order to the pool each payment went
// into, then reverses the charge still open on the client.
func (s *session) refund(o *order.Order, actor int64) error {
	entries, err := s.tx.OrderEntries(s.ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load order entries: %w", err)
	}
	client := Client(o.ClientID)
	paidIn := map[AccountRef]money.Amount{}
	charged := money.Zero()
	for _, en := range entries {
		switch {
		case en.Account.Type.IsPool() && en.Counterpart == client &&
			(en.Type == EntryClientPayment || en.Type == EntryClientRefund):
			accumulate(paidIn, en.Account, en.Amount)
		case en.Account == client && en.Type == EntryOrderCharge:
			charged = charged.Add(en.Amount)
		}
	}

	var legs []leg
	for _, pool := range []AccountRef{Cash, Wish} {
		back := paidIn[pool].Positive()
		legs = append(legs, pair(EntryClientRefund, client, back, pool, back.Neg())...)
	}
	legs = append(legs, leg{account: client, delta: charged.Positive().Neg(), kind: EntryOrderCharge})
	if err := s.post(posting{legs: legs, orderID: o.ID, description: "order refund", actor: actor}); err != nil {
		return err
	}
	o.Paid = money.Zero()
	return nil
}

func accumulate(m map[AccountRef]money.Amount, ref AccountRef, delta money.Amount) {
	cur, ok := m[ref]
	if !ok {
		cur = money.Zero()
	}
	m[ref] = cur.Add(delta)
}

// settlementTypes maps a party type to the entry types used when its order net is
// positive and negative.
var settlementTypes = map[AccountType][2]EntryType{
	AccountClient:     {EntryClientPayment, EntryClientPayout},
	AccountDriver:     {EntryDriverPayout, EntryDriverReturn},
	AccountThirdParty: {EntryThirdPartyPayout, EntryThirdPartyCollection},
}

// settle brings every party's net position on the order back to zero. Client money
// moves through the order's payment-method pool, carrier money through cash. A
// cancelled or returned order waives whatever the client still owes on it.
func (s *session) settle(o *order.Order, actor int64) error {
	entries, err := s.tx.OrderEntries(s.ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load order entries: %w", err)
	}
	net := map[AccountRef]money.Amount{}
	for _, en := range entries {
		if en.Account.Type.IsPool() {
			continue
		}
		accumulate(net, en.Account, en.Amount)
	}
	parties := make([]AccountRef, 0, len(net))
	for ref := range net {
		parties = append(parties, ref)
	}
	sort.Slice(parties, func(i, j int) bool { return parties[i].Less(parties[j]) })

	waive := o.Status == order.StatusCancelled || o.Status == order.StatusReturned
	var legs []leg
	for _, party := range parties {
		kinds := settlementTypes[party.Type]
		pool := Cash
		if party.Type == AccountClient {
			pool = Pool(o.PaymentMethod)
		}
		for i, part := range []money.Amount{net[party].Positive(), net[party].Negative()} {
			if part.IsZero() {
				continue
			}
			if i == 0 && waive && party.Type == AccountClient {
				legs = append(legs, leg{account: party, delta: part.Neg(), kind: EntryOrderCharge})
				continue
			}
			poolDelta := part.Neg()
			if party.Type.Receivable() {
				poolDelta = part
			}
			legs = append(legs, pair(kinds[i], party, part.Neg(), pool, poolDelta)...)
		}
	}
	return s.post(posting{legs: legs, orderID: o.ID, description: "order settlement", actor: actor})
}
