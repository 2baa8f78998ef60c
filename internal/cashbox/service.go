// Package cashbox is the application boundary over the ledger engine. It validates
// raw requests, de-duplicates retries, records metrics and logs every operation.
package cashbox

import (
	"context"
	"time"

	"github.com/rapidroute/cashbox/internal/idempotency"
	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/logging"
	"github.com/rapidroute/cashbox/internal/metrics"
	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/notification"
	"github.com/rapidroute/cashbox/internal/order"
	"github.com/rapidroute/cashbox/internal/report"
)

// Service runs cashbox commands and queries.
type Service struct {
	engine  *ledger.Engine
	reports *report.Service
	guard   *idempotency.Guard
	metrics *metrics.LedgerMetrics
	alerts  notification.Notifier
	log     *logging.Logger
}

// Deps wires a Service. Guard, Metrics and Notifier may be nil.
type Deps struct {
	Engine   *ledger.Engine
	Guard    *idempotency.Guard
	Metrics  *metrics.LedgerMetrics
	Notifier notification.Notifier
	Logger   *logging.Logger
}

func NewService(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		engine:  d.Engine,
		reports: report.NewService(d.Engine),
		guard:   d.Guard,
		metrics: d.Metrics,
		alerts:  d.Notifier,
		log:     log,
	}
}

// run validates req, then executes fn under the request's idempotency key.
func run[T any](ctx context.Context, s *Service, op string, meta Meta, req any, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	ctx = s.log.WithFields(ctx, map[string]any{"operation": op, "actor": meta.Actor})

	var (
		res      T
		replayed bool
		err      = validateRequest(req)
	)
	if err == nil {
		res, replayed, err = idempotency.Do(ctx, s.guard, op, meta.IdempotencyKey, fn)
	}

	desc := Describe(err)
	s.metrics.Observe(op, time.Since(start), string(desc.Code), err)
	if err != nil {
		if desc.Code == CodeInternal || desc.Code == CodeDependency {
			s.log.Error(ctx, "cashbox operation failed", err)
		} else {
			s.log.Warn(ctx, "cashbox operation rejected", err)
		}
		return res, err
	}
	if replayed {
		s.log.Info(s.log.WithField(ctx, "idempotency_key", meta.IdempotencyKey), "cashbox operation replayed")
		return res, nil
	}
	s.record(res)
	s.log.Info(ctx, "cashbox operation completed")
	return res, nil
}

func (s *Service) record(v any) {
	var res ledger.Result
	switch r := v.(type) {
	case ledger.Result:
		res = r
	case ledger.Outcome:
		res = r.Result
	default:
		return
	}
	counts := map[ledger.EntryType]int{}
	for _, e := range res.Entries {
		counts[e.Type]++
	}
	for t, n := range counts {
		s.metrics.AddEntries(string(t), n)
	}
	for _, b := range res.Balances {
		if !b.Account.Type.IsPool() {
			continue
		}
		s.metrics.SetPool(string(b.Account.Type), "usd", b.Balance.USD.InexactFloat64())
		s.metrics.SetPool(string(b.Account.Type), "lbp", float64(b.Balance.LBP))
	}
}

// SetCapital records the starting capital, or edits it by the difference.
func (s *Service) SetCapital(ctx context.Context, req SetCapitalRequest) (ledger.Result, error) {
	return run(ctx, s, "set_capital", req.Meta, req, func(ctx context.Context) (ledger.Result, error) {
		amount, err := req.Amount.parse()
		if err != nil {
			return ledger.Result{}, err
		}
		return s.engine.SetCapital(ctx, amount, req.Actor)
	})
}

func (s *Service) RecordIncome(ctx context.Context, req IncomeRequest) (ledger.Result, error) {
	return run(ctx, s, "record_income", req.Meta, req, func(ctx context.Context) (ledger.Result, error) {
		amount, err := req.Amount.parse()
		if err != nil {
			return ledger.Result{}, err
		}
		return s.engine.RecordIncome(ctx, ledger.IncomeInput{
			Amount:      amount,
			Account:     ledger.AccountType(req.Account),
			Description: req.Description,
			Actor:       req.Actor,
		})
	})
}

func (s *Service) RecordExpense(ctx context.Context, req ExpenseRequest) (ledger.Result, error) {
	return run(ctx, s, "record_expense", req.Meta, req, func(ctx context.Context) (ledger.Result, error) {
		amount, err := req.Amount.parse()
		if err != nil {
			return ledger.Result{}, err
		}
		return s.engine.RecordExpense(ctx, ledger.ExpenseInput{
			Amount:      amount,
			Account:     ledger.AccountType(req.Account),
			Category:    req.Category,
			Subcategory: req.Subcategory,
			Description: req.Description,
			Actor:       req.Actor,
		})
	})
}

func (s *Service) Transfer(ctx context.Context, req TransferRequest) (ledger.Result, error) {
	return run(ctx, s, "transfer", req.Meta, req, func(ctx context.Context) (ledger.Result, error) {
		amount, err := req.Amount.parse()
		if err != nil {
			return ledger.Result{}, err
		}
		return s.engine.Transfer(ctx, ledger.TransferInput{
			Amount:      amount,
			From:        ledger.AccountType(req.From),
			To:          ledger.AccountType(req.To),
			Description: req.Description,
			Actor:       req.Actor,
		})
	})
}

func (s *Service) RecordClientPayment(ctx context.Context, req ClientPaymentRequest) (ledger.Result, error) {
	return run(ctx, s, "record_client_payment", req.Meta, req, func(ctx context.Context) (ledger.Result, error) {
		amount, err := req.Amount.parse()
		if err != nil {
			return ledger.Result{}, err
		}
		return s.engine.RecordClientPayment(ctx, ledger.ClientPaymentInput{
			OrderID:  req.OrderID,
			ClientID: req.ClientID,
			Amount:   amount,
			Method:   order.PaymentMethod(req.Method),
			Actor:    req.Actor,
		})
	})
}

// RecordDriverMovement hands cash to, takes it back from, or pays out a driver.
func (s *Service) RecordDriverMovement(ctx context.Context, req DriverMovementRequest) (ledger.Result, error) {
	return run(ctx, s, "record_driver_movement", req.Meta, req, func(ctx context.Context) (ledger.Result, error) {
		amount, err := req.Amount.parse()
		if err != nil {
			return ledger.Result{}, err
		}
		return s.engine.RecordDriverPayout(ctx, ledger.DriverPayoutInput{
			OrderID:  req.OrderID,
			DriverID: req.DriverID,
			Amount:   amount,
			Kind:     ledger.DriverKind(req.Kind),
			Account:  ledger.AccountType(req.Account),
			Actor:    req.Actor,
		})
	})
}

func (s *Service) RecordThirdPartyPayable(ctx context.Context, req ThirdPartyPayableRequest) (ledger.Result, error) {
	return run(ctx, s, "record_third_party_payable", req.Meta, req, func(ctx context.Context) (ledger.Result, error) {
		amount, err := req.Amount.parse()
		if err != nil {
			return ledger.Result{}, err
		}
		return s.engine.RecordThirdPartyPayable(ctx, ledger.ThirdPartyPayableInput{
			OrderID:      req.OrderID,
			ThirdPartyID: req.ThirdPartyID,
			Amount:       amount,
			Description:  req.Description,
			Actor:        req.Actor,
		})
	})
}

func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (ledger.Outcome, error) {
	return run(ctx, s, "create_order", req.Meta, req, func(ctx context.Context) (ledger.Outcome, error) {
		var o order.Order
		for _, f := range []struct {
			in  Money
			out *money.Amount
		}{
			{req.Total, &o.Total},
			{req.DeliveryFee, &o.DeliveryFee},
			{req.DriverFee, &o.DriverFee},
			{req.ThirdPartyFee, &o.ThirdPartyFee},
		} {
			v, err := f.in.parse()
			if err != nil {
				return ledger.Outcome{}, err
			}
			*f.out = v
		}
		o.Reference = req.Reference
		o.ClientID = req.ClientID
		o.DriverID = req.DriverID
		o.ThirdPartyID = req.ThirdPartyID
		o.Type = order.Type(req.Type)
		o.DeliveryMethod = order.DeliveryMethod(req.DeliveryMethod)
		o.PaymentMethod = order.PaymentMethod(req.PaymentMethod)
		o.PaymentStatus = order.PaymentStatus(req.PaymentStatus)
		return s.engine.CreateOrder(ctx, o, req.Actor)
	})
}

func (s *Service) AdvanceStatus(ctx context.Context, req StatusRequest) (ledger.Outcome, error) {
	return run(ctx, s, "advance_status", req.Meta, req, func(ctx context.Context) (ledger.Outcome, error) {
		return s.engine.AdvanceStatus(ctx, ledger.StatusInput{
			OrderID:      req.OrderID,
			To:           order.Status(req.To),
			DriverID:     req.DriverID,
			ThirdPartyID: req.ThirdPartyID,
			Actor:        req.Actor,
		})
	})
}

func (s *Service) AdvancePayment(ctx context.Context, req PaymentStatusRequest) (ledger.Outcome, error) {
	return run(ctx, s, "advance_payment", req.Meta, req, func(ctx context.Context) (ledger.Outcome, error) {
		return s.engine.AdvancePayment(ctx, ledger.PaymentStatusInput{
			OrderID: req.OrderID,
			To:      order.PaymentStatus(req.To),
			Actor:   req.Actor,
		})
	})
}

// ApplyLifecycleEffect applies one order effect; a repeat is a no-op.
func (s *Service) ApplyLifecycleEffect(ctx context.Context, req LifecycleRequest) (ledger.Outcome, error) {
	return run(ctx, s, "apply_lifecycle_effect", req.Meta, req, func(ctx context.Context) (ledger.Outcome, error) {
		return s.engine.ApplyOrderLifecycleEffect(ctx, req.OrderID, order.Trigger(req.Trigger), req.Actor)
	})
}

func (s *Service) CashOut(ctx context.Context, req CashOutRequest) (ledger.Outcome, error) {
	return run(ctx, s, "cash_out", req.Meta, req, func(ctx context.Context) (ledger.Outcome, error) {
		return s.engine.CashOut(ctx, req.OrderID, req.Actor)
	})
}
