package cashbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
	"github.com/rapidroute/cashbox/internal/report"
)

func query[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	res, err := fn()
	desc := Describe(err)
	s.metrics.Observe(op, time.Since(start), string(desc.Code), err)
	if err != nil && (desc.Code == CodeInternal || desc.Code == CodeDependency) {
		s.log.Error(s.log.WithField(ctx, "operation", op), "cashbox query failed", err)
	}
	return res, err
}

func (s *Service) Balance(ctx context.Context, accountType string, id int64) (money.Amount, error) {
	return query(ctx, s, "balance", func() (money.Amount, error) {
		return s.engine.Balance(ctx, ledger.AccountRef{Type: ledger.AccountType(accountType), ID: id})
	})
}

func (s *Service) Balances(ctx context.Context) ([]ledger.AccountBalance, error) {
	return query(ctx, s, "balances", func() ([]ledger.AccountBalance, error) {
		return s.engine.Balances(ctx)
	})
}

func (s *Service) Cashbox(ctx context.Context) (ledger.Cashbox, error) {
	return query(ctx, s, "cashbox", func() (ledger.Cashbox, error) {
		return s.engine.Cashbox(ctx)
	})
}

func (s *Service) Order(ctx context.Context, id int64) (order.Order, error) {
	return query(ctx, s, "order", func() (order.Order, error) {
		return s.engine.Order(ctx, id)
	})
}

// Entries lists the entries matching q in sequence order.
func (s *Service) Entries(ctx context.Context, q EntriesQuery) ([]ledger.Entry, error) {
	return query(ctx, s, "entries", func() ([]ledger.Entry, error) {
		filter, err := q.filter()
		if err != nil {
			return nil, err
		}
		return s.engine.Entries(ctx, filter)
	})
}

// Summary aggregates the entries matching q.
func (s *Service) Summary(ctx context.Context, q EntriesQuery) (report.Summary, error) {
	return query(ctx, s, "summary", func() (report.Summary, error) {
		filter, err := q.filter()
		if err != nil {
			return report.Summary{}, err
		}
		return s.reports.Summary(ctx, filter)
	})
}

func (s *Service) Sheet(ctx context.Context) (report.Sheet, error) {
	return query(ctx, s, "sheet", func() (report.Sheet, error) {
		return s.reports.Sheet(ctx)
	})
}

// Reconcile checks stored balances and the cashbox cache against the entry log.
func (s *Service) Reconcile(ctx context.Context) (report.Check, error) {
	check, err := query(ctx, s, "reconcile", func() (report.Check, error) {
		return s.reports.Reconcile(ctx)
	})
	if err == nil && !check.OK() {
		s.log.Warn(s.log.WithField(ctx, "mismatches", check.Mismatches), "ledger reconciliation found mismatches", nil)
	}
	return check, err
}

func (q EntriesQuery) filter() (ledger.EntryFilter, error) {
	if err := validateRequest(q); err != nil {
		return ledger.EntryFilter{}, err
	}
	f := ledger.EntryFilter{
		OrderID:   q.OrderID,
		CreatedBy: q.CreatedBy,
	}
	if q.AccountType != "" {
		t := ledger.AccountType(q.AccountType)
		if q.AccountID != 0 || t.IsPool() {
			ref := ledger.AccountRef{Type: t, ID: q.AccountID}
			if err := ref.Validate(); err != nil {
				return ledger.EntryFilter{}, err
			}
			f.Account = &ref
		} else {
			f.AccountType = t
		}
	}
	for _, raw := range q.Types {
		t, err := ledger.ParseEntryType(raw)
		if err != nil {
			return ledger.EntryFilter{}, fmt.Errorf("%w: %v", ledger.ErrInvalidInput, err)
		}
		f.Types = append(f.Types, t)
	}
	var err error
	if f.From, err = parseTime(q.From); err != nil {
		return ledger.EntryFilter{}, err
	}
	if f.To, err = parseTime(q.To); err != nil {
		return ledger.EntryFilter{}, err
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ledger.ErrInvalidInput, v)
	}
	return t.UTC(), nil
}
