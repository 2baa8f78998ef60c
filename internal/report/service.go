package report

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/rapidroute/cashbox/internal/ledger"
)

// Source is the read side of the ledger the reports are built from.
type Source interface {
	Balances(ctx context.Context) ([]ledger.AccountBalance, error)
	Cashbox(ctx context.Context) (ledger.Cashbox, error)
	Entries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error)
}

// Service loads ledger state and runs the pure report functions over it.
type Service struct {
	src Source
	now func() time.Time
}

func NewService(src Source) *Service {
	return &Service{src: src, now: func() time.Time { return time.Now().UTC() }}
}

// Summary aggregates the entries matching filter.
func (s *Service) Summary(ctx context.Context, filter ledger.EntryFilter) (Summary, error) {
	entries, err := s.src.Entries(ctx, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("load entries: %w", err)
	}
	return Summarize(entries, filter), nil
}

// Sheet builds the balance sheet from current balances.
func (s *Service) Sheet(ctx context.Context) (Sheet, error) {
	balances, err := s.src.Balances(ctx)
	if err != nil {
		return Sheet{}, fmt.Errorf("load balances: %w", err)
	}
	cb, err := s.src.Cashbox(ctx)
	if err != nil {
		return Sheet{}, fmt.Errorf("load cashbox: %w", err)
	}
	return BuildSheet(balances, cb), nil
}

// Check is the outcome of one reconciliation run.
type Check struct {
	CheckedAt  time.Time `json:"checked_at"`
	Accounts   int       `json:"accounts"`
	Entries    int       `json:"entries"`
	Mismatches []string  `json:"mismatches"`
	Sheet      Sheet     `json:"sheet"`
}

// OK reports whether the run found no mismatch.
func (c Check) OK() bool { return len(c.Mismatches) == 0 }

// Reconcile loads balances, the cashbox and the entry log and checks them against each
// other. Load failures are returned as errors; mismatches are reported in the Check.
// Run it while no writer is active, since the three reads are not one snapshot.
func (s *Service) Reconcile(ctx context.Context) (Check, error) {
	balances, err := s.src.Balances(ctx)
	if err != nil {
		return Check{}, fmt.Errorf("load balances: %w", err)
	}
	cb, err := s.src.Cashbox(ctx)
	if err != nil {
		return Check{}, fmt.Errorf("load cashbox: %w", err)
	}
	entries, err := s.src.Entries(ctx, ledger.EntryFilter{})
	if err != nil {
		return Check{}, fmt.Errorf("load entries: %w", err)
	}

	check := Check{
		CheckedAt:  s.now(),
		Accounts:   len(balances),
		Entries:    len(entries),
		Mismatches: []string{},
		Sheet:      BuildSheet(balances, cb),
	}
	for _, m := range mismatches(Reconcile(balances, cb, entries)) {
		check.Mismatches = append(check.Mismatches, m.Error())
	}
	return check, nil
}

func mismatches(err error) []*Mismatch {
	var out []*Mismatch
	for _, e := range multierr.Errors(err) {
		if m, ok := e.(*Mismatch); ok {
			out = append(out, m)
		}
	}
	return out
}
