package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

const actor = int64(1)

// seeded builds a small ledger: capital, income, one expense and a delivered order.
func seeded(t *testing.T) (*ledger.Engine, *ledger.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewInMemory()
	e := ledger.NewEngine(store, ledger.Options{})

	_, err := e.SetCapital(ctx, money.MustParse("1000", 1500000), actor)
	require.NoError(t, err)
	_, err = e.RecordIncome(ctx, ledger.IncomeInput{Amount: money.MustParse("100", 150000), Account: ledger.AccountCash, Actor: actor})
	require.NoError(t, err)
	_, err = e.RecordExpense(ctx, ledger.ExpenseInput{Amount: money.MustParse("50", 75000), Account: ledger.AccountCash, Category: "Office & Admin", Actor: 2})
	require.NoError(t, err)

	out, err := e.CreateOrder(ctx, order.Order{
		ClientID:       7,
		Type:           order.TypeDeliveryOnly,
		DeliveryMethod: order.DeliveryInHouse,
		DeliveryFee:    money.MustParse("10", 0),
		DriverFee:      money.MustParse("5", 0),
	}, actor)
	require.NoError(t, err)
	for _, next := range []order.Status{order.StatusAssigned, order.StatusPickedUp, order.StatusInTransit, order.StatusDelivered} {
		_, err = e.AdvanceStatus(ctx, ledger.StatusInput{OrderID: out.Order.ID, To: next, DriverID: 3, Actor: actor})
		require.NoError(t, err)
	}
	return e, store
}

func requireAmount(t *testing.T, want, got money.Amount) {
	t.Helper()
	require.Truef(t, want.Equal(got), "expected %s, got %s", want, got)
}

func TestSummarizeTotals(t *testing.T) {
	e, _ := seeded(t)
	entries, err := e.Entries(context.Background(), ledger.EntryFilter{})
	require.NoError(t, err)

	s := Summarize(entries, ledger.EntryFilter{})
	require.Equal(t, len(entries), s.Entries)
	requireAmount(t, money.MustParse("1050", 1575000), s.Cash)
	requireAmount(t, money.MustParse("100", 150000), s.Income)
	requireAmount(t, money.MustParse("50", 75000), s.Expenses)

	cash, ok := s.Account(ledger.Cash)
	require.True(t, ok)
	requireAmount(t, money.MustParse("1100", 1650000), cash.Credits)
	requireAmount(t, money.MustParse("50", 75000), cash.Debits)
	requireAmount(t, money.MustParse("1050", 1575000), cash.Net)

	driver, ok := s.Account(ledger.Driver(3))
	require.True(t, ok)
	requireAmount(t, money.MustParse("5", 0), driver.Net)

	for i := 1; i < len(s.Accounts); i++ {
		require.True(t, s.Accounts[i-1].Account.Less(s.Accounts[i].Account))
	}
	for i := 1; i < len(s.Types); i++ {
		require.Less(t, string(s.Types[i-1].Type), string(s.Types[i].Type))
	}
}

func TestSummarizeIsDeterministic(t *testing.T) {
	e, _ := seeded(t)
	entries, err := e.Entries(context.Background(), ledger.EntryFilter{})
	require.NoError(t, err)

	require.Equal(t, Summarize(entries, ledger.EntryFilter{}), Summarize(entries, ledger.EntryFilter{}))
}

func TestSummarizeAppliesFilter(t *testing.T) {
	e, _ := seeded(t)
	entries, err := e.Entries(context.Background(), ledger.EntryFilter{})
	require.NoError(t, err)

	s := Summarize(entries, ledger.EntryFilter{CreatedBy: 2})
	require.Equal(t, 1, s.Entries)
	requireAmount(t, money.MustParse("50", 75000), s.Expenses)
	require.Len(t, s.Types, 1)
	require.Equal(t, ledger.EntryExpense, s.Types[0].Type)

	future := Summarize(entries, ledger.EntryFilter{From: time.Now().Add(time.Hour)})
	require.Zero(t, future.Entries)
	require.Empty(t, future.Accounts)
}

func TestBuildSheet(t *testing.T) {
	e, _ := seeded(t)
	ctx := context.Background()
	balances, err := e.Balances(ctx)
	require.NoError(t, err)
	cb, err := e.Cashbox(ctx)
	require.NoError(t, err)

	sheet := BuildSheet(balances, cb)
	requireAmount(t, money.MustParse("1050", 1575000), sheet.Cash)
	requireAmount(t, money.MustParse("1000", 1500000), sheet.Capital)
	require.Len(t, sheet.Clients, 1)
	require.Len(t, sheet.Drivers, 1)
	requireAmount(t, money.MustParse("10", 0), sheet.Receivables)
	requireAmount(t, money.MustParse("5", 0), sheet.Payables)
	requireAmount(t, money.MustParse("1055", 1575000), sheet.Position)
}

func TestReconcileCleanLedger(t *testing.T) {
	e, _ := seeded(t)
	ctx := context.Background()
	balances, err := e.Balances(ctx)
	require.NoError(t, err)
	cb, err := e.Cashbox(ctx)
	require.NoError(t, err)
	entries, err := e.Entries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)

	require.NoError(t, Reconcile(balances, cb, entries))
}

func TestReconcileReportsEveryMismatch(t *testing.T) {
	e, _ := seeded(t)
	ctx := context.Background()
	balances, err := e.Balances(ctx)
	require.NoError(t, err)
	cb, err := e.Cashbox(ctx)
	require.NoError(t, err)
	entries, err := e.Entries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)

	for i := range balances {
		if balances[i].Account == ledger.Driver(3) {
			balances[i].Balance = money.MustParse("6", 0)
		}
	}
	cb.Wish = money.MustParse("1", 0)

	err = Reconcile(balances, cb, entries)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMismatch))
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)

	var m *Mismatch
	require.True(t, errors.As(errs[0], &m))
	require.Equal(t, "account driver:3", m.Subject)
	requireAmount(t, money.MustParse("5", 0), m.Derived)
}

func TestServiceReconcile(t *testing.T) {
	_, store := seeded(t)
	svc := NewService(store)

	check, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.True(t, check.OK(), "unexpected mismatches %v", check.Mismatches)
	require.Positive(t, check.Entries)
	requireAmount(t, money.MustParse("1050", 1575000), check.Sheet.Cash)

	summary, err := svc.Summary(context.Background(), ledger.EntryFilter{Types: []ledger.EntryType{ledger.EntryIncome}})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Entries)
}

type failingSource struct{ Source }

func (failingSource) Balances(context.Context) ([]ledger.AccountBalance, error) {
	return nil, errors.New("db down")
}

func TestServiceSurfacesLoadErrors(t *testing.T) {
	svc := NewService(failingSource{Source: ledger.NewInMemory()})
	_, err := svc.Reconcile(context.Background())
	require.ErrorContains(t, err, "load balances")
}
