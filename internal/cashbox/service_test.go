package cashbox

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rapidroute/cashbox/internal/idempotency"
	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/logging"
	"github.com/rapidroute/cashbox/internal/metrics"
	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

var meta = Meta{Actor: 1}

type fixture struct {
	svc *Service
	reg *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	reg := prometheus.NewRegistry()
	svc := NewService(Deps{
		Engine:  ledger.NewEngine(ledger.NewInMemory(), ledger.Options{}),
		Guard:   idempotency.NewGuard(idempotency.NewRedisStore(cache), time.Minute, logging.Discard()),
		Metrics: metrics.NewLedgerMetrics(reg),
		Logger:  logging.Discard(),
	})
	return fixture{svc: svc, reg: reg}
}

func requireAmount(t *testing.T, want, got money.Amount) {
	t.Helper()
	require.Truef(t, want.Equal(got), "expected %s, got %s", want, got)
}

func TestValidationReportsFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordIncome(context.Background(), IncomeRequest{
		Amount: Money{USD: "abc"},
	})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "actor")
	require.Contains(t, verr.Fields, "account")
	require.Contains(t, verr.Fields, "amount.usd")
	require.True(t, errors.Is(err, ledger.ErrInvalidInput))
	require.Equal(t, CodeValidation, Describe(err).Code)
}

func TestAmountPrecisionIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordIncome(context.Background(), IncomeRequest{
		Meta:    meta,
		Amount:  Money{USD: "1.005"},
		Account: "cash",
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	require.Equal(t, CodeValidation, Describe(err).Code)
}

func TestIdempotentIncomeIsWrittenOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := IncomeRequest{
		Meta:    Meta{Actor: 1, IdempotencyKey: "inc-1"},
		Amount:  Money{USD: "100", LBP: "150000"},
		Account: "cash",
	}

	first, err := f.svc.RecordIncome(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.RecordIncome(ctx, req)
	require.NoError(t, err)

	require.Len(t, second.Entries, 1)
	require.Equal(t, first.Entries[0].ID, second.Entries[0].ID)

	bal, err := f.svc.Balance(ctx, "cash", 0)
	require.NoError(t, err)
	requireAmount(t, money.MustParse("100", 150000), bal)

	entries, err := f.svc.Entries(ctx, EntriesQuery{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestInsufficientFundsIsDescribed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordExpense(context.Background(), ExpenseRequest{
		Meta:     meta,
		Amount:   Money{USD: "10"},
		Account:  "cash",
		Category: "Fuel",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	desc := Describe(err)
	require.Equal(t, CodeInsufficientFunds, desc.Code)
	require.Contains(t, desc.Message, "insufficient funds in cash")
	require.False(t, desc.Retryable)
}

func TestOrderFlowThroughService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateOrder(ctx, CreateOrderRequest{
		Meta:           meta,
		ClientID:       7,
		Type:           "delivery_only",
		DeliveryMethod: "in_house",
		DeliveryFee:    Money{USD: "10"},
		DriverFee:      Money{USD: "5"},
	})
	require.NoError(t, err)
	require.True(t, created.Fired(order.TriggerCreate))
	id := created.Order.ID

	for _, next := range []string{"assigned", "picked_up", "in_transit", "delivered"} {
		_, err := f.svc.AdvanceStatus(ctx, StatusRequest{Meta: meta, OrderID: id, To: next, DriverID: 3})
		require.NoError(t, err, "advance to %s", next)
	}

	_, err = f.svc.RecordClientPayment(ctx, ClientPaymentRequest{
		Meta:     meta,
		OrderID:  id,
		ClientID: 7,
		Amount:   Money{USD: "10"},
		Method:   "cash",
	})
	require.NoError(t, err)

	out, err := f.svc.CashOut(ctx, CashOutRequest{Meta: meta, OrderID: id})
	require.NoError(t, err)
	require.True(t, out.Order.AccountingCashed)

	_, err = f.svc.CashOut(ctx, CashOutRequest{Meta: meta, OrderID: id})
	require.ErrorIs(t, err, ledger.ErrAlreadyCashedOut)
	require.Equal(t, CodeConflict, Describe(err).Code)

	check, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	require.True(t, check.OK(), "mismatches: %v", check.Mismatches)
	requireAmount(t, money.MustParse("5", 0), check.Sheet.Cash)

	o, err := f.svc.Order(ctx, id)
	require.NoError(t, err)
	require.Equal(t, order.StatusDelivered, o.Status)
}

func TestEntriesQueryFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RecordIncome(ctx, IncomeRequest{Meta: meta, Amount: Money{USD: "100"}, Account: "cash"})
	require.NoError(t, err)
	_, err = f.svc.Transfer(ctx, TransferRequest{Meta: meta, Amount: Money{USD: "40"}, From: "cash", To: "wish"})
	require.NoError(t, err)

	wish, err := f.svc.Entries(ctx, EntriesQuery{AccountType: "wish"})
	require.NoError(t, err)
	require.Len(t, wish, 1)
	require.Equal(t, ledger.EntryTransferIn, wish[0].Type)

	incomes, err := f.svc.Summary(ctx, EntriesQuery{Types: []string{"income"}})
	require.NoError(t, err)
	require.Equal(t, 1, incomes.Entries)

	_, err = f.svc.Entries(ctx, EntriesQuery{Types: []string{"bogus"}})
	require.Equal(t, CodeValidation, Describe(err).Code)

	_, err = f.svc.Entries(ctx, EntriesQuery{From: "yesterday"})
	require.Equal(t, CodeValidation, Describe(err).Code)
}

func TestMetricsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RecordIncome(ctx, IncomeRequest{Meta: meta, Amount: Money{USD: "12.50", LBP: "1000"}, Account: "wish"})
	require.NoError(t, err)
	_, err = f.svc.Transfer(ctx, TransferRequest{Meta: meta, Amount: Money{USD: "1"}, From: "cash", To: "cash"})
	require.Error(t, err)

	families, err := f.reg.Gather()
	require.NoError(t, err)
	byName := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += "," + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				byName[mf.GetName()+labels] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				byName[mf.GetName()+labels] = m.GetGauge().GetValue()
			}
		}
	}
	require.Equal(t, 1.0, byName["cashbox_operation_success_total,operation=record_income"])
	require.Equal(t, 1.0, byName["cashbox_operation_failure_total,code=VALIDATION_ERROR,operation=transfer"])
	require.Equal(t, 1.0, byName["cashbox_entries_written_total,type=income"])
	require.Equal(t, 12.5, byName["cashbox_pool_balance,account=wish,currency=usd"])
	require.Equal(t, 1000.0, byName["cashbox_pool_balance,account=wish,currency=lbp"])
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		err       error
		code      Code
		retryable bool
	}{
		{ledger.ErrOrderNotFound, CodeNotFound, false},
		{ledger.ErrSameAccount, CodeValidation, false},
		{ledger.ErrOrderNotSettleable, CodeStateConflict, false},
		{order.ErrInvalidTransition, CodeStateConflict, false},
		{idempotency.ErrInProgress, CodeInProgress, true},
		{context.DeadlineExceeded, CodeDependency, true},
		{errors.New("connection reset"), CodeInternal, true},
	}
	for _, tc := range cases {
		desc := Describe(tc.err)
		require.Equal(t, tc.code, desc.Code, "error %v", tc.err)
		require.Equal(t, tc.retryable, desc.Retryable, "error %v", tc.err)
	}

	require.Equal(t, "internal error", Describe(errors.New("pq: secret detail")).Message)
	require.Equal(t, Description{}, Describe(nil))
}
