package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

// PostgresStore persists the ledger in PostgreSQL. Every transaction first locks the
// single cashbox row, so ledger writes are serialized and cannot deadlock on account rows.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store over a migrated schema.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn inside a read-committed transaction holding the cashbox lock.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT id FROM cashbox WHERE id = 1 FOR UPDATE`); err != nil {
		return fmt.Errorf("lock cashbox: %w", err)
	}
	if err = fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, ref AccountRef) (money.Amount, error) {
	const query = `SELECT usd::text, lbp FROM ledger_accounts WHERE account_type = $1 AND account_id = $2`
	var usd string
	var lbp int64
	if err := s.db.QueryRow(ctx, query, string(ref.Type), ref.ID).Scan(&usd, &lbp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Zero(), nil
		}
		return money.Amount{}, err
	}
	return toAmount(usd, lbp)
}

func (s *PostgresStore) Balances(ctx context.Context) ([]AccountBalance, error) {
	const query = `SELECT account_type, account_id, usd::text, lbp FROM ledger_accounts
        ORDER BY account_type, account_id`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AccountBalance
	for rows.Next() {
		var (
			typ string
			id  int64
			usd string
			lbp int64
		)
		if err := rows.Scan(&typ, &id, &usd, &lbp); err != nil {
			return nil, err
		}
		amt, err := toAmount(usd, lbp)
		if err != nil {
			return nil, err
		}
		out = append(out, AccountBalance{Account: AccountRef{Type: AccountType(typ), ID: id}, Balance: amt})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Cashbox(ctx context.Context) (Cashbox, error) {
	return loadCashbox(ctx, s.db)
}

func (s *PostgresStore) Entries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return queryEntries(ctx, s.db, filter)
}

func (s *PostgresStore) Order(ctx context.Context, id int64) (order.Order, error) {
	return loadOrder(ctx, s.db, id, false)
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) ApplyDelta(ctx context.Context, ref AccountRef, delta money.Amount) (money.Amount, error) {
	const query = `
        INSERT INTO ledger_accounts (account_type, account_id, usd, lbp, updated_at)
        VALUES ($1, $2, $3::numeric, $4, NOW())
        ON CONFLICT (account_type, account_id) DO UPDATE
            SET usd = ledger_accounts.usd + EXCLUDED.usd,
                lbp = ledger_accounts.lbp + EXCLUDED.lbp,
                updated_at = NOW()
        RETURNING usd::text, lbp`
	var usd string
	var lbp int64
	if err := t.tx.QueryRow(ctx, query, string(ref.Type), ref.ID, delta.USD.String(), delta.LBP).Scan(&usd, &lbp); err != nil {
		return money.Amount{}, err
	}
	return toAmount(usd, lbp)
}

func (t *postgresTx) AppendEntries(ctx context.Context, entries []Entry) ([]Entry, error) {
	const query = `
        INSERT INTO ledger_entries (id, group_id, entry_type, account_type, account_id,
            counterpart_type, counterpart_id, usd, lbp, order_id, category, subcategory,
            description, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14, $15)
        RETURNING seq`
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if err := t.tx.QueryRow(ctx, query,
			e.ID, e.GroupID, string(e.Type), string(e.Account.Type), e.Account.ID,
			string(e.Counterpart.Type), e.Counterpart.ID, e.Amount.USD.String(), e.Amount.LBP,
			e.OrderID, e.Category, e.Subcategory, e.Description, e.CreatedBy, e.CreatedAt,
		).Scan(&e.Seq); err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (t *postgresTx) Cashbox(ctx context.Context) (Cashbox, error) {
	return loadCashbox(ctx, t.tx)
}

func (t *postgresTx) SaveCashbox(ctx context.Context, cb Cashbox) error {
	const query = `
        UPDATE cashbox SET cash_usd = $1::numeric, cash_lbp = $2, wish_usd = $3::numeric,
            wish_lbp = $4, capital_usd = $5::numeric, capital_lbp = $6, capital_set = $7,
            updated_at = $8
        WHERE id = 1`
	tag, err := t.tx.Exec(ctx, query,
		cb.Cash.USD.String(), cb.Cash.LBP, cb.Wish.USD.String(), cb.Wish.LBP,
		cb.Capital.USD.String(), cb.Capital.LBP, cb.CapitalSet, cb.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("cashbox row missing")
	}
	return nil
}

func (t *postgresTx) Order(ctx context.Context, id int64) (order.Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *postgresTx) InsertOrder(ctx context.Context, o order.Order) (order.Order, error) {
	const query = `
        INSERT INTO orders (reference, client_id, driver_id, third_party_id, order_type,
            delivery_method, status, payment_status, payment_method,
            total_usd, total_lbp, delivery_fee_usd, delivery_fee_lbp, driver_fee_usd, driver_fee_lbp,
            third_party_fee_usd, third_party_fee_lbp, paid_usd, paid_lbp,
            applied_on_create, applied_on_delivery, applied_on_paid, history_moved,
            accounting_cashed, cashed_at, created_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
            $10::numeric, $11, $12::numeric, $13, $14::numeric, $15,
            $16::numeric, $17, $18::numeric, $19,
            $20, $21, $22, $23, $24, $25, $26, $27, $28)
        RETURNING id`
	args := append([]any{o.Reference, o.ClientID, o.DriverID, o.ThirdPartyID}, orderArgs(o)...)
	args = append(args, o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&o.ID); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (t *postgresTx) UpdateOrder(ctx context.Context, o order.Order) error {
	const query = `
        UPDATE orders SET driver_id = $2, third_party_id = $3, order_type = $4,
            delivery_method = $5, status = $6, payment_status = $7, payment_method = $8,
            total_usd = $9::numeric, total_lbp = $10, delivery_fee_usd = $11::numeric,
            delivery_fee_lbp = $12, driver_fee_usd = $13::numeric, driver_fee_lbp = $14,
            third_party_fee_usd = $15::numeric, third_party_fee_lbp = $16,
            paid_usd = $17::numeric, paid_lbp = $18,
            applied_on_create = $19, applied_on_delivery = $20, applied_on_paid = $21,
            history_moved = $22, accounting_cashed = $23, cashed_at = $24, updated_at = $25
        WHERE id = $1`
	args := append([]any{o.ID, o.DriverID, o.ThirdPartyID}, orderArgs(o)...)
	args = append(args, o.UpdatedAt)
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, o.ID)
	}
	return nil
}

func (t *postgresTx) OrderEntries(ctx context.Context, orderID int64) ([]Entry, error) {
	return queryEntries(ctx, t.tx, EntryFilter{OrderID: orderID})
}

// orderArgs lists the mutable order columns from order_type through cashed_at.
func orderArgs(o order.Order) []any {
	return []any{
		string(o.Type), string(o.DeliveryMethod), string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		o.Total.USD.String(), o.Total.LBP,
		o.DeliveryFee.USD.String(), o.DeliveryFee.LBP,
		o.DriverFee.USD.String(), o.DriverFee.LBP,
		o.ThirdPartyFee.USD.String(), o.ThirdPartyFee.LBP,
		o.Paid.USD.String(), o.Paid.LBP,
		o.Flags.AppliedOnCreate, o.Flags.AppliedOnDelivery, o.Flags.AppliedOnPaid, o.Flags.HistoryMoved,
		o.AccountingCashed, o.CashedAt,
	}
}

func loadCashbox(ctx context.Context, q querier) (Cashbox, error) {
	const query = `
        SELECT cash_usd::text, cash_lbp, wish_usd::text, wish_lbp, capital_usd::text, capital_lbp,
            capital_set, updated_at
        FROM cashbox WHERE id = 1`
	var (
		cashUSD, wishUSD, capUSD string
		cashLBP, wishLBP, capLBP int64
		cb                       Cashbox
	)
	if err := q.QueryRow(ctx, query).Scan(&cashUSD, &cashLBP, &wishUSD, &wishLBP, &capUSD, &capLBP,
		&cb.CapitalSet, &cb.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cashbox{}, fmt.Errorf("cashbox row missing; run migrations")
		}
		return Cashbox{}, err
	}
	var err error
	if cb.Cash, err = toAmount(cashUSD, cashLBP); err != nil {
		return Cashbox{}, err
	}
	if cb.Wish, err = toAmount(wishUSD, wishLBP); err != nil {
		return Cashbox{}, err
	}
	if cb.Capital, err = toAmount(capUSD, capLBP); err != nil {
		return Cashbox{}, err
	}
	return cb, nil
}

const orderColumns = `id, reference, client_id, driver_id, third_party_id, order_type,
    delivery_method, status, payment_status, payment_method,
    total_usd::text, total_lbp, delivery_fee_usd::text, delivery_fee_lbp,
    driver_fee_usd::text, driver_fee_lbp, third_party_fee_usd::text, third_party_fee_lbp,
    paid_usd::text, paid_lbp, applied_on_create, applied_on_delivery, applied_on_paid,
    history_moved, accounting_cashed, cashed_at, created_by, created_at, updated_at`

func loadOrder(ctx context.Context, q querier, id int64, lock bool) (order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		o                                         order.Order
		typ, method, status, payStatus, payMethod string
		usd                                       [5]string
		lbp                                       [5]int64
	)
	err := q.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.Reference, &o.ClientID, &o.DriverID, &o.ThirdPartyID, &typ,
		&method, &status, &payStatus, &payMethod,
		&usd[0], &lbp[0], &usd[1], &lbp[1], &usd[2], &lbp[2], &usd[3], &lbp[3], &usd[4], &lbp[4],
		&o.Flags.AppliedOnCreate, &o.Flags.AppliedOnDelivery, &o.Flags.AppliedOnPaid,
		&o.Flags.HistoryMoved, &o.AccountingCashed, &o.CashedAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
		}
		return order.Order{}, err
	}
	o.Type = order.Type(typ)
	o.DeliveryMethod = order.DeliveryMethod(method)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.PaymentMethod = order.PaymentMethod(payMethod)
	amounts := []*money.Amount{&o.Total, &o.DeliveryFee, &o.DriverFee, &o.ThirdPartyFee, &o.Paid}
	for i, dst := range amounts {
		if *dst, err = toAmount(usd[i], lbp[i]); err != nil {
			return order.Order{}, err
		}
	}
	return o, nil
}

// buildEntryQuery renders filter as a parameterized WHERE clause.
func buildEntryQuery(filter EntryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Account != nil {
		add("account_type = $%d", string(filter.Account.Type))
		add("account_id = $%d", filter.Account.ID)
	}
	if filter.AccountType != "" {
		add("account_type = $%d", string(filter.AccountType))
	}
	if filter.OrderID != 0 {
		add("order_id = $%d", filter.OrderID)
	}
	if filter.CreatedBy != 0 {
		add("created_by = $%d", filter.CreatedBy)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		add("entry_type = ANY($%d)", types)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	query := `SELECT seq, id, group_id, entry_type, account_type, account_id, counterpart_type,
        counterpart_id, usd::text, lbp, order_id, category, subcategory, description, created_by,
        created_at FROM ledger_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query + " ORDER BY seq", args
}

func queryEntries(ctx context.Context, q querier, filter EntryFilter) ([]Entry, error) {
	query, args := buildEntryQuery(filter)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                              Entry
			entryType, accType, counterTyp string
			usd                            string
			lbp                            int64
			created                        time.Time
			id, group                      uuid.UUID
		)
		if err := rows.Scan(&e.Seq, &id, &group, &entryType, &accType, &e.Account.ID, &counterTyp,
			&e.Counterpart.ID, &usd, &lbp, &e.OrderID, &e.Category, &e.Subcategory, &e.Description,
			&e.CreatedBy, &created); err != nil {
			return nil, err
		}
		if e.Amount, err = toAmount(usd, lbp); err != nil {
			return nil, err
		}
		e.ID, e.GroupID, e.CreatedAt = id, group, created
		e.Type = EntryType(entryType)
		e.Account.Type = AccountType(accType)
		e.Counterpart.Type = AccountType(counterTyp)
		out = append(out, e)
	}
	return out, rows.Err()
}

func toAmount(usd string, lbp int64) (money.Amount, error) {
	d, err := decimal.NewFromString(usd)
	if err != nil {
		return money.Amount{}, fmt.Errorf("scan usd %q: %w", usd, err)
	}
	return money.New(d, lbp), nil
}
