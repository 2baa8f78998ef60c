// Package report derives read-only views from ledger entries and balances. Every
// function is pure: identical input yields identical, deterministically ordered output.
package report

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/money"
)

// AccountTotals aggregates the entries of one account. Credits sum the positive
// deltas, Debits the magnitude of the negative ones, and Net is Credits minus Debits.
type AccountTotals struct {
	Account ledger.AccountRef `json:"account"`
	Credits money.Amount      `json:"credits"`
	Debits  money.Amount      `json:"debits"`
	Net     money.Amount      `json:"net"`
	Entries int               `json:"entries"`
}

// TypeTotals aggregates entries of one entry type.
type TypeTotals struct {
	Type    ledger.EntryType `json:"type"`
	Net     money.Amount     `json:"net"`
	Entries int              `json:"entries"`
}

// Summary is the aggregate view of a set of entries.
type Summary struct {
	Accounts []AccountTotals `json:"accounts"`
	Types    []TypeTotals    `json:"types"`
	// Cash and Wish are the net pool movement over the selected entries.
	Cash money.Amount `json:"cash"`
	Wish money.Amount `json:"wish"`
	// Income and Expenses are pool-side totals of income and expense entries.
	Income   money.Amount `json:"income"`
	Expenses money.Amount `json:"expenses"`
	Entries  int          `json:"entries"`
}

// Account returns the totals for ref, if any of the entries touched it.
func (s Summary) Account(ref ledger.AccountRef) (AccountTotals, bool) {
	for _, a := range s.Accounts {
		if a.Account == ref {
			return a, true
		}
	}
	return AccountTotals{}, false
}

// Summarize aggregates the entries passing filter.
func Summarize(entries []ledger.Entry, filter ledger.EntryFilter) Summary {
	accounts := map[ledger.AccountRef]*AccountTotals{}
	types := map[ledger.EntryType]*TypeTotals{}
	out := Summary{Cash: money.Zero(), Wish: money.Zero(), Income: money.Zero(), Expenses: money.Zero()}

	for _, e := range entries {
		if !filter.Match(e) {
			continue
		}
		out.Entries++

		acc, ok := accounts[e.Account]
		if !ok {
			acc = &AccountTotals{Account: e.Account, Credits: money.Zero(), Debits: money.Zero(), Net: money.Zero()}
			accounts[e.Account] = acc
		}
		acc.Credits = acc.Credits.Add(e.Amount.Positive())
		acc.Debits = acc.Debits.Sub(e.Amount.Negative())
		acc.Net = acc.Net.Add(e.Amount)
		acc.Entries++

		tt, ok := types[e.Type]
		if !ok {
			tt = &TypeTotals{Type: e.Type, Net: money.Zero()}
			types[e.Type] = tt
		}
		tt.Net = tt.Net.Add(e.Amount)
		tt.Entries++

		switch e.Account {
		case ledger.Cash:
			out.Cash = out.Cash.Add(e.Amount)
		case ledger.Wish:
			out.Wish = out.Wish.Add(e.Amount)
		}
		if e.Account.Type.IsPool() {
			switch e.Type {
			case ledger.EntryIncome:
				out.Income = out.Income.Add(e.Amount)
			case ledger.EntryExpense:
				out.Expenses = out.Expenses.Sub(e.Amount)
			}
		}
	}

	out.Accounts = make([]AccountTotals, 0, len(accounts))
	for _, a := range accounts {
		out.Accounts = append(out.Accounts, *a)
	}
	sort.Slice(out.Accounts, func(i, j int) bool { return out.Accounts[i].Account.Less(out.Accounts[j].Account) })

	out.Types = make([]TypeTotals, 0, len(types))
	for _, t := range types {
		out.Types = append(out.Types, *t)
	}
	sort.Slice(out.Types, func(i, j int) bool { return out.Types[i].Type < out.Types[j].Type })
	return out
}

// Sheet is a balance-sheet view of current balances.
type Sheet struct {
	Cash         money.Amount            `json:"cash"`
	Wish         money.Amount            `json:"wish"`
	Capital      money.Amount            `json:"capital"`
	Clients      []ledger.AccountBalance `json:"clients"`
	Drivers      []ledger.AccountBalance `json:"drivers"`
	ThirdParties []ledger.AccountBalance `json:"third_parties"`
	// Receivables is what clients owe; Payables is what the company owes drivers
	// and carriers. Both count positive balances only.
	Receivables money.Amount `json:"receivables"`
	Payables    money.Amount `json:"payables"`
	// Position is pools plus receivables minus payables.
	Position money.Amount `json:"position"`
}

// BuildSheet groups balances by account type. Pool figures come from the balances,
// capital from the cashbox record.
func BuildSheet(balances []ledger.AccountBalance, cb ledger.Cashbox) Sheet {
	sorted := append([]ledger.AccountBalance(nil), balances...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Account.Less(sorted[j].Account) })

	sheet := Sheet{
		Cash:        money.Zero(),
		Wish:        money.Zero(),
		Capital:     cb.Capital,
		Receivables: money.Zero(),
		Payables:    money.Zero(),
	}
	for _, b := range sorted {
		switch b.Account.Type {
		case ledger.AccountCash:
			sheet.Cash = b.Balance
		case ledger.AccountWish:
			sheet.Wish = b.Balance
		case ledger.AccountClient:
			sheet.Clients = append(sheet.Clients, b)
			sheet.Receivables = sheet.Receivables.Add(b.Balance.Positive())
		case ledger.AccountDriver:
			sheet.Drivers = append(sheet.Drivers, b)
			sheet.Payables = sheet.Payables.Add(b.Balance.Positive())
		case ledger.AccountThirdParty:
			sheet.ThirdParties = append(sheet.ThirdParties, b)
			sheet.Payables = sheet.Payables.Add(b.Balance.Positive())
		}
	}
	sheet.Position = sheet.Cash.Add(sheet.Wish).Add(sheet.Receivables).Sub(sheet.Payables)
	return sheet
}

// ErrMismatch is matched by every reconciliation Mismatch.
var ErrMismatch = errors.New("ledger reconciliation mismatch")

// Mismatch reports a stored figure that disagrees with the one derived from entries.
type Mismatch struct {
	Subject string
	Stored  money.Amount
	Derived money.Amount
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("%s: stored %s, derived %s", m.Subject, m.Stored, m.Derived)
}

func (m *Mismatch) Unwrap() error { return ErrMismatch }

// Reconcile checks every stored balance against the sum of its entries and the
// cashbox cache against the pool accounts. It returns nil or a multierr of *Mismatch.
func Reconcile(balances []ledger.AccountBalance, cb ledger.Cashbox, entries []ledger.Entry) error {
	derived := map[ledger.AccountRef]money.Amount{}
	for _, e := range entries {
		cur, ok := derived[e.Account]
		if !ok {
			cur = money.Zero()
		}
		derived[e.Account] = cur.Add(e.Amount)
	}
	stored := map[ledger.AccountRef]money.Amount{}
	for _, b := range balances {
		stored[b.Account] = b.Balance
	}

	refs := make([]ledger.AccountRef, 0, len(stored)+len(derived))
	for ref := range stored {
		refs = append(refs, ref)
	}
	for ref := range derived {
		if _, ok := stored[ref]; !ok {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })

	var err error
	for _, ref := range refs {
		s, d := amountOrZero(stored, ref), amountOrZero(derived, ref)
		if !s.Equal(d) {
			err = multierr.Append(err, &Mismatch{Subject: "account " + ref.String(), Stored: s, Derived: d})
		}
	}
	if cash := amountOrZero(stored, ledger.Cash); !cb.Cash.Equal(cash) {
		err = multierr.Append(err, &Mismatch{Subject: "cashbox cash", Stored: cb.Cash, Derived: cash})
	}
	if wish := amountOrZero(stored, ledger.Wish); !cb.Wish.Equal(wish) {
		err = multierr.Append(err, &Mismatch{Subject: "cashbox wish", Stored: cb.Wish, Derived: wish})
	}
	return err
}

func amountOrZero(m map[ledger.AccountRef]money.Amount, ref ledger.AccountRef) money.Amount {
	if v, ok := m[ref]; ok {
		return v
	}
	return money.Zero()
}
