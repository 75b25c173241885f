// Package ledger keeps each user's allowance account and its transactions.
//
// The balance of an account always equals the sum of its stored transaction
// amounts. Balances only change through AddTransaction and
// DeleteLastTransaction; Reconcile repairs an account whose balance drifted
// from its history.
package ledger

import (
	"context"
	"errors"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/chorechart/internal/model"
)

const DefaultRecentLimit = 20

const carryForwardDescription = "Balance carried forward"

var (
	ErrInvalidLimit  = errors.New("limit must be a positive integer")
	ErrInvalidType   = errors.New("invalid transaction type")
	ErrInvalidAmount = errors.New("amount must be a finite number")
	ErrSaveFailed    = errors.New("ledger save failed")
)

// Repository is implemented by every allowance backend.
type Repository interface {
	// GetAccount returns the user's account, creating a zero-balance
	// account on first access.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)
	// RecentTransactions returns at most limit transactions, newest first.
	RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	AddTransaction(ctx context.Context, userID string, amount float64, txType model.TransactionType, description *string) (*model.Account, *model.Transaction, error)
	// DeleteLastTransaction removes the newest transaction and reverses its
	// amount. The returned transaction is nil when the ledger is empty.
	DeleteLastTransaction(ctx context.Context, userID string) (*model.Account, *model.Transaction, error)
	// UpdateSettings merges settings into the account's settings, or
	// replaces them entirely when replace is true.
	UpdateSettings(ctx context.Context, userID string, settings map[string]any, replace bool) (*model.Account, error)
	// Reconcile recomputes the balance from the transaction history and
	// rewrites the account if it drifted.
	Reconcile(ctx context.Context, userID string) (*Reconciliation, error)
	// Compact folds transactions older than before into one carried
	// forward transaction and returns how many were folded.
	Compact(ctx context.Context, userID string, before time.Time) (int, error)
	Export(ctx context.Context, userID string) (*model.Ledger, error)
	Import(ctx context.Context, l model.Ledger) error
}

// Reconciliation reports the outcome of a consistency check.
type Reconciliation struct {
	UserID          string         `json:"userId"`
	RecordedBalance float64        `json:"recordedBalance"`
	ComputedBalance float64        `json:"computedBalance"`
	Transactions    int            `json:"transactions"`
	Repaired        bool           `json:"repaired"`
	Account         *model.Account `json:"account"`
}

type options struct {
	now             func() time.Time
	reconcileOnRead bool
}

type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithReconcileOnRead makes GetAccount repair a drifted balance before
// returning it.
func WithReconcileOnRead() Option {
	return func(o *options) { o.reconcileOnRead = true }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validate(amount float64, txType model.TransactionType) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrInvalidAmount
	}
	if !txType.Valid() {
		return ErrInvalidType
	}
	return nil
}

func add(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).InexactFloat64()
}

func sub(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).InexactFloat64()
}

func sum(txs []model.Transaction) float64 {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(decimal.NewFromFloat(tx.Amount))
	}
	return total.InexactFloat64()
}

func sameAmount(a, b float64) bool {
	return decimal.NewFromFloat(a).Equal(decimal.NewFromFloat(b))
}

// stamp returns now, nudged past latest so timestamps within a ledger stay
// strictly increasing.
func stamp(now, latest time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !latest.IsZero() && !ts.After(latest) {
		ts = latest.UTC().Add(time.Microsecond)
	}
	return ts
}

func newTransaction(userID string, amount float64, txType model.TransactionType, description *string, ts time.Time, balanceAfter float64) model.Transaction {
	return model.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Timestamp:    ts,
		Amount:       amount,
		Direction:    model.DirectionOf(amount),
		Type:         txType,
		Description:  description,
		BalanceAfter: balanceAfter,
	}
}

func mergeSettings(current model.Settings, updates map[string]any, replace bool) model.Settings {
	var next model.Settings
	if replace {
		next = model.Settings{}
	} else {
		next = current.Clone()
	}
	maps.Copy(next, updates)
	return next
}

// newestFirst sorts txs by timestamp, newest first.
func newestFirst(txs []model.Transaction) {
	slices.SortStableFunc(txs, func(a, b model.Transaction) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
}

// fold splits txs into those kept and those older than before. When two or
// more are older, carry is the single transaction that replaces them.
func fold(userID string, txs []model.Transaction, before time.Time) (kept, folded []model.Transaction, carry *model.Transaction) {
	for _, tx := range txs {
		if tx.Timestamp.Before(before) {
			folded = append(folded, tx)
		} else {
			kept = append(kept, tx)
		}
	}
	if len(folded) < 2 {
		return txs, nil, nil
	}

	newest := folded[0].Timestamp
	for _, tx := range folded[1:] {
		if tx.Timestamp.After(newest) {
			newest = tx.Timestamp
		}
	}
	amount := sum(folded)
	desc := carryForwardDescription
	c := newTransaction(userID, amount, model.TransactionManual, &desc, newest.UTC(), amount)
	return kept, folded, &c
}
