package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/model"
)

// DocumentRepository keeps every ledger of a tenant inside one document, so
// an account and its transactions are always written together.
type DocumentRepository struct {
	store  docstore.Store
	opts   options
	logger *slog.Logger
}

var _ Repository = (*DocumentRepository)(nil)

type ledgerDocument struct {
	Ledgers map[string]*model.Ledger `json:"ledgers"`
}

// LedgerDefaults is the empty allowance document.
func LedgerDefaults(context.Context) (model.Document, error) {
	return model.Document{"ledgers": map[string]any{}}, nil
}

// NewFileRepository stores the tenant's ledgers in a JSON file at path.
func NewFileRepository(path string, logger *slog.Logger, opts ...Option) *DocumentRepository {
	store := docstore.New("allowance", docstore.FileMedium{Path: path}, LedgerDefaults, logger)
	return NewDocumentRepository(store, logger, opts...)
}

func NewDocumentRepository(store docstore.Store, logger *slog.Logger, opts ...Option) *DocumentRepository {
	return &DocumentRepository{store: store, opts: buildOptions(opts), logger: logger}
}

func (r *DocumentRepository) load(ctx context.Context) (*ledgerDocument, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledgers: %w", err)
	}
	var ld ledgerDocument
	if err := docstore.Decode(doc, &ld); err != nil {
		return nil, err
	}
	if ld.Ledgers == nil {
		ld.Ledgers = map[string]*model.Ledger{}
	}
	return &ld, nil
}

func (r *DocumentRepository) save(ctx context.Context, ld *ledgerDocument) error {
	doc, err := docstore.Encode(ld)
	if err != nil {
		return err
	}
	if !r.store.Save(ctx, doc) {
		return ErrSaveFailed
	}
	return nil
}

// ledger returns userID's ledger, adding a default account when missing.
func (r *DocumentRepository) ledger(ld *ledgerDocument, userID string) (*model.Ledger, bool) {
	l, ok := ld.Ledgers[userID]
	if ok && l != nil {
		if l.Account.Settings == nil {
			l.Account.Settings = model.Settings{}
		}
		return l, false
	}
	l = &model.Ledger{Account: *model.NewAccount(userID), Transactions: []model.Transaction{}}
	ld.Ledgers[userID] = l
	return l, true
}

func latestIndex(txs []model.Transaction) int {
	idx := -1
	for i, tx := range txs {
		if idx < 0 || !tx.Timestamp.Before(txs[idx].Timestamp) {
			idx = i
		}
	}
	return idx
}

func (r *DocumentRepository) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	if r.opts.reconcileOnRead {
		rec, err := r.Reconcile(ctx, userID)
		if err != nil {
			return nil, err
		}
		return rec.Account, nil
	}

	ld, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	l, created := r.ledger(ld, userID)
	if created {
		if err := r.save(ctx, ld); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		r.logger.Info("account created", "user", userID)
	}
	acc := l.Account
	return &acc, nil
}

func (r *DocumentRepository) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	ld, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	l, ok := ld.Ledgers[userID]
	if !ok || l == nil {
		return []model.Transaction{}, nil
	}

	txs := slices.Clone(l.Transactions)
	newestFirst(txs)
	if len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

func (r *DocumentRepository) AddTransaction(ctx context.Context, userID string, amount float64, txType model.TransactionType, description *string) (*model.Account, *model.Transaction, error) {
	if err := validate(amount, txType); err != nil {
		return nil, nil, err
	}
	ld, err := r.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	l, _ := r.ledger(ld, userID)

	var latest time.Time
	if i := latestIndex(l.Transactions); i >= 0 {
		latest = l.Transactions[i].Timestamp
	}
	now := r.opts.now()
	balance := add(l.Account.CurrentBalance, amount)
	tx := newTransaction(userID, amount, txType, description, stamp(now, latest), balance)

	l.Transactions = append(l.Transactions, tx)
	l.Account.CurrentBalance = balance
	l.Account.Touch(now)

	if err := r.save(ctx, ld); err != nil {
		return nil, nil, fmt.Errorf("add transaction: %w", err)
	}
	r.logger.Info("transaction added", "user", userID, "type", txType, "amount", amount, "balance", balance)

	acc := l.Account
	return &acc, &tx, nil
}

func (r *DocumentRepository) DeleteLastTransaction(ctx context.Context, userID string) (*model.Account, *model.Transaction, error) {
	ld, err := r.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	l, created := r.ledger(ld, userID)

	i := latestIndex(l.Transactions)
	if i < 0 {
		if created {
			if err := r.save(ctx, ld); err != nil {
				return nil, nil, fmt.Errorf("create account: %w", err)
			}
		}
		acc := l.Account
		return &acc, nil, nil
	}

	tx := l.Transactions[i]
	l.Transactions = slices.Delete(l.Transactions, i, i+1)
	l.Account.CurrentBalance = sub(l.Account.CurrentBalance, tx.Amount)
	l.Account.Touch(r.opts.now())

	if err := r.save(ctx, ld); err != nil {
		return nil, nil, fmt.Errorf("delete transaction: %w", err)
	}
	r.logger.Info("transaction deleted", "user", userID, "id", tx.ID, "balance", l.Account.CurrentBalance)

	acc := l.Account
	return &acc, &tx, nil
}

func (r *DocumentRepository) UpdateSettings(ctx context.Context, userID string, settings map[string]any, replace bool) (*model.Account, error) {
	ld, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	l, _ := r.ledger(ld, userID)

	l.Account.Settings = mergeSettings(l.Account.Settings, settings, replace)
	l.Account.Touch(r.opts.now())

	if err := r.save(ctx, ld); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	r.logger.Info("settings updated", "user", userID, "replace", replace)

	acc := l.Account
	return &acc, nil
}

func (r *DocumentRepository) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	ld, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	l, created := r.ledger(ld, userID)

	rec := &Reconciliation{
		UserID:          userID,
		RecordedBalance: l.Account.CurrentBalance,
		ComputedBalance: sum(l.Transactions),
		Transactions:    len(l.Transactions),
	}
	if !sameAmount(rec.RecordedBalance, rec.ComputedBalance) {
		l.Account.CurrentBalance = rec.ComputedBalance
		l.Account.Touch(r.opts.now())
		rec.Repaired = true
		r.logger.Warn("balance drifted from history, repaired", "user", userID,
			"recorded", rec.RecordedBalance, "computed", rec.ComputedBalance)
	}
	if created || rec.Repaired {
		if err := r.save(ctx, ld); err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
	}

	acc := l.Account
	rec.Account = &acc
	return rec, nil
}

func (r *DocumentRepository) Compact(ctx context.Context, userID string, before time.Time) (int, error) {
	ld, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	l, ok := ld.Ledgers[userID]
	if !ok || l == nil {
		return 0, nil
	}

	kept, folded, carry := fold(userID, l.Transactions, before)
	if carry == nil {
		return 0, nil
	}
	l.Transactions = append([]model.Transaction{*carry}, kept...)

	if err := r.save(ctx, ld); err != nil {
		return 0, fmt.Errorf("compact: %w", err)
	}
	r.logger.Info("transactions compacted", "user", userID, "folded", len(folded))
	return len(folded), nil
}

func (r *DocumentRepository) Export(ctx context.Context, userID string) (*model.Ledger, error) {
	ld, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	l, created := r.ledger(ld, userID)
	if created {
		if err := r.save(ctx, ld); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
	}
	out := model.Ledger{Account: l.Account, Transactions: slices.Clone(l.Transactions)}
	slices.SortStableFunc(out.Transactions, func(a, b model.Transaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return &out, nil
}

func (r *DocumentRepository) Import(ctx context.Context, l model.Ledger) error {
	userID := l.Account.UserID
	if userID == "" {
		return fmt.Errorf("import ledger: account has no user id")
	}
	ld, err := r.load(ctx)
	if err != nil {
		return err
	}
	imported := importable(l, r.logger)
	ld.Ledgers[userID] = &imported

	if err := r.save(ctx, ld); err != nil {
		return fmt.Errorf("import ledger: %w", err)
	}
	return nil
}

// importable copies l, repairing the balance if it disagrees with the
// transactions being imported.
func importable(l model.Ledger, logger *slog.Logger) model.Ledger {
	out := model.Ledger{Account: l.Account, Transactions: slices.Clone(l.Transactions)}
	if out.Transactions == nil {
		out.Transactions = []model.Transaction{}
	}
	if out.Account.Settings == nil {
		out.Account.Settings = model.Settings{}
	}
	if computed := sum(out.Transactions); !sameAmount(out.Account.CurrentBalance, computed) {
		logger.Warn("imported balance disagrees with transactions, using transaction sum",
			"user", out.Account.UserID, "recorded", out.Account.CurrentBalance, "computed", computed)
		out.Account.CurrentBalance = computed
	}
	return out
}
