package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/chorechart/internal/model"
	"github.com/dukerupert/chorechart/internal/storage"
)

// PartitionRepository stores accounts and transactions as separate records
// of a storage partition. A transaction is written before the account whose
// balance includes it, so an interrupted write leaves a drift that
// Reconcile can repair.
type PartitionRepository struct {
	partition storage.Partition
	opts      options
	logger    *slog.Logger
}

var _ Repository = (*PartitionRepository)(nil)

func NewPartitionRepository(p storage.Partition, logger *slog.Logger, opts ...Option) *PartitionRepository {
	return &PartitionRepository{
		partition: p,
		opts:      buildOptions(opts),
		logger:    logger.With("partition", p.Name()),
	}
}

func transactionID(id string) string {
	return "tx:" + id
}

func (r *PartitionRepository) account(ctx context.Context, userID string) (*model.Account, error) {
	rec, err := r.partition.Get(ctx, model.AccountID(userID))
	if errors.Is(err, storage.ErrNotFound) {
		acc := model.NewAccount(userID)
		if err := r.putAccount(ctx, acc); err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		r.logger.Info("account created", "user", userID)
		return acc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	var acc model.Account
	if err := json.Unmarshal(rec.Data, &acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if acc.Settings == nil {
		acc.Settings = model.Settings{}
	}
	return &acc, nil
}

func (r *PartitionRepository) putAccount(ctx context.Context, acc *model.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return r.partition.Put(ctx, storage.Record{
		ID:    acc.ID,
		Type:  storage.TypeAccount,
		Owner: acc.UserID,
		Data:  data,
	})
}

func (r *PartitionRepository) putTransaction(ctx context.Context, tx model.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	return r.partition.Put(ctx, storage.Record{
		ID:      transactionID(tx.ID),
		Type:    storage.TypeTransaction,
		Owner:   tx.UserID,
		SortKey: tx.SortKey(),
		Data:    data,
	})
}

// transactions returns up to limit transactions, newest first. A limit of
// zero returns all of them.
func (r *PartitionRepository) transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	recs, err := r.partition.Query(ctx, storage.Query{
		Type:  storage.TypeTransaction,
		Owner: userID,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}

	txs := make([]model.Transaction, 0, len(recs))
	for _, rec := range recs {
		var tx model.Transaction
		if err := json.Unmarshal(rec.Data, &tx); err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", rec.ID, err)
		}
		txs = append(txs, tx)
	}
	newestFirst(txs)
	return txs, nil
}

func (r *PartitionRepository) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	if r.opts.reconcileOnRead {
		rec, err := r.Reconcile(ctx, userID)
		if err != nil {
			return nil, err
		}
		return rec.Account, nil
	}
	return r.account(ctx, userID)
}

func (r *PartitionRepository) RecentTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	return r.transactions(ctx, userID, limit)
}

func (r *PartitionRepository) AddTransaction(ctx context.Context, userID string, amount float64, txType model.TransactionType, description *string) (*model.Account, *model.Transaction, error) {
	if err := validate(amount, txType); err != nil {
		return nil, nil, err
	}
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	latest, err := r.transactions(ctx, userID, 1)
	if err != nil {
		return nil, nil, err
	}

	var last time.Time
	if len(latest) > 0 {
		last = latest[0].Timestamp
	}
	now := r.opts.now()
	balance := add(acc.CurrentBalance, amount)
	tx := newTransaction(userID, amount, txType, description, stamp(now, last), balance)

	if err := r.putTransaction(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("add transaction: %w", err)
	}
	acc.CurrentBalance = balance
	acc.Touch(now)
	if err := r.putAccount(ctx, acc); err != nil {
		return nil, nil, fmt.Errorf("update account: %w", err)
	}
	r.logger.Info("transaction added", "user", userID, "type", txType, "amount", amount, "balance", balance)
	return acc, &tx, nil
}

func (r *PartitionRepository) DeleteLastTransaction(ctx context.Context, userID string) (*model.Account, *model.Transaction, error) {
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	latest, err := r.transactions(ctx, userID, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(latest) == 0 {
		return acc, nil, nil
	}

	tx := latest[0]
	if err := r.partition.Delete(ctx, transactionID(tx.ID)); err != nil {
		return nil, nil, fmt.Errorf("delete transaction: %w", err)
	}
	acc.CurrentBalance = sub(acc.CurrentBalance, tx.Amount)
	acc.Touch(r.opts.now())
	if err := r.putAccount(ctx, acc); err != nil {
		return nil, nil, fmt.Errorf("update account: %w", err)
	}
	r.logger.Info("transaction deleted", "user", userID, "id", tx.ID, "balance", acc.CurrentBalance)
	return acc, &tx, nil
}

func (r *PartitionRepository) UpdateSettings(ctx context.Context, userID string, settings map[string]any, replace bool) (*model.Account, error) {
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	acc.Settings = mergeSettings(acc.Settings, settings, replace)
	acc.Touch(r.opts.now())
	if err := r.putAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	r.logger.Info("settings updated", "user", userID, "replace", replace)
	return acc, nil
}

func (r *PartitionRepository) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := r.transactions(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	rec := &Reconciliation{
		UserID:          userID,
		RecordedBalance: acc.CurrentBalance,
		ComputedBalance: sum(txs),
		Transactions:    len(txs),
		Account:         acc,
	}
	if sameAmount(rec.RecordedBalance, rec.ComputedBalance) {
		return rec, nil
	}

	acc.CurrentBalance = rec.ComputedBalance
	acc.Touch(r.opts.now())
	if err := r.putAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	rec.Repaired = true
	r.logger.Warn("balance drifted from history, repaired", "user", userID,
		"recorded", rec.RecordedBalance, "computed", rec.ComputedBalance)
	return rec, nil
}

// Compact writes the carried forward transaction before deleting the
// records it replaces, so a failure part way leaves extra history rather
// than lost history.
func (r *PartitionRepository) Compact(ctx context.Context, userID string, before time.Time) (int, error) {
	txs, err := r.transactions(ctx, userID, 0)
	if err != nil {
		return 0, err
	}
	_, folded, carry := fold(userID, txs, before)
	if carry == nil {
		return 0, nil
	}

	if err := r.putTransaction(ctx, *carry); err != nil {
		return 0, fmt.Errorf("compact: %w", err)
	}
	for _, tx := range folded {
		if err := r.partition.Delete(ctx, transactionID(tx.ID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("compact: delete %s: %w", tx.ID, err)
		}
	}
	r.logger.Info("transactions compacted", "user", userID, "folded", len(folded))
	return len(folded), nil
}

func (r *PartitionRepository) Export(ctx context.Context, userID string) (*model.Ledger, error) {
	acc, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := r.transactions(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	// oldest first
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return &model.Ledger{Account: *acc, Transactions: txs}, nil
}

// Import replaces everything stored for the ledger's user.
func (r *PartitionRepository) Import(ctx context.Context, l model.Ledger) error {
	userID := l.Account.UserID
	if userID == "" {
		return fmt.Errorf("import ledger: account has no user id")
	}
	existing, err := r.transactions(ctx, userID, 0)
	if err != nil {
		return err
	}
	for _, tx := range existing {
		if err := r.partition.Delete(ctx, transactionID(tx.ID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("import ledger: delete %s: %w", tx.ID, err)
		}
	}

	imported := importable(l, r.logger)
	for _, tx := range imported.Transactions {
		tx.UserID = userID
		if err := r.putTransaction(ctx, tx); err != nil {
			return fmt.Errorf("import ledger: %w", err)
		}
	}
	acc := imported.Account
	acc.ID = model.AccountID(userID)
	if err := r.putAccount(ctx, &acc); err != nil {
		return fmt.Errorf("import ledger: %w", err)
	}
	return nil
}
