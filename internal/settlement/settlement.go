// Package settlement pays out the weekly allowance and starts a new week.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/chorechart/internal/docstore"
	"github.com/dukerupert/chorechart/internal/ledger"
	"github.com/dukerupert/chorechart/internal/model"
)

// UserReport is what settlement did for one user.
type UserReport struct {
	UserID     string             `json:"userId"`
	Completed  int                `json:"completed"`
	ExtraTasks int                `json:"extraTasks"`
	Allowance  *model.Transaction `json:"allowance"`
	Bonus      *model.Transaction `json:"bonus,omitempty"`
	Balance    float64            `json:"balance"`
	Compacted  int                `json:"compacted"`
}

type Report struct {
	SettledAt time.Time    `json:"settledAt"`
	Users     []UserReport `json:"users"`
}

type Settler struct {
	config    docstore.Store
	state     docstore.Store
	repo      ledger.Repository
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New builds a Settler. A positive retention compacts each ledger after
// paying out.
func New(config, state docstore.Store, repo ledger.Repository, retention time.Duration, logger *slog.Logger) *Settler {
	return &Settler{
		config:    config,
		state:     state,
		repo:      repo,
		retention: retention,
		now:       time.Now,
		logger:    logger.With("component", "settlement"),
	}
}

// ExtraTasks is the number of tasks beyond the weekly target that earn a
// bonus, capped at maxExtra.
func ExtraTasks(completed, tasksPerWeek, maxExtra int) int {
	extra := completed - tasksPerWeek
	return max(0, min(extra, maxExtra))
}

// Settle pays every configured user, then resets the state document.
// Ledgers already paid stay paid if a later user fails.
func (s *Settler) Settle(ctx context.Context) (*Report, error) {
	cfg, err := docstore.LoadTaskConfig(ctx, s.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := docstore.LoadState(ctx, s.state, s.logger)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	report := &Report{SettledAt: s.now().UTC(), Users: []UserReport{}}
	for _, userID := range cfg.UserIDs() {
		if userID == model.GeneralKey {
			continue
		}
		ur, err := s.settleUser(ctx, userID, st.Completed(userID))
		if err != nil {
			return report, fmt.Errorf("settle %s: %w", userID, err)
		}
		report.Users = append(report.Users, ur)
	}

	if _, err := s.state.Reset(ctx); err != nil {
		return report, fmt.Errorf("reset state: %w", err)
	}

	if s.retention > 0 {
		before := report.SettledAt.Add(-s.retention)
		for i := range report.Users {
			n, err := s.repo.Compact(ctx, report.Users[i].UserID, before)
			if err != nil {
				return report, fmt.Errorf("compact %s: %w", report.Users[i].UserID, err)
			}
			report.Users[i].Compacted = n
		}
	}

	s.logger.Info("week settled", "users", len(report.Users))
	return report, nil
}

func (s *Settler) settleUser(ctx context.Context, userID string, completed int) (UserReport, error) {
	acc, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return UserReport{}, err
	}
	settings := acc.Settings
	extra := ExtraTasks(completed,
		settings.Int(model.SettingTasksPerWeek),
		settings.Int(model.SettingMaximumExtraTasks))

	ur := UserReport{UserID: userID, Completed: completed, ExtraTasks: extra}

	allowanceDesc := fmt.Sprintf("Weekly allowance (%d tasks completed)", completed)
	acc, ur.Allowance, err = s.repo.AddTransaction(ctx, userID,
		settings.Float(model.SettingWeeklyAllowance), model.TransactionAllowance, &allowanceDesc)
	if err != nil {
		return ur, err
	}

	if extra > 0 {
		bonus := decimal.NewFromFloat(settings.Float(model.SettingBonusPerExtraTask)).
			Mul(decimal.NewFromInt(int64(extra))).
			InexactFloat64()
		bonusDesc := fmt.Sprintf("Bonus for %d extra tasks", extra)
		acc, ur.Bonus, err = s.repo.AddTransaction(ctx, userID, bonus, model.TransactionBonus, &bonusDesc)
		if err != nil {
			return ur, err
		}
	}

	ur.Balance = acc.CurrentBalance
	s.logger.Info("user settled", "user", userID, "completed", completed, "extra", extra, "balance", ur.Balance)
	return ur, nil
}
