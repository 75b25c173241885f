package model

import (
	"encoding/json"
	"maps"
	"strconv"
	"time"
)

const (
	SettingWeeklyAllowance   = "weeklyAllowance"
	SettingTasksPerWeek      = "tasksPerWeek"
	SettingBonusPerExtraTask = "bonusPerExtraTask"
	SettingMaximumExtraTasks = "maximumExtraTasks"
)

const DefaultCurrency = "EUR"

// Settings is an open map so callers can store keys the core does not know
// about; the settlement keys have typed accessors.
type Settings map[string]any

// DefaultSettings returns a fresh copy of the settings given to new accounts.
func DefaultSettings() Settings {
	return Settings{
		SettingWeeklyAllowance:   2.0,
		SettingTasksPerWeek:      5,
		SettingBonusPerExtraTask: 0.2,
		SettingMaximumExtraTasks: 3,
	}
}

// Clone returns a shallow copy.
func (s Settings) Clone() Settings {
	if s == nil {
		return Settings{}
	}
	return maps.Clone(s)
}

// Float reads key as a number. Missing or non-numeric values read as 0.
func (s Settings) Float(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// Int reads key as a whole number, truncating fractions.
func (s Settings) Int(key string) int {
	return int(s.Float(key))
}

type Account struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	CurrentBalance float64    `json:"currentBalance"`
	Currency       string     `json:"currency"`
	Settings       Settings   `json:"settings"`
	LastUpdated    *time.Time `json:"lastUpdated"`
	Version        int        `json:"version"`
}

// AccountID is the id of userID's account document.
func AccountID(userID string) string {
	return "account:" + userID
}

// NewAccount returns the zero-balance account created on first access.
func NewAccount(userID string) *Account {
	return &Account{
		ID:             AccountID(userID),
		UserID:         userID,
		CurrentBalance: 0,
		Currency:       DefaultCurrency,
		Settings:       DefaultSettings(),
		LastUpdated:    nil,
		Version:        1,
	}
}

// Touch records a mutating write.
func (a *Account) Touch(now time.Time) {
	t := now.UTC()
	a.LastUpdated = &t
	a.Version++
}
