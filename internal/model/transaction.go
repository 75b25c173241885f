package model

import "time"

type TransactionType string

const (
	TransactionAllowance TransactionType = "ALLOWANCE"
	TransactionBonus     TransactionType = "BONUS"
	TransactionManual    TransactionType = "MANUAL"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionAllowance, TransactionBonus, TransactionManual:
		return true
	}
	return false
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// DirectionOf derives the direction from the sign of amount.
func DirectionOf(amount float64) Direction {
	if amount >= 0 {
		return DirectionCredit
	}
	return DirectionDebit
}

type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Timestamp    time.Time       `json:"timestamp"`
	Amount       float64         `json:"amount"`
	Direction    Direction       `json:"direction"`
	Type         TransactionType `json:"type"`
	Description  *string         `json:"description"`
	BalanceAfter float64         `json:"balanceAfter"`
}

// SortKeyLayout formats timestamps so that lexical order matches time order.
const SortKeyLayout = "2006-01-02T15:04:05.000000Z"

// SortKey is the fixed-width UTC timestamp used to order transactions in storage.
func (t Transaction) SortKey() string {
	return t.Timestamp.UTC().Format(SortKeyLayout)
}

// Ledger is one user's account together with its transactions, oldest first.
type Ledger struct {
	Account      Account       `json:"account"`
	Transactions []Transaction `json:"transactions"`
}
