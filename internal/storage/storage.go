// Package storage provides per-tenant record spaces backed by an embedded
// SQLite database or a MongoDB cluster.
package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a record does not exist in a partition.
var ErrNotFound = errors.New("record not found")

// Record kinds stored in a partition.
const (
	TypeConfig      = "config"
	TypeState       = "state"
	TypeAccount     = "account"
	TypeTransaction = "transaction"
)

// Record is one JSON document inside a partition. Type discriminates the
// document kind, Owner scopes it to a user and SortKey orders queries.
type Record struct {
	ID      string
	Type    string
	Owner   string
	SortKey string
	Data    json.RawMessage
}

// Query selects records of one type and owner, newest SortKey first.
// A Limit of zero returns every match.
type Query struct {
	Type  string
	Owner string
	Limit int
}

// Partition is the record space of a single tenant.
type Partition interface {
	Name() string
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, q Query) ([]Record, error)
}
