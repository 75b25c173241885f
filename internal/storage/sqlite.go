package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLite stores partitions as rows of the documents table.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Partition returns the record space named name.
func (s *SQLite) Partition(name string) Partition {
	return &sqlitePartition{db: s.db, name: name}
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqlitePartition struct {
	db   *sql.DB
	name string
}

func (p *sqlitePartition) Name() string { return p.name }

const recordCols = `id, type, owner, sort_key, data`

func scanRecord(scanner interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var data string
	if err := scanner.Scan(&r.ID, &r.Type, &r.Owner, &r.SortKey, &data); err != nil {
		return nil, err
	}
	r.Data = []byte(data)
	return &r, nil
}

func (p *sqlitePartition) Get(ctx context.Context, id string) (*Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordCols+` FROM documents WHERE partition = ? AND id = ?`,
		p.name, id,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %q: %w", id, err)
	}
	return r, nil
}

func (p *sqlitePartition) Put(ctx context.Context, rec Record) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO documents (partition, id, type, owner, sort_key, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (partition, id) DO UPDATE SET
		   type = excluded.type,
		   owner = excluded.owner,
		   sort_key = excluded.sort_key,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		p.name, rec.ID, rec.Type, rec.Owner, rec.SortKey, string(rec.Data),
	)
	if err != nil {
		return fmt.Errorf("put record %q: %w", rec.ID, err)
	}
	return nil
}

func (p *sqlitePartition) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE partition = ? AND id = ?`, p.name, id)
	if err != nil {
		return fmt.Errorf("delete record %q: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *sqlitePartition) Query(ctx context.Context, q Query) ([]Record, error) {
	query := `SELECT ` + recordCols + ` FROM documents
		WHERE partition = ? AND type = ? AND owner = ?
		ORDER BY sort_key DESC`
	args := []any{p.name, q.Type, q.Owner}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", q.Type, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}
