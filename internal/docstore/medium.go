package docstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dukerupert/chorechart/internal/storage"
)

// FileMedium keeps a document in a local JSON file.
type FileMedium struct {
	Path string
}

func (m FileMedium) Describe() string { return "file:" + m.Path }

func (m FileMedium) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Write replaces the file through a rename so readers never see a partial
// document.
func (m FileMedium) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(m.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(m.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.Path); err != nil {
		return fmt.Errorf("replace %s: %w", m.Path, err)
	}
	return nil
}

const corruptSuffixLayout = "20060102T150405.000000000Z"

// Quarantine renames the file to <path>.corrupt-<UTC timestamp>.
func (m FileMedium) Quarantine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := m.Path + ".corrupt-" + time.Now().UTC().Format(corruptSuffixLayout)
	if err := os.Rename(m.Path, dest); err != nil {
		return "", fmt.Errorf("move %s aside: %w", m.Path, err)
	}
	return dest, nil
}

// RecordMedium keeps a document as a record of a storage partition.
type RecordMedium struct {
	Partition storage.Partition
	ID        string
	Type      string
}

func (m RecordMedium) Describe() string {
	return "partition:" + m.Partition.Name() + "/" + m.ID
}

func (m RecordMedium) Read(ctx context.Context) ([]byte, error) {
	rec, err := m.Partition.Get(ctx, m.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

func (m RecordMedium) Write(ctx context.Context, data []byte) error {
	return m.Partition.Put(ctx, storage.Record{ID: m.ID, Type: m.Type, Data: data})
}
