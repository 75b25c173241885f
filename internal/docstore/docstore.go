// Package docstore persists named JSON documents with auto-initialization:
// a missing or unparseable document is replaced by the store's defaults on
// first load instead of surfacing an error.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/chorechart/internal/model"
)

var (
	// ErrNotFound is returned by a Medium that holds no document yet.
	ErrNotFound = errors.New("document not found")
	// ErrSaveFailed is returned by Reset when the defaults could not be written.
	ErrSaveFailed = errors.New("save failed")
)

var errNullDocument = errors.New("document is null")

// Store is the contract shared by every document backend.
type Store interface {
	Name() string
	// Load returns the persisted document, writing and returning the
	// defaults when the document is missing or corrupt.
	Load(ctx context.Context) (model.Document, error)
	// Save persists doc. Failures are logged and reported as false.
	Save(ctx context.Context, doc model.Document) bool
	// Reset overwrites the document with the defaults and returns them.
	Reset(ctx context.Context) (model.Document, error)
}

// Medium holds the bytes of one document.
type Medium interface {
	Describe() string
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Quarantiner is implemented by media that can set unreadable content
// aside before it is overwritten. It returns where the content went.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

// DefaultsFunc builds a fresh default document.
type DefaultsFunc func(ctx context.Context) (model.Document, error)

// JSONStore implements Store over any Medium.
type JSONStore struct {
	name     string
	medium   Medium
	defaults DefaultsFunc
	logger   *slog.Logger
}

var _ Store = (*JSONStore)(nil)

func New(name string, medium Medium, defaults DefaultsFunc, logger *slog.Logger) *JSONStore {
	return &JSONStore{
		name:     name,
		medium:   medium,
		defaults: defaults,
		logger:   logger.With("store", name, "medium", medium.Describe()),
	}
}

func (s *JSONStore) Name() string { return s.name }

func (s *JSONStore) Load(ctx context.Context) (model.Document, error) {
	data, err := s.medium.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info("document missing, initializing with defaults")
		return s.initialize(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.name, err)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		s.logger.Error("document unreadable, reinitializing with defaults", "error", err)
		s.quarantine(ctx)
		return s.initialize(ctx)
	}

	s.logger.Debug("document loaded")
	return doc, nil
}

func (s *JSONStore) quarantine(ctx context.Context) {
	q, ok := s.medium.(Quarantiner)
	if !ok {
		return
	}
	dest, err := q.Quarantine(ctx)
	if err != nil {
		s.logger.Warn("could not set unreadable document aside", "error", err)
		return
	}
	s.logger.Warn("unreadable document kept for inspection", "path", dest)
}

func (s *JSONStore) initialize(ctx context.Context) (model.Document, error) {
	doc, err := s.defaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s defaults: %w", s.name, err)
	}
	if !s.Save(ctx, doc) {
		s.logger.Error("failed to initialize document with defaults")
	}
	return doc, nil
}

func (s *JSONStore) Save(ctx context.Context, doc model.Document) bool {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode document", "error", err)
		return false
	}
	if err := s.medium.Write(ctx, data); err != nil {
		s.logger.Error("failed to save document", "error", err)
		return false
	}
	s.logger.Debug("document saved")
	return true
}

func (s *JSONStore) Reset(ctx context.Context) (model.Document, error) {
	doc, err := s.defaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s defaults: %w", s.name, err)
	}
	if !s.Save(ctx, doc) {
		return nil, fmt.Errorf("reset %s: %w", s.name, ErrSaveFailed)
	}
	s.logger.Info("document reset to defaults")
	return doc, nil
}

func decodeDocument(data []byte) (model.Document, error) {
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errNullDocument
	}
	return doc, nil
}
