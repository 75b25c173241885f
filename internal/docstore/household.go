package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-viper/mapstructure/v2"

	"github.com/dukerupert/chorechart/internal/model"
)

const (
	ConfigStoreName = "config"
	StateStoreName  = "state"
)

// ConfigDefaults is the empty household configuration.
func ConfigDefaults(context.Context) (model.Document, error) {
	return model.Document{
		"users":         map[string]any{},
		"generalTasks":  []any{},
		"personalTasks": []any{},
		"messages":      []any{},
	}, nil
}

// NewConfigStore returns the store holding users and task lists.
func NewConfigStore(medium Medium, logger *slog.Logger) *JSONStore {
	return New(ConfigStoreName, medium, ConfigDefaults, logger)
}

// StateDefaults sizes a fresh state document from the current config: one
// slot per personal task per day for every user, and the same for the
// general tasks. Users no longer in the config get no entry.
func StateDefaults(config Store, logger *slog.Logger) DefaultsFunc {
	return func(ctx context.Context) (model.Document, error) {
		cfg, err := LoadTaskConfig(ctx, config)
		if err != nil {
			return nil, err
		}

		doc := model.Document{}
		personal := len(cfg.PersonalTasks) * model.DaysPerWeek
		for _, id := range cfg.UserIDs() {
			if id == model.GeneralKey {
				logger.Warn("user id collides with general state entry, skipping", "user", id)
				continue
			}
			doc[id] = unchecked(personal)
		}
		doc[model.GeneralKey] = unchecked(len(cfg.GeneralTasks) * model.DaysPerWeek)
		return doc, nil
	}
}

// NewStateStore returns the store holding chore completion flags. Its
// defaults follow config at the time of each reset; Load never reshapes
// an existing document.
func NewStateStore(medium Medium, config Store, logger *slog.Logger) *JSONStore {
	return New(StateStoreName, medium, StateDefaults(config, logger), logger)
}

func unchecked(n int) []any {
	slots := make([]any, n)
	for i := range slots {
		slots[i] = false
	}
	return slots
}

// LoadTaskConfig loads the config document and decodes it.
func LoadTaskConfig(ctx context.Context, config Store) (model.TaskConfig, error) {
	doc, err := config.Load(ctx)
	if err != nil {
		return model.TaskConfig{}, err
	}
	return DecodeTaskConfig(doc)
}

// DecodeTaskConfig converts a config document into its typed view.
func DecodeTaskConfig(doc model.Document) (model.TaskConfig, error) {
	var cfg model.TaskConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, fmt.Errorf("create config decoder: %w", err)
	}
	if err := dec.Decode(doc); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// LoadState loads the state document. Entries that are not boolean
// sequences are skipped; they count as nothing completed.
func LoadState(ctx context.Context, state Store, logger *slog.Logger) (model.State, error) {
	doc, err := state.Load(ctx)
	if err != nil {
		return nil, err
	}
	return DecodeState(doc, logger), nil
}

func DecodeState(doc model.Document, logger *slog.Logger) model.State {
	st := make(model.State, len(doc))
	for key, raw := range doc {
		if flags, ok := raw.([]bool); ok {
			st[key] = flags
			continue
		}
		values, ok := raw.([]any)
		if !ok {
			logger.Warn("state entry is not a sequence", "key", key)
			continue
		}
		flags := make([]bool, len(values))
		for i, v := range values {
			b, ok := v.(bool)
			if !ok {
				logger.Warn("state entry holds a non-boolean slot", "key", key, "index", i)
			}
			flags[i] = b
		}
		st[key] = flags
	}
	return st
}
