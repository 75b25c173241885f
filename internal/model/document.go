package model

import "slices"

// Document is a JSON object as persisted by a document store.
type Document = map[string]any

// GeneralKey is the state entry shared by all users.
const GeneralKey = "general"

// DaysPerWeek sizes the per-task slots of a state sequence.
const DaysPerWeek = 7

type UserConfig struct {
	Name         string         `json:"name,omitempty" mapstructure:"name"`
	TasksPerWeek int            `json:"tasksPerWeek,omitempty" mapstructure:"tasksPerWeek"`
	Extra        map[string]any `json:"-" mapstructure:",remain"`
}

// TaskConfig is the typed view of the config document. Tasks are opaque;
// only their count shapes the state document.
type TaskConfig struct {
	Users         map[string]UserConfig `json:"users" mapstructure:"users"`
	GeneralTasks  []any                 `json:"generalTasks" mapstructure:"generalTasks"`
	PersonalTasks []any                 `json:"personalTasks" mapstructure:"personalTasks"`
	Messages      []string              `json:"messages" mapstructure:"messages"`
}

// UserIDs returns the configured users in a stable order.
func (c TaskConfig) UserIDs() []string {
	ids := make([]string, 0, len(c.Users))
	for id := range c.Users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// State maps a user id (or GeneralKey) to one completion flag per task slot.
type State map[string][]bool

// Completed counts the finished slots for key.
func (s State) Completed(key string) int {
	n := 0
	for _, done := range s[key] {
		if done {
			n++
		}
	}
	return n
}
