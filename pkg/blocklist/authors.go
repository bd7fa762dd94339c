package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"forumfilter/pkg/store"
)

// ErrEmptyName is returned when a blank name is added.
var ErrEmptyName = errors.New("empty author name")

// Area is the part of a store area the adapters need.
type Area interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, values map[string]any) error
	Update(ctx context.Context, key string, fn store.UpdateFunc) error
}

// BlockedAuthor is one entry of the block-list.
type BlockedAuthor struct {
	Name string `json:"name" mapstructure:"name"`
	Mode Mode   `json:"mode" mapstructure:"mode"`
}

// Authors reads and writes the block-list stored under blockedAuthors.
// Every mutation re-reads the list first; nothing is cached.
type Authors struct {
	area Area
	log  *slog.Logger
}

// NewAuthors creates the block-list adapter.
func NewAuthors(area Area, log *slog.Logger) *Authors {
	if log == nil {
		log = slog.Default()
	}
	return &Authors{area: area, log: log}
}

// Load returns the block-list in stored order. Legacy entries are upgraded to
// records and, when anything changed, the upgraded list is persisted before
// returning.
func (a *Authors) Load(ctx context.Context) ([]BlockedAuthor, error) {
	var raw []any
	found, err := a.area.Get(ctx, store.KeyBlockedAuthors, &raw)
	if err != nil {
		return nil, fmt.Errorf("load blocked authors: %w", err)
	}
	if !found {
		return []BlockedAuthor{}, nil
	}

	entries, migrated := migrate(raw, a.log)
	if !migrated {
		return entries, nil
	}
	err = a.modify(ctx, func(current []BlockedAuthor) ([]BlockedAuthor, bool, error) {
		entries = current
		return current, false, nil
	})
	if err != nil {
		return nil, err
	}
	a.log.Info("migrated legacy blocked authors", "entries", len(entries))
	return entries, nil
}

// Save replaces the stored list.
func (a *Authors) Save(ctx context.Context, entries []BlockedAuthor) error {
	if entries == nil {
		entries = []BlockedAuthor{}
	}
	if err := a.area.Set(ctx, map[string]any{store.KeyBlockedAuthors: entries}); err != nil {
		return fmt.Errorf("save blocked authors: %w", err)
	}
	return nil
}

// modify runs change on the migrated list inside one store update. The list
// is written when change reports a change or when migration altered it.
func (a *Authors) modify(ctx context.Context, change func([]BlockedAuthor) ([]BlockedAuthor, bool, error)) error {
	err := a.area.Update(ctx, store.KeyBlockedAuthors, func(get func(any) (bool, error)) (any, bool, error) {
		var raw []any
		if _, err := get(&raw); err != nil {
			return nil, false, err
		}
		entries, migrated := migrate(raw, a.log)
		next, changed, err := change(entries)
		if err != nil || !(changed || migrated) {
			return nil, false, err
		}
		if next == nil {
			next = []BlockedAuthor{}
		}
		return next, true, nil
	})
	if err != nil {
		return fmt.Errorf("save blocked authors: %w", err)
	}
	return nil
}

// Add appends name with mode Both. It reports false without error when the
// name is already present under case-insensitive comparison.
func (a *Authors) Add(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}
	added := false
	err := a.modify(ctx, func(entries []BlockedAuthor) ([]BlockedAuthor, bool, error) {
		added = false
		for _, entry := range entries {
			if SameName(entry.Name, name) {
				a.log.Debug("author already blocked", "name", entry.Name)
				return entries, false, nil
			}
		}
		added = true
		return append(entries, BlockedAuthor{Name: name, Mode: Both}), true, nil
	})
	if err != nil {
		return false, err
	}
	if added {
		a.log.Info("blocked author added", "name", name)
	}
	return added, nil
}

// Remove deletes every entry matching name case-insensitively. Removing an
// absent name succeeds.
func (a *Authors) Remove(ctx context.Context, name string) error {
	removed := false
	err := a.modify(ctx, func(entries []BlockedAuthor) ([]BlockedAuthor, bool, error) {
		kept := make([]BlockedAuthor, 0, len(entries))
		for _, entry := range entries {
			if SameName(entry.Name, name) {
				continue
			}
			kept = append(kept, entry)
		}
		removed = len(kept) != len(entries)
		return kept, removed, nil
	})
	if err != nil {
		return err
	}
	if removed {
		a.log.Info("blocked author removed", "name", name)
	}
	return nil
}

// Toggle advances the mode of the matching entry along the cycle and returns
// the new mode. It reports false when no entry matches.
func (a *Authors) Toggle(ctx context.Context, name string) (Mode, bool, error) {
	return a.update(ctx, name, Mode.Next)
}

// SetMode assigns mode to the matching entry.
func (a *Authors) SetMode(ctx context.Context, name string, mode Mode) (bool, error) {
	if !mode.Valid() {
		return false, fmt.Errorf("invalid mode: %q", string(mode))
	}
	_, ok, err := a.update(ctx, name, func(Mode) Mode { return mode })
	return ok, err
}

func (a *Authors) update(ctx context.Context, name string, next func(Mode) Mode) (Mode, bool, error) {
	var (
		found    BlockedAuthor
		from, to Mode
		ok       bool
	)
	err := a.modify(ctx, func(entries []BlockedAuthor) ([]BlockedAuthor, bool, error) {
		ok = false
		for i, entry := range entries {
			if !SameName(entry.Name, name) {
				continue
			}
			found, from = entry, entry.Mode
			entries[i].Mode = next(entry.Mode)
			to, ok = entries[i].Mode, true
			return entries, true, nil
		}
		return entries, false, nil
	})
	if err != nil || !ok {
		return "", false, err
	}
	a.log.Info("blocked author mode changed", "name", found.Name, "from", from, "to", to)
	return to, true, nil
}

// migrate normalizes stored values: plain strings and records without a valid
// mode become mode Both, blank names are dropped and case-insensitive
// duplicates keep their first occurrence.
func migrate(raw []any, log *slog.Logger) ([]BlockedAuthor, bool) {
	entries := make([]BlockedAuthor, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	migrated := false

	for _, value := range raw {
		var entry BlockedAuthor
		switch v := value.(type) {
		case string:
			entry = BlockedAuthor{Name: v, Mode: Both}
			migrated = true
		case map[string]any:
			if err := mapstructure.Decode(v, &entry); err != nil {
				log.Warn("dropping unreadable blocked author", "entry", v, "error", err)
				migrated = true
				continue
			}
			if !entry.Mode.Valid() {
				entry.Mode = Both
				migrated = true
			}
		default:
			log.Warn("dropping unreadable blocked author", "entry", v)
			migrated = true
			continue
		}

		key := Normalize(entry.Name)
		if key == "" {
			migrated = true
			continue
		}
		if _, dup := seen[key]; dup {
			migrated = true
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, entry)
	}
	return entries, migrated
}
