package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"forumfilter/pkg/store"
)

// Users reads and writes the mode-less hide-list stored under hiddenUsers.
type Users struct {
	area Area
	log  *slog.Logger
}

// NewUsers creates the hide-list adapter.
func NewUsers(area Area, log *slog.Logger) *Users {
	if log == nil {
		log = slog.Default()
	}
	return &Users{area: area, log: log}
}

// Load returns the hidden user names. A missing key is an empty list.
func (u *Users) Load(ctx context.Context) ([]string, error) {
	var names []string
	if _, err := u.area.Get(ctx, store.KeyHiddenUsers, &names); err != nil {
		return nil, fmt.Errorf("load hidden users: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Add appends name unless the exact name is already listed.
func (u *Users) Add(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}
	added := false
	err := u.modify(ctx, func(names []string) ([]string, bool) {
		added = !slices.Contains(names, name)
		if !added {
			return names, false
		}
		return append(names, name), true
	})
	if err != nil {
		return false, err
	}
	if added {
		u.log.Info("hidden user added", "name", name)
	}
	return added, nil
}

// Remove deletes every name matching case-insensitively.
func (u *Users) Remove(ctx context.Context, name string) error {
	removed := false
	err := u.modify(ctx, func(names []string) ([]string, bool) {
		kept := slices.DeleteFunc(slices.Clone(names), func(n string) bool {
			return SameName(n, name)
		})
		removed = len(kept) != len(names)
		return kept, removed
	})
	if err != nil {
		return err
	}
	if removed {
		u.log.Info("hidden user removed", "name", name)
	}
	return nil
}

// modify applies change to the stored names inside one store update.
func (u *Users) modify(ctx context.Context, change func([]string) ([]string, bool)) error {
	err := u.area.Update(ctx, store.KeyHiddenUsers, func(get func(any) (bool, error)) (any, bool, error) {
		var names []string
		if _, err := get(&names); err != nil {
			return nil, false, err
		}
		next, changed := change(names)
		if next == nil {
			next = []string{}
		}
		return next, changed, nil
	})
	if err != nil {
		return fmt.Errorf("save hidden users: %w", err)
	}
	return nil
}
