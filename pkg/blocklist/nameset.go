package blocklist

import (
	"strings"

	"golang.org/x/text/cases"
)

// Normalize folds a name for case-insensitive comparison.
func Normalize(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	return cases.Fold().String(trimmed)
}

// SameName compares two names case-insensitively.
func SameName(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// AuthorSet indexes blocked authors by folded name for exact lookups.
type AuthorSet struct {
	entries []BlockedAuthor
	byName  map[string]int
}

// NewAuthorSet builds a set. Later duplicates of a folded name are ignored.
func NewAuthorSet(entries []BlockedAuthor) *AuthorSet {
	s := &AuthorSet{byName: make(map[string]int, len(entries))}
	for _, entry := range entries {
		key := Normalize(entry.Name)
		if key == "" {
			continue
		}
		if _, ok := s.byName[key]; ok {
			continue
		}
		s.byName[key] = len(s.entries)
		s.entries = append(s.entries, entry)
	}
	return s
}

// Len returns the number of distinct authors.
func (s *AuthorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the authors in list order.
func (s *AuthorSet) Entries() []BlockedAuthor {
	if s == nil {
		return nil
	}
	return s.entries
}

// Match returns the blocked author whose name equals name case-insensitively.
// Partial matches never count.
func (s *AuthorSet) Match(name string) (BlockedAuthor, bool) {
	if s == nil {
		return BlockedAuthor{}, false
	}
	key := Normalize(name)
	if key == "" {
		return BlockedAuthor{}, false
	}
	idx, ok := s.byName[key]
	if !ok {
		return BlockedAuthor{}, false
	}
	return s.entries[idx], true
}
