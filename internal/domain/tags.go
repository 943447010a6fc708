package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// Tags is a normalized set of lowercase labels kept in sorted order.
type Tags []string

// NewTags lowercases, trims, de-duplicates and sorts items.
func NewTags(items ...string) Tags {
	seen := make(map[string]struct{}, len(items))
	out := make(Tags, 0, len(items))
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// ParseTags splits a comma separated cell.
func ParseTags(cell string) Tags {
	return NewTags(strings.Split(cell, ",")...)
}

// Has matches item case-insensitively. t need not be normalized.
func (t Tags) Has(item string) bool {
	key := strings.TrimSpace(item)
	for _, v := range t {
		if strings.EqualFold(strings.TrimSpace(v), key) {
			return true
		}
	}
	return false
}

// Missing returns the members of required that t lacks.
func (t Tags) Missing(required Tags) Tags {
	var out Tags
	for _, r := range required {
		if strings.TrimSpace(r) == "" {
			continue
		}
		if !t.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Covers reports whether t is a superset of required.
func (t Tags) Covers(required Tags) bool {
	return len(t.Missing(required)) == 0
}

// UnmarshalJSON accepts a list of labels or a comma separated string and
// normalizes either through NewTags.
func (t *Tags) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		var cell string
		if err2 := json.Unmarshal(data, &cell); err2 != nil {
			return err
		}
		*t = ParseTags(cell)
		return nil
	}
	*t = NewTags(items...)
	return nil
}

func (t Tags) String() string {
	return strings.Join(t, ", ")
}
