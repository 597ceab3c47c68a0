package permission

import (
	"encoding/json"
	"sort"
	"strings"
)

// Set is an unordered set of tags. It is used for both role names and
// permission tags. The zero value is an empty, read-only set.
type Set map[string]struct{}

// NewSet builds a Set from tags, trimming whitespace and dropping empties.
func NewSet(tags ...string) Set {
	s := make(Set, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		s[tag] = struct{}{}
	}
	return s
}

// Has reports whether tag is a member of s.
func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Slice returns the members in sorted order.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for tag := range s {
		out[tag] = struct{}{}
	}
	return out
}

// Union returns a new set holding the members of s and other.
func (s Set) Union(other Set) Set {
	out := s.Clone()
	for tag := range other {
		out[tag] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a JSON array of strings. null decodes to an empty set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewSet(tags...)
	return nil
}
