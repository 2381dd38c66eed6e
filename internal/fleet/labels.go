package fleet

import (
	"fmt"
	"sort"
	"strings"
)

// LabelSet is an unordered set of job requirement labels. Labels are
// matched case-insensitively and stored lowercase.
type LabelSet map[string]struct{}

func NewLabelSet(labels ...string) LabelSet {
	s := make(LabelSet, len(labels))
	for _, l := range labels {
		s.Add(l)
	}
	return s
}

func (s LabelSet) Add(label string) {
	s[strings.ToLower(label)] = struct{}{}
}

func (s LabelSet) Has(label string) bool {
	_, ok := s[strings.ToLower(label)]
	return ok
}

// IsSubset reports whether every label in s is also in of.
func (s LabelSet) IsSubset(of LabelSet) bool {
	for l := range s {
		if _, ok := of[l]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the labels in lexical order.
func (s LabelSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Join returns the sorted labels joined by sep.
func (s LabelSet) Join(sep string) string {
	return strings.Join(s.Sorted(), sep)
}

// EncodeLabels converts a label set into the provider label map carried
// on a server: one indexed entry per label plus the SSH key marker.
func EncodeLabels(labels LabelSet, sshKey string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for i, l := range labels.Sorted() {
		out[fmt.Sprintf("%s%d", LabelKeyPrefix, i)] = l
	}
	out[SSHKeyLabel] = sshKey
	return out
}

// DecodeLabels reconstructs a label set from a provider label map,
// ignoring entries outside the fleet label namespace.
func DecodeLabels(providerLabels map[string]string) LabelSet {
	s := NewLabelSet()
	for k, v := range providerLabels {
		if strings.HasPrefix(k, LabelKeyPrefix) {
			s.Add(v)
		}
	}
	return s
}
