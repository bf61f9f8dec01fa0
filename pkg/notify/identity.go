package notify

import (
	"encoding/json"
	"fmt"
)

// IdentityMap maps Bitbucket user identifiers (email addresses) to Slack
// user identifiers. It is read-only after construction and safe for
// concurrent use.
type IdentityMap struct {
	ids map[string]string
}

// NewIdentityMap copies entries into a new IdentityMap.
func NewIdentityMap(entries map[string]string) IdentityMap {
	ids := make(map[string]string, len(entries))
	for source, target := range entries {
		ids[source] = target
	}
	return IdentityMap{ids: ids}
}

// ParseIdentityMap decodes a JSON object of source to target identifiers.
func ParseIdentityMap(data []byte) (IdentityMap, error) {
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return IdentityMap{}, fmt.Errorf("parse identity map: %w", err)
	}
	return NewIdentityMap(entries), nil
}

// Resolve returns the mapped identifier for id, or id itself when no mapping
// exists so that unmapped users still receive their notification.
func (m IdentityMap) Resolve(id string) string {
	if target, ok := m.ids[id]; ok && target != "" {
		return target
	}
	return id
}

// Len reports the number of mapped identities.
func (m IdentityMap) Len() int {
	return len(m.ids)
}

// Entries returns a copy of the mapping.
func (m IdentityMap) Entries() map[string]string {
	out := make(map[string]string, len(m.ids))
	for source, target := range m.ids {
		out[source] = target
	}
	return out
}
