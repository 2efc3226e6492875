// Package manifest resolves the experience identity from the manifest an
// experience is activated with.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// IDKey is the manifest field that carries the experience identity.
const IDKey = "id"

// ErrMissingExperienceID is returned when the manifest has no usable identity.
var ErrMissingExperienceID = errors.New("manifest has no experience id")

// Manifest is the parsed experience manifest. Only the fields the bridge
// reads are typed; the rest is retained verbatim.
type Manifest struct {
	ID   string
	Name string
	Raw  map[string]any
}

// Parse decodes a JSON manifest. The identity is not required here; use
// ExperienceID to resolve it.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to decode manifest: empty document")
	}
	m := &Manifest{Raw: raw}
	if v, ok := raw[IDKey].(string); ok {
		m.ID = strings.TrimSpace(v)
	}
	if v, ok := raw["name"].(string); ok {
		m.Name = v
	}
	return m, nil
}

// ExperienceID returns the identity or ErrMissingExperienceID.
func (m *Manifest) ExperienceID() (string, error) {
	if m == nil || m.ID == "" {
		return "", ErrMissingExperienceID
	}
	return m.ID, nil
}

// ResolveExperienceID parses the manifest and resolves its identity in one step.
func ResolveExperienceID(data []byte) (string, error) {
	m, err := Parse(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingExperienceID, err)
	}
	return m.ExperienceID()
}
