// Package mapping translates source file headers to canonical field names.
package mapping

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inventory-importer/internal/models"
)

// FieldMapping maps a normalized source header to a canonical field
type FieldMapping map[string]string

// NormalizeHeader applies the same normalization the decoder applies to headers
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// ParseMapping parses the JSON mapping supplied with an import request.
// An empty payload yields a nil mapping, which means pass-through.
func ParseMapping(payload string) (FieldMapping, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == "null" || payload == "{}" {
		return nil, nil
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("mapping must be a JSON object of header to field: %w", err)
	}

	return New(raw)
}

// New normalizes a mapping. Empty targets are dropped and two sources may
// not claim the same target.
func New(raw map[string]string) (FieldMapping, error) {
	out := make(FieldMapping, len(raw))
	claimed := make(map[string]string, len(raw))
	for source, target := range raw {
		source = NormalizeHeader(source)
		target = strings.TrimSpace(target)
		if source == "" || target == "" {
			continue
		}
		if prev, ok := claimed[target]; ok && prev != source {
			return nil, fmt.Errorf("columns %q and %q are both mapped to %q", prev, source, target)
		}
		claimed[target] = source
		out[source] = target
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Validate checks that every target is one of the allowed canonical fields
func (m FieldMapping) Validate(allowed []string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
	}
	for source, target := range m {
		if _, ok := set[target]; !ok {
			return fmt.Errorf("column %q is mapped to unknown field %q", source, target)
		}
	}
	return nil
}

// Remap applies the mapping to a decoded record. A non-empty mapping is a
// projection: columns it does not mention are dropped. A nil or empty
// mapping returns the record unchanged.
func Remap(raw models.RawRecord, m FieldMapping) models.RawRecord {
	if len(m) == 0 {
		return raw
	}
	out := make(models.RawRecord, len(m))
	for source, target := range m {
		if value, ok := raw[source]; ok {
			out[target] = value
		}
	}
	return out
}
