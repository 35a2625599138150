// Package configutil validates and decodes the free-form settings maps
// that vendor config blocks carry. Providers declare a Schema for their
// settings and decode the map into a typed struct; key matching ignores
// case, underscores, and hyphens so YAML authors get some slack.
package configutil

import (
	"errors"
	"sort"
	"strings"
)

// Schema names the keys a settings map may carry. Required keys must be
// present and non-empty.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// ValidateSettings checks input against schema and reports every missing
// and unknown key in one error.
func ValidateSettings(input map[string]any, schema Schema) error {
	required := make(map[string]string, len(schema.Required))
	for _, k := range schema.Required {
		required[normalizeKey(k)] = k
	}
	known := make(map[string]struct{}, len(schema.Required)+len(schema.Optional))
	for k := range required {
		known[k] = struct{}{}
	}
	for _, k := range schema.Optional {
		known[normalizeKey(k)] = struct{}{}
	}

	var missing, unknown []string
	for k, v := range input {
		nk := normalizeKey(k)
		if _, ok := known[nk]; !ok && !schema.AllowUnknown {
			unknown = append(unknown, k)
		}
		if orig, ok := required[nk]; ok {
			if emptySettingValue(v) {
				missing = append(missing, orig)
			}
			delete(required, nk)
		}
	}
	for _, orig := range required {
		missing = append(missing, orig)
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

func emptySettingValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
