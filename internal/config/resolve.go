package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Layer is one raw configuration layer: section -> key -> value.
type Layer map[string]map[string]any

// Effective is the resolved, immutable configuration. Access is by copy;
// nothing hands out internal maps.
type Effective struct {
	sections map[string]map[string]any
}

// LoadFile reads a YAML or JSON configuration file into a Layer. JSON parses
// as a subset of YAML, so one loader covers both.
func LoadFile(path string) (Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	var l Layer
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return l, nil
}

// Resolve merges defaults < file < overrides into an Effective configuration.
// Merge is shallow per section, deep per key. Unknown sections or keys in
// file/overrides and any type, enum, or range violation yield a
// ValidationError; nothing is silently ignored.
func Resolve(schema Schema, file, overrides Layer) (*Effective, error) {
	eff := &Effective{sections: make(map[string]map[string]any, len(schema))}
	for section, params := range schema {
		m := make(map[string]any, len(params))
		for key, p := range params {
			m[key] = p.Default
		}
		eff.sections[section] = m
	}

	for _, layer := range []Layer{file, overrides} {
		if err := apply(eff, schema, layer); err != nil {
			return nil, err
		}
	}
	return eff, nil
}

func apply(eff *Effective, schema Schema, layer Layer) error {
	sections := make([]string, 0, len(layer))
	for s := range layer {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	for _, section := range sections {
		params, ok := schema[section]
		if !ok {
			return &ValidationError{Section: section, Reason: "unknown section"}
		}
		keys := make([]string, 0, len(layer[section]))
		for k := range layer[section] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			p, ok := params[key]
			if !ok {
				return &ValidationError{Section: section, Key: key, Reason: "unknown key"}
			}
			v, err := coerce(section, key, p, layer[section][key])
			if err != nil {
				return err
			}
			eff.sections[section][key] = v
		}
	}
	return nil
}

// coerce checks a raw layer value against the declaration and normalizes its
// Go type (YAML may deliver ints where floats are declared, and vice versa
// for whole floats).
func coerce(section, key string, p Param, raw any) (any, error) {
	fail := func(reason string) (any, error) {
		return nil, &ValidationError{Section: section, Key: key, Reason: reason}
	}

	switch p.Kind {
	case String:
		s, ok := raw.(string)
		if !ok {
			return fail(fmt.Sprintf("expected string, got %T", raw))
		}
		if len(p.Enum) > 0 && !inEnum(p.Enum, s) {
			return fail(fmt.Sprintf("value %q not in %v", s, p.Enum))
		}
		return s, nil

	case Bool:
		b, ok := raw.(bool)
		if !ok {
			return fail(fmt.Sprintf("expected bool, got %T", raw))
		}
		return b, nil

	case Int:
		n, ok := asInt(raw)
		if !ok {
			return fail(fmt.Sprintf("expected int, got %T", raw))
		}
		if err := checkRange(p, float64(n)); err != "" {
			return fail(err)
		}
		if len(p.Enum) > 0 && !inEnum(p.Enum, n) {
			return fail(fmt.Sprintf("value %d not in %v", n, p.Enum))
		}
		return n, nil

	case Float:
		f, ok := asFloat(raw)
		if !ok {
			return fail(fmt.Sprintf("expected float, got %T", raw))
		}
		if err := checkRange(p, f); err != "" {
			return fail(err)
		}
		return f, nil
	}
	return fail("unsupported parameter kind")
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	}
	return 0, false
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func checkRange(p Param, v float64) string {
	if p.Min != nil && v < *p.Min {
		return fmt.Sprintf("value %g below minimum %g", v, *p.Min)
	}
	if p.Max != nil && v > *p.Max {
		return fmt.Sprintf("value %g above maximum %g", v, *p.Max)
	}
	return ""
}

func inEnum(enum []any, v any) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

// Section returns a copy of one resolved section; unknown names yield an
// empty map.
func (e *Effective) Section(name string) map[string]any {
	src, ok := e.sections[name]
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// MarshalCanonical encodes the whole configuration as canonical JSON
// (lexicographically sorted keys). Identical inputs to Resolve always yield
// byte-identical output, so sidecars can embed it for reproducibility.
func (e *Effective) MarshalCanonical() ([]byte, error) {
	// encoding/json sorts map keys, which is exactly the canonical form needed.
	return json.Marshal(e.sections)
}

// Fingerprint is the hex sha256 of the canonical encoding.
func (e *Effective) Fingerprint() string {
	data, err := e.MarshalCanonical()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
