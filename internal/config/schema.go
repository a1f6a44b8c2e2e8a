// Package config resolves the layered pipeline configuration: built-in
// defaults, then an optional YAML/JSON file, then explicit overrides, each
// layer validated against the declared schema before any unit runs.
package config

import "fmt"

// Kind is the declared type of a parameter.
type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Param declares one configuration key: its type, default value, and
// optional enum / numeric-range constraints.
type Param struct {
	Kind    Kind
	Default any
	Enum    []any    // allowed values; empty means unconstrained
	Min     *float64 // inclusive lower bound for Int/Float
	Max     *float64 // inclusive upper bound for Int/Float
}

// Schema maps section name -> key -> declaration.
type Schema map[string]map[string]Param

// ValidationError reports a configuration value that violates the schema.
// Always fatal for the whole run.
type ValidationError struct {
	Section string
	Key     string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config validation: section %q: %s", e.Section, e.Reason)
	}
	return fmt.Sprintf("config validation: %s.%s: %s", e.Section, e.Key, e.Reason)
}

func ptr(v float64) *float64 { return &v }

// Default returns the built-in schema with its default values. Sections
// mirror the pipeline stages plus "general".
func Default() Schema {
	return Schema{
		"general": {
			"line_freq":    {Kind: Int, Default: 60, Enum: []any{50, 60}},
			"default_task": {Kind: String, Default: ""},
		},
		"preproc": {
			"highpass":       {Kind: Float, Default: 0.3, Min: ptr(0)},
			"lowpass":        {Kind: Float, Default: 100.0, Min: ptr(0)},
			"notch":          {Kind: Bool, Default: true},
			"resample":       {Kind: Float, Default: 0.0, Min: ptr(0)},
			"detect_cardiac": {Kind: Bool, Default: true},
			"detect_blink":   {Kind: Bool, Default: true},
			"ssp":            {Kind: Bool, Default: true},
		},
		"sensor": {
			"psd_window_sec": {Kind: Float, Default: 4.0, Min: ptr(0.1)},
			"epoch_tmin":     {Kind: Float, Default: -0.2, Min: ptr(-60), Max: ptr(60)},
			"epoch_tmax":     {Kind: Float, Default: 0.5, Min: ptr(-60), Max: ptr(60)},
			"tf_method":      {Kind: String, Default: "multitaper", Enum: []any{"multitaper", "morlet"}},
		},
		"source": {
			"method":          {Kind: String, Default: "dspm", Enum: []any{"dspm", "sloreta", "mne", "lcmv"}},
			"snr":             {Kind: Float, Default: 3.0, Min: ptr(0.001)},
			"head_model":      {Kind: String, Default: "overlapping-spheres", Enum: []any{"overlapping-spheres", "openmeeg"}},
			"depth_weighting": {Kind: Float, Default: 0.5, Min: ptr(0), Max: ptr(1)},
		},
	}
}
