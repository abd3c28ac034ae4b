package mapping

import (
	"errors"
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"shopsync/internal/models"
)

// ErrInvalidValue is returned when a record value cannot pass a transform.
// It is a per-record error.
var ErrInvalidValue = errors.New("invalid value")

type step struct {
	name string
	arg  string
	fn   func(v *string, arg string) (*string, error)
}

// Pipeline is a parsed transform string such as "trim|number|default:0".
type Pipeline []step

var transforms = map[string]func(v *string, arg string) (*string, error){
	"trim":             trimValue,
	"upper":            mapString(strings.ToUpper),
	"lower":            mapString(strings.ToLower),
	"number":           toNumber,
	"cast_numeric":     toNumber,
	"int":              toInt,
	"default":          defaultValue,
	"default_if_empty": defaultValue,
	"strip_tags":       stripTags,
	"bool":             toBool,
}

// ParseTransform parses a pipeline. Unknown steps are configuration errors.
func ParseTransform(raw string) (Pipeline, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, "|")
	out := make(Pipeline, 0, len(parts))
	for _, part := range parts {
		name, arg, _ := strings.Cut(strings.TrimSpace(part), ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("%w: empty transform in %q", models.ErrInvalidConfig, raw)
		}
		fn, ok := transforms[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown transform %q", models.ErrInvalidConfig, name)
		}
		out = append(out, step{name: name, arg: arg, fn: fn})
	}
	return out, nil
}

// Apply runs every step in order. A nil value means the source had no value.
func (p Pipeline) Apply(v *string) (*string, error) {
	for _, s := range p {
		var err error
		v, err = s.fn(v, s.arg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return v, nil
}

func trimValue(v *string, _ string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	out := strings.TrimSpace(*v)
	return &out, nil
}

func mapString(fn func(string) string) func(*string, string) (*string, error) {
	return func(v *string, _ string) (*string, error) {
		if v == nil {
			return nil, nil
		}
		out := fn(*v)
		return &out, nil
	}
}

var numberCleaner = strings.NewReplacer(" ", "", "\u00a0", "", "\t", "", ",", ".")

// parseNumber accepts "1234.5", "1234,5", "1 234,50" and "1.234,50".
func parseNumber(raw string) (float64, bool, error) {
	clean := strings.TrimSpace(raw)
	if dot, comma := strings.LastIndex(clean, "."), strings.LastIndex(clean, ","); dot >= 0 && comma >= 0 {
		// Whichever separator comes last is the decimal one.
		if dot > comma {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.ReplaceAll(clean, ".", "")
		}
	}
	clean = numberCleaner.Replace(clean)
	if clean == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, raw)
	}
	return f, true, nil
}

func toNumber(v *string, _ string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	f, ok, err := parseNumber(*v)
	if err != nil {
		return nil, err
	}
	if !ok {
		empty := ""
		return &empty, nil
	}
	out := strconv.FormatFloat(f, 'f', -1, 64)
	return &out, nil
}

func toInt(v *string, _ string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	f, ok, err := parseNumber(*v)
	if err != nil {
		return nil, err
	}
	if !ok {
		empty := ""
		return &empty, nil
	}
	out := strconv.FormatInt(int64(math.Round(f)), 10)
	return &out, nil
}

func defaultValue(v *string, arg string) (*string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		out := arg
		return &out, nil
	}
	return v, nil
}

var tagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

func stripTags(v *string, _ string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	out := strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(*v, " ")))
	out = strings.Join(strings.Fields(out), " ")
	return &out, nil
}

func toBool(v *string, _ string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	var out string
	switch strings.ToLower(strings.TrimSpace(*v)) {
	case "1", "true", "t", "yes", "y", "tak", "on":
		out = "true"
	case "0", "false", "f", "no", "n", "nie", "off", "":
		out = "false"
	default:
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, *v)
	}
	return &out, nil
}
