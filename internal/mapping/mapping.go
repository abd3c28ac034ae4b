// Package mapping validates profile field mappings and renders parsed records
// into target payloads.
package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"shopsync/internal/models"
	"shopsync/internal/parser"
)

var allowedTargets = map[models.TargetType][]string{
	models.TargetTypeProduct: {
		"name", "sku", "ean", "description",
		"sale_price_net", "sale_price_gross", "purchase_price_net", "vat_rate",
		"stock_quantity", "delivery_days",
		"category", "manufacturer", "weight", "external_id",
	},
	models.TargetTypeCategory: {"name", "parent", "description", "external_id"},
}

// TargetFields lists the allowed target fields for a target type.
func TargetFields(t models.TargetType) []string {
	fields := allowedTargets[t]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

func allowed(t models.TargetType, field string) bool {
	for _, f := range allowedTargets[t] {
		if f == field {
			return true
		}
	}
	return false
}

// Payload holds the mapped target fields of one record.
type Payload map[string]string

func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Float parses a mapped numeric field. Missing or empty values report false.
func (p Payload) Float(key string) (float64, bool, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false, nil
	}
	f, ok, err := parseNumber(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return f, ok, nil
}

func (p Payload) Int(key string) (int64, bool, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false, nil
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
		return n, true, nil
	}
	f, ok, err := p.Float(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return int64(f), true, nil
}

type rule struct {
	models.MappingRule
	source   string
	pipeline Pipeline
}

// Set is a compiled, validated mapping set.
type Set struct {
	rules []rule
}

func normalizeRule(r models.MappingRule) models.MappingRule {
	r.TargetType = models.TargetType(strings.ToLower(strings.TrimSpace(string(r.TargetType))))
	r.SourceField = strings.TrimSpace(r.SourceField)
	r.TargetField = strings.ToLower(strings.TrimSpace(r.TargetField))
	r.Transform = strings.TrimSpace(r.Transform)
	return r
}

// Compile validates rules without header knowledge.
func Compile(rules []models.MappingRule) (*Set, error) {
	set := &Set{rules: make([]rule, 0, len(rules))}
	seen := make(map[string]struct{}, len(rules))
	for i, raw := range rules {
		r := normalizeRule(raw)
		if _, ok := allowedTargets[r.TargetType]; !ok {
			return nil, fmt.Errorf("%w: mapping %d: unknown target type %q", models.ErrInvalidConfig, i+1, r.TargetType)
		}
		if r.SourceField == "" {
			return nil, fmt.Errorf("%w: mapping %d: source field is required", models.ErrInvalidConfig, i+1)
		}
		if !allowed(r.TargetType, r.TargetField) {
			return nil, fmt.Errorf("%w: mapping %d: %q is not a %s field", models.ErrInvalidConfig, i+1, r.TargetField, r.TargetType)
		}
		pipeline, err := ParseTransform(r.Transform)
		if err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i+1, err)
		}
		source := parser.NormalizeKey(r.SourceField)
		key := string(r.TargetType) + "\x00" + source
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: mapping %d: %s source %q is mapped twice", models.ErrInvalidConfig, i+1, r.TargetType, r.SourceField)
		}
		seen[key] = struct{}{}
		set.rules = append(set.rules, rule{MappingRule: r, source: source, pipeline: pipeline})
	}
	return set, nil
}

// Validate compiles rules and, when headers are known, requires every source
// field to be among them. Comparison is case-insensitive after normalization.
func Validate(rules []models.MappingRule, knownHeaders []string) error {
	set, err := Compile(rules)
	if err != nil {
		return err
	}
	return set.CheckHeaders(knownHeaders)
}

func (s *Set) CheckHeaders(knownHeaders []string) error {
	if len(knownHeaders) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(knownHeaders))
	for _, h := range knownHeaders {
		known[parser.NormalizeKey(h)] = struct{}{}
	}
	var missing []string
	for _, r := range s.rules {
		if _, ok := known[r.source]; !ok {
			missing = append(missing, r.SourceField)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: source fields not in detected headers: %s", models.ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Rules returns the normalized rules in order.
func (s *Set) Rules() []models.MappingRule {
	out := make([]models.MappingRule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.MappingRule
	}
	return out
}

// TargetTypes reports which target types have at least one rule.
func (s *Set) TargetTypes() []models.TargetType {
	var out []models.TargetType
	for _, t := range []models.TargetType{models.TargetTypeCategory, models.TargetTypeProduct} {
		for _, r := range s.rules {
			if r.TargetType == t {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Apply renders rec into the payload for targetType. Fields whose value is
// absent after the pipeline are left out.
func (s *Set) Apply(targetType models.TargetType, rec parser.Record) (Payload, error) {
	out := Payload{}
	for _, r := range s.rules {
		if r.TargetType != targetType {
			continue
		}
		v, _ := rec.Get(r.source)
		v, err := r.pipeline.Apply(v)
		if err != nil {
			return nil, fmt.Errorf("%s <- %s: %w", r.TargetField, r.SourceField, err)
		}
		if v != nil {
			out[r.TargetField] = *v
		}
	}
	return out, nil
}
