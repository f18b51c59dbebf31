// Package mapping implements the declarative payload projection used by
// emit actions: it applies an EmitMapping onto a destination payload schema
// given a source payload.
//
// The applier traverses the destination schema, not the payload, so
// recursion terminates on schema depth and type checks happen at the
// leaves. Type and reference errors are recoverable: each one is reported
// through the warning stream and the affected destination key is omitted.
// Partial output is the expected shape; a fully failed mapping yields an
// empty object.
package mapping

import (
	"fmt"
	"math"
	"time"

	"github.com/gedeondt/reatilerworkflow-charla-sub001/pkg/sagaflow/scenario"
)

// Warning is a structured record for one recoverable mapping issue.
type Warning struct {
	// Path locates the destination key, e.g. "lines[2].sku".
	Path string

	// Message describes the issue.
	Message string
}

// WarnFunc receives one Warning per issue, in schema order.
type WarnFunc func(Warning)

// Apply projects src onto the destination schema according to m.
// Destination keys without a mapping entry are omitted silently; keys whose
// resolution fails are omitted with a warning. The result is deterministic:
// schema keys are visited in sorted order.
func Apply(src map[string]any, schema scenario.PayloadSchema, m scenario.EmitMapping, warn WarnFunc) map[string]any {
	if warn == nil {
		warn = func(Warning) {}
	}
	if src == nil {
		src = map[string]any{}
	}
	return apply("", src, schema, m, warn)
}

func apply(prefix string, src map[string]any, schema scenario.PayloadSchema, m scenario.EmitMapping, warn WarnFunc) map[string]any {
	out := make(map[string]any, len(m))

	for _, key := range sortedFieldNames(schema) {
		entry, ok := m[key]
		if !ok {
			continue
		}

		field := schema[key]
		path := joinPath(prefix, key)

		switch {
		case field.IsPrimitive():
			if v, ok := resolvePrimitive(path, src, field.Primitive, entry, warn); ok {
				out[key] = v
			}
		case field.IsObject():
			if v, ok := resolveObject(path, src, field.Object, entry, warn); ok {
				out[key] = v
			}
		case field.IsArray():
			if v, ok := resolveArray(path, src, field.Array, entry, warn); ok {
				out[key] = v
			}
		}
	}

	return out
}

// resolvePrimitive handles a primitive destination leaf.
func resolvePrimitive(path string, src map[string]any, p scenario.Primitive, entry scenario.MappingEntry, warn WarnFunc) (any, bool) {
	switch {
	case entry.HasConst:
		if !typeMatches(p, entry.Const) {
			warn(Warning{Path: path, Message: fmt.Sprintf("Constant value is incompatible with type %q", p)})
			return nil, false
		}
		return entry.Const, true

	case entry.From != "":
		v, ok := src[entry.From]
		if !ok {
			warn(Warning{Path: path, Message: missingField(entry.From)})
			return nil, false
		}
		if !typeMatches(p, v) {
			warn(Warning{Path: path, Message: incompatibleField(entry.From, string(p))})
			return nil, false
		}
		return v, true

	default:
		// A nested or array mapping pointed at a primitive destination.
		warn(Warning{Path: path, Message: fmt.Sprintf("Mapping entry is not applicable to primitive destination %q", p)})
		return nil, false
	}
}

// resolveObject handles a nested object destination.
func resolveObject(path string, src map[string]any, schema scenario.PayloadSchema, entry scenario.MappingEntry, warn WarnFunc) (any, bool) {
	if entry.Map == nil || entry.ArrayFrom != "" {
		warn(Warning{Path: path, Message: `Mapping entry is not applicable to destination "object"`})
		return nil, false
	}

	subSrc := src
	if entry.ObjectFrom != "" {
		v, ok := src[entry.ObjectFrom]
		if !ok {
			warn(Warning{Path: path, Message: missingField(entry.ObjectFrom)})
			return nil, false
		}
		obj, ok := v.(map[string]any)
		if !ok {
			warn(Warning{Path: path, Message: incompatibleField(entry.ObjectFrom, "object")})
			return nil, false
		}
		subSrc = obj
	}

	return apply(path, subSrc, schema, entry.Map, warn), true
}

// resolveArray handles an array-of-object destination.
func resolveArray(path string, src map[string]any, itemSchema scenario.PayloadSchema, entry scenario.MappingEntry, warn WarnFunc) (any, bool) {
	if entry.ArrayFrom == "" || entry.Map == nil {
		warn(Warning{Path: path, Message: `Mapping entry is not applicable to destination "array"`})
		return nil, false
	}

	v, ok := src[entry.ArrayFrom]
	if !ok {
		warn(Warning{Path: path, Message: missingField(entry.ArrayFrom)})
		return nil, false
	}
	list, ok := v.([]any)
	if !ok {
		warn(Warning{Path: path, Message: incompatibleField(entry.ArrayFrom, "array")})
		return nil, false
	}

	out := make([]any, 0, len(list))
	for i, item := range list {
		ipath := fmt.Sprintf("%s[%d]", path, i)
		elem, ok := item.(map[string]any)
		if !ok {
			// Non-object elements are skipped, not fatal to the array.
			warn(Warning{Path: ipath, Message: `Array element is not an object`})
			continue
		}
		out = append(out, apply(ipath, elem, itemSchema, entry.Map, warn))
	}
	return out, true
}

// typeMatches checks a resolved value against a destination primitive.
func typeMatches(p scenario.Primitive, v any) bool {
	switch p {
	case scenario.TypeString:
		_, ok := v.(string)
		return ok
	case scenario.TypeNumber:
		switch n := v.(type) {
		case float64:
			return !math.IsNaN(n) && !math.IsInf(n, 0)
		case int, int64:
			return true
		}
		return false
	case scenario.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case scenario.TypeDatetime:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	}
	return false
}

func missingField(name string) string {
	return fmt.Sprintf("Field %q is missing in source payload", name)
}

func incompatibleField(name, destType string) string {
	return fmt.Sprintf("Field %q has incompatible type for destination %q", name, destType)
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// sortedFieldNames fixes the traversal order so output and warnings are
// stable for identical inputs.
func sortedFieldNames(schema scenario.PayloadSchema) []string {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	// Insertion sort keeps this allocation-free for the tiny schemas in play.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}
