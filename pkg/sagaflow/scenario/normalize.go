package scenario

import (
	"fmt"
	"sort"
)

// Normalize parses an arbitrary decoded document into a validated Scenario.
// Defaults are applied (version = 1 when absent), unknown keys are rejected,
// and every structural or referential issue is collected into a single
// ValidationError with dotted paths.
func Normalize(raw map[string]any) (*Scenario, error) {
	n := &normalizer{}
	s := n.scenario(raw)

	if len(n.issues) == 0 {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, &ValidationError{Scenario: s.Name, Issues: n.issues}
}

// normalizer accumulates issues while walking the raw document.
type normalizer struct {
	issues []Issue
}

func (n *normalizer) add(path, format string, args ...any) {
	n.issues = append(n.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (n *normalizer) scenario(raw map[string]any) *Scenario {
	n.rejectUnknownKeys("", raw, "name", "version", "domains", "events", "listeners")

	s := &Scenario{Version: 1}

	if v, ok := raw["name"]; ok {
		s.Name = n.str("name", v)
	} else {
		n.add("name", "is required")
	}

	if v, ok := raw["version"]; ok {
		ver, ok := asInt(v)
		if !ok || ver < 0 {
			n.add("version", "must be a non-negative integer")
		} else {
			s.Version = ver
		}
	}

	for i, item := range n.list("domains", raw["domains"]) {
		path := fmt.Sprintf("domains[%d]", i)
		m, ok := asMap(item)
		if !ok {
			n.add(path, "must be an object")
			continue
		}
		n.rejectUnknownKeys(path, m, "id", "queue")
		s.Domains = append(s.Domains, Domain{
			ID:    n.str(path+".id", m["id"]),
			Queue: n.str(path+".queue", m["queue"]),
		})
	}

	for i, item := range n.list("events", raw["events"]) {
		path := fmt.Sprintf("events[%d]", i)
		m, ok := asMap(item)
		if !ok {
			n.add(path, "must be an object")
			continue
		}
		n.rejectUnknownKeys(path, m, "name", "payloadSchema")
		s.Events = append(s.Events, EventDef{
			Name:          n.str(path+".name", m["name"]),
			PayloadSchema: n.schema(path+".payloadSchema", m["payloadSchema"]),
		})
	}

	for i, item := range n.list("listeners", raw["listeners"]) {
		path := fmt.Sprintf("listeners[%d]", i)
		m, ok := asMap(item)
		if !ok {
			n.add(path, "must be an object")
			continue
		}
		s.Listeners = append(s.Listeners, n.listener(path, m))
	}

	return s
}

func (n *normalizer) listener(path string, m map[string]any) Listener {
	n.rejectUnknownKeys(path, m, "id", "on", "delayMs", "actions")

	l := Listener{ID: n.str(path+".id", m["id"])}

	if on, ok := asMap(m["on"]); ok {
		n.rejectUnknownKeys(path+".on", on, "event")
		l.On = n.str(path+".on.event", on["event"])
	} else {
		n.add(path+".on", "must be an object with an event key")
	}

	l.DelayMs = n.delay(path+".delayMs", m["delayMs"])

	for j, item := range n.list(path+".actions", m["actions"]) {
		apath := fmt.Sprintf("%s.actions[%d]", path, j)
		am, ok := asMap(item)
		if !ok {
			n.add(apath, "must be an object")
			continue
		}
		l.Actions = append(l.Actions, n.action(apath, am))
	}

	return l
}

func (n *normalizer) action(path string, m map[string]any) Action {
	typ := n.str(path+".type", m["type"])

	switch ActionType(typ) {
	case ActionSetState:
		n.rejectUnknownKeys(path, m, "type", "domain", "status")
		return Action{
			Type:   ActionSetState,
			Domain: n.str(path+".domain", m["domain"]),
			Status: n.str(path+".status", m["status"]),
		}
	case ActionEmit:
		n.rejectUnknownKeys(path, m, "type", "event", "toDomain", "mapping", "delayMs")
		a := Action{
			Type:     ActionEmit,
			Event:    n.str(path+".event", m["event"]),
			ToDomain: n.str(path+".toDomain", m["toDomain"]),
			DelayMs:  n.delay(path+".delayMs", m["delayMs"]),
		}
		if raw, ok := m["mapping"]; ok {
			a.Mapping = n.mapping(path+".mapping", raw)
		}
		return a
	default:
		n.add(path+".type", "unknown action type %q", typ)
		return Action{Type: ActionType(typ)}
	}
}

// schema parses a payloadSchema value recursively.
func (n *normalizer) schema(path string, raw any) PayloadSchema {
	m, ok := asMap(raw)
	if !ok {
		n.add(path, "must be an object")
		return PayloadSchema{}
	}

	out := make(PayloadSchema, len(m))
	for _, key := range sortedKeys(m) {
		fpath := path + "." + key
		switch v := m[key].(type) {
		case string:
			p := Primitive(v)
			if !knownPrimitives[p] {
				n.add(fpath, "unknown primitive type %q", v)
				continue
			}
			out[key] = FieldType{Primitive: p}
		case map[string]any:
			out[key] = FieldType{Object: n.schema(fpath, v)}
		case []any:
			if len(v) != 1 {
				n.add(fpath, "array field must declare exactly one item schema")
				continue
			}
			item, ok := asMap(v[0])
			if !ok {
				n.add(fpath, "array item schema must be an object")
				continue
			}
			out[key] = FieldType{Array: n.schema(fpath+"[0]", item)}
		default:
			n.add(fpath, "must be a primitive marker, an object schema, or a single-element array")
		}
	}
	return out
}

// mapping reserved keys. A map value carrying none of them is a bare nested
// mapping descending in place.
const (
	keyFrom       = "from"
	keyConst      = "const"
	keyObjectFrom = "objectFrom"
	keyArrayFrom  = "arrayFrom"
	keyMap        = "map"
)

// mapping parses an EmitMapping value recursively.
func (n *normalizer) mapping(path string, raw any) EmitMapping {
	m, ok := asMap(raw)
	if !ok {
		n.add(path, "must be an object")
		return EmitMapping{}
	}

	out := make(EmitMapping, len(m))
	for _, key := range sortedKeys(m) {
		epath := path + "." + key
		switch v := m[key].(type) {
		case string:
			out[key] = MappingEntry{From: v}
		case map[string]any:
			out[key] = n.mappingEntry(epath, v)
		default:
			n.add(epath, "must be a source field name or a mapping object")
		}
	}
	return out
}

func (n *normalizer) mappingEntry(path string, m map[string]any) MappingEntry {
	_, hasFrom := m[keyFrom]
	_, hasConst := m[keyConst]
	_, hasObjectFrom := m[keyObjectFrom]
	_, hasArrayFrom := m[keyArrayFrom]

	switch {
	case hasFrom:
		n.rejectUnknownKeys(path, m, keyFrom)
		return MappingEntry{From: n.str(path+"."+keyFrom, m[keyFrom])}
	case hasConst:
		n.rejectUnknownKeys(path, m, keyConst)
		return MappingEntry{Const: m[keyConst], HasConst: true}
	case hasObjectFrom:
		n.rejectUnknownKeys(path, m, keyObjectFrom, keyMap)
		if _, ok := m[keyMap]; !ok {
			n.add(path, "objectFrom requires a map")
		}
		return MappingEntry{
			ObjectFrom: n.str(path+"."+keyObjectFrom, m[keyObjectFrom]),
			Map:        n.mapping(path+"."+keyMap, m[keyMap]),
		}
	case hasArrayFrom:
		n.rejectUnknownKeys(path, m, keyArrayFrom, keyMap)
		if _, ok := m[keyMap]; !ok {
			n.add(path, "arrayFrom requires a map")
		}
		return MappingEntry{
			ArrayFrom: n.str(path+"."+keyArrayFrom, m[keyArrayFrom]),
			Map:       n.mapping(path+"."+keyMap, m[keyMap]),
		}
	default:
		// Bare nested mapping: descend in place.
		return MappingEntry{Map: n.mapping(path, m)}
	}
}

// --- coercion helpers ---

func (n *normalizer) str(path string, v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		n.add(path, "must be a non-empty string")
		return ""
	}
	return s
}

func (n *normalizer) delay(path string, v any) int {
	if v == nil {
		return 0
	}
	d, ok := asInt(v)
	if !ok || d < 0 {
		n.add(path, "must be a non-negative integer")
		return 0
	}
	return d
}

func (n *normalizer) list(path string, v any) []any {
	if v == nil {
		n.add(path, "is required")
		return nil
	}
	l, ok := asList(v)
	if !ok {
		n.add(path, "must be a list")
		return nil
	}
	return l
}

func (n *normalizer) rejectUnknownKeys(path string, m map[string]any, allowed ...string) {
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}
	for _, k := range sortedKeys(m) {
		if !ok[k] {
			p := k
			if path != "" {
				p = path + "." + k
			}
			n.add(p, "unknown key")
		}
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// asInt coerces the integer representations the JSON and YAML decoders
// produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
