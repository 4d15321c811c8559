// Package typesys implements Heksher's value-type algebra: the grammar for
// setting types, canonicalization of Enum/Flag literal sets, value
// conformance checking, and the subtype partial order used to gate safe
// type upgrades during declaration.
package typesys

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant of the type grammar a Type holds.
type Kind string

const (
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindStr      Kind = "str"
	KindBool     Kind = "bool"
	KindEnum     Kind = "enum"
	KindFlag     Kind = "flag"
	KindSequence Kind = "sequence"
	KindMapping  Kind = "mapping"
)

// Type is a tagged variant over the value-type grammar described in
// spec.md §4.1. Literals (for Enum/Flag) and Elem (for Sequence/Mapping)
// are only meaningful for their respective Kind.
type Type struct {
	Kind     Kind
	Literals []any // canonicalized: sorted, deduplicated JSON scalars
	Elem     *Type
}

// ValidationError reports why a type expression or a value failed to
// validate, in the Entity/Name/Field/Message shape used throughout this
// port's packages.
type ValidationError struct {
	Entity  string
	Name    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %q field %q: %s", e.Entity, e.Name, e.Field, e.Message)
	}
	return fmt.Sprintf("%s %q: %s", e.Entity, e.Name, e.Message)
}

func newParseErr(raw, msg string) error {
	return &ValidationError{Entity: "type", Name: raw, Message: msg}
}

// Int, Float, Str and Bool are the four primitive types.
func Int() Type   { return Type{Kind: KindInt} }
func Float() Type { return Type{Kind: KindFloat} }
func Str() Type   { return Type{Kind: KindStr} }
func Bool() Type  { return Type{Kind: KindBool} }

// Enum constructs a canonicalized Enum[...] type from the given literals.
func Enum(literals ...any) Type {
	return Type{Kind: KindEnum, Literals: canonicalizeLiterals(literals)}
}

// Flag constructs a canonicalized Flag[...] type from the given literals.
func Flag(literals ...any) Type {
	return Type{Kind: KindFlag, Literals: canonicalizeLiterals(literals)}
}

// Sequence constructs a Sequence<elem> type.
func Sequence(elem Type) Type {
	e := elem
	return Type{Kind: KindSequence, Elem: &e}
}

// Mapping constructs a Mapping<elem> type.
func Mapping(elem Type) Type {
	e := elem
	return Type{Kind: KindMapping, Elem: &e}
}

// canonicalizeLiterals sorts and deduplicates a literal set by the JSON
// form of each literal, per spec.md §4.1's canonicalization rule.
func canonicalizeLiterals(in []any) []any {
	seen := make(map[string]any, len(in))
	keys := make([]string, 0, len(in))
	for _, lit := range in {
		k := literalKey(lit)
		if _, ok := seen[k]; !ok {
			seen[k] = lit
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}

func literalKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Canonical returns t with its Literals (if any) canonicalized and its
// Elem (if any) canonicalized recursively. Canonicalization is idempotent.
func (t Type) Canonical() Type {
	switch t.Kind {
	case KindEnum, KindFlag:
		return Type{Kind: t.Kind, Literals: canonicalizeLiterals(t.Literals)}
	case KindSequence, KindMapping:
		if t.Elem == nil {
			return t
		}
		elem := t.Elem.Canonical()
		return Type{Kind: t.Kind, Elem: &elem}
	default:
		return Type{Kind: t.Kind}
	}
}

// Equal reports whether two types have the same canonical form.
func (t Type) Equal(other Type) bool {
	return t.Format() == other.Format()
}

// Format renders t in the wire textual grammar, e.g. "Mapping<Enum[a,b]>".
// Format(Parse(s)) == Format(Parse(s).Canonical()) for any valid s.
func (t Type) Format() string {
	c := t.Canonical()
	switch c.Kind {
	case KindInt, KindFloat, KindStr, KindBool:
		return string(c.Kind)
	case KindEnum:
		return "Enum[" + formatLiterals(c.Literals) + "]"
	case KindFlag:
		return "Flag[" + formatLiterals(c.Literals) + "]"
	case KindSequence:
		return "Sequence<" + c.Elem.Format() + ">"
	case KindMapping:
		return "Mapping<" + c.Elem.Format() + ">"
	default:
		return "?"
	}
}

func formatLiterals(lits []any) string {
	parts := make([]string, len(lits))
	for i, l := range lits {
		parts[i] = formatLiteral(l)
	}
	return strings.Join(parts, ",")
}

func formatLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Validate reports whether value conforms to t, per spec.md §4.1's value
// conformance rules. value must already be decoded JSON (via
// encoding/json's default decoding: float64, string, bool, []any,
// map[string]any, or nil).
func (t Type) Validate(value any) bool {
	switch t.Kind {
	case KindInt:
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case KindFloat:
		_, ok := value.(float64)
		return ok
	case KindStr:
		_, ok := value.(string)
		return ok
	case KindBool:
		_, ok := value.(bool)
		return ok
	case KindEnum:
		return containsLiteral(t.Literals, value)
	case KindFlag:
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		for _, v := range arr {
			if !containsLiteral(t.Literals, v) {
				return false
			}
		}
		return true
	case KindSequence:
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		for _, v := range arr {
			if !t.Elem.Validate(v) {
				return false
			}
		}
		return true
	case KindMapping:
		obj, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for _, v := range obj {
			if !t.Elem.Validate(v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func containsLiteral(lits []any, v any) bool {
	key := literalKey(v)
	for _, l := range lits {
		if literalKey(l) == key {
			return true
		}
	}
	return false
}

// Ordering is the result of comparing two types under the subtype
// partial order.
type Ordering int

const (
	Incomparable Ordering = iota
	Equal
	Less    // receiver < other
	Greater // receiver > other
)

// Compare returns how t relates to other under the subtype relation
// described in spec.md §4.1: reflexive, antisymmetric, transitive, with
// no cross-family relations.
func (t Type) Compare(other Type) Ordering {
	a, b := t.Canonical(), other.Canonical()
	if a.Format() == b.Format() {
		return Equal
	}
	if a.Kind != b.Kind {
		if a.Kind == KindInt && b.Kind == KindFloat {
			return Less
		}
		if a.Kind == KindFloat && b.Kind == KindInt {
			return Greater
		}
		return Incomparable
	}
	switch a.Kind {
	case KindEnum, KindFlag:
		aSub := literalSubset(a.Literals, b.Literals)
		bSub := literalSubset(b.Literals, a.Literals)
		switch {
		case aSub && bSub:
			return Equal
		case aSub:
			return Less
		case bSub:
			return Greater
		default:
			return Incomparable
		}
	case KindSequence, KindMapping:
		return a.Elem.Compare(*b.Elem)
	default:
		return Incomparable
	}
}

func literalSubset(a, b []any) bool {
	for _, v := range a {
		if !containsLiteral(b, v) {
			return false
		}
	}
	return true
}

// IsSubtype reports whether t ≤ other (t.Compare(other) is Equal or Less).
func (t Type) IsSubtype(other Type) bool {
	switch t.Compare(other) {
	case Equal, Less:
		return true
	default:
		return false
	}
}

// Parse parses the textual grammar from spec.md §4.1 into a Type.
// Returns a *ValidationError on any malformed input.
func Parse(raw string) (Type, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Type{}, newParseErr(raw, "empty type expression")
	}
	switch {
	case s == "int":
		return Int(), nil
	case s == "float":
		return Float(), nil
	case s == "str":
		return Str(), nil
	case s == "bool":
		return Bool(), nil
	case strings.HasPrefix(s, "Enum[") && strings.HasSuffix(s, "]"):
		lits, err := parseLiteralList(s[len("Enum[") : len(s)-1])
		if err != nil {
			return Type{}, newParseErr(raw, err.Error())
		}
		return Enum(lits...), nil
	case strings.HasPrefix(s, "Flag[") && strings.HasSuffix(s, "]"):
		lits, err := parseLiteralList(s[len("Flag[") : len(s)-1])
		if err != nil {
			return Type{}, newParseErr(raw, err.Error())
		}
		return Flag(lits...), nil
	case strings.HasPrefix(s, "Sequence<") && strings.HasSuffix(s, ">"):
		inner, err := Parse(s[len("Sequence<") : len(s)-1])
		if err != nil {
			return Type{}, err
		}
		return Sequence(inner), nil
	case strings.HasPrefix(s, "Mapping<") && strings.HasSuffix(s, ">"):
		inner, err := Parse(s[len("Mapping<") : len(s)-1])
		if err != nil {
			return Type{}, err
		}
		return Mapping(inner), nil
	default:
		return Type{}, newParseErr(raw, "unrecognized type expression")
	}
}

// parseLiteralList parses a comma-separated list of JSON scalar literals
// (string/bool/number). Each entry must be a primitive, never a nested
// structure — Enum/Flag literals are scalars per spec.md §4.1.
func parseLiteralList(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty literal list")
	}
	parts := splitTopLevelCommas(s)
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("empty literal in list")
		}
		var v any
		if err := json.Unmarshal([]byte(p), &v); err != nil {
			// bare identifiers (e.g. unquoted enum values) are treated as strings
			if strings.ContainsAny(p, `{}[]"`) {
				return nil, fmt.Errorf("literal %q is not a primitive scalar", p)
			}
			v = p
		}
		switch v.(type) {
		case string, bool, float64:
		default:
			return nil, fmt.Errorf("literal %q is not a primitive scalar", p)
		}
		out = append(out, v)
	}
	return out, nil
}

func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	inStr := false
	for i, r := range s {
		switch r {
		case '"':
			inStr = !inStr
		case '[', '<':
			if !inStr {
				depth++
			}
		case ']', '>':
			if !inStr {
				depth--
			}
		case ',':
			if !inStr && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
