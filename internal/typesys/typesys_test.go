package typesys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "int", input: "int"},
		{name: "float", input: "float"},
		{name: "str", input: "str"},
		{name: "bool", input: "bool"},
		{name: "enum", input: "Enum[high,low,mid]"},
		{name: "flag", input: "Flag[a,b,c]"},
		{name: "sequence_of_int", input: "Sequence<int>"},
		{name: "mapping_of_enum", input: "Mapping<Enum[a,b]>"},
		{name: "nested_sequence_mapping", input: "Sequence<Mapping<float>>"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			typ, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, typ.Canonical().Format(), typ.Format())
			typ2, err := Parse(typ.Format())
			require.NoError(t, err)
			assert.Equal(t, typ.Format(), typ2.Format())
		})
	}
}

func TestCanonicalizeEnumSortsAndDedupes(t *testing.T) {
	a := Enum("b", "a", "b")
	b := Enum("a", "b")
	assert.True(t, a.Equal(b))
	assert.Equal(t, "Enum[a,b]", a.Format())
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	flag := Flag("b", "a", "b")
	once := flag.Canonical()
	twice := once.Canonical()
	assert.Equal(t, once.Format(), twice.Format())
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"Enum[",
		"Enum[{nested:1}]",
		"garbage",
		"Sequence<>",
	}
	for _, raw := range tests {
		_, err := Parse(raw)
		assert.Error(t, err, "expected parse error for %q", raw)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		value any
		want  bool
	}{
		{name: "int_ok", typ: Int(), value: float64(5), want: true},
		{name: "int_rejects_fraction", typ: Int(), value: 5.5, want: false},
		{name: "float_ok", typ: Float(), value: 5.5, want: true},
		{name: "str_ok", typ: Str(), value: "hello", want: true},
		{name: "bool_ok", typ: Bool(), value: true, want: true},
		{name: "enum_member", typ: Enum("a", "b"), value: "a", want: true},
		{name: "enum_non_member", typ: Enum("a", "b"), value: "c", want: false},
		{name: "flag_all_members", typ: Flag("a", "b", "c"), value: []any{"a", "c"}, want: true},
		{name: "flag_non_member", typ: Flag("a", "b"), value: []any{"a", "z"}, want: false},
		{name: "sequence_ok", typ: Sequence(Int()), value: []any{float64(1), float64(2)}, want: true},
		{name: "sequence_bad_elem", typ: Sequence(Int()), value: []any{"x"}, want: false},
		{name: "mapping_ok", typ: Mapping(Str()), value: map[string]any{"a": "x"}, want: true},
		{name: "mapping_bad_elem", typ: Mapping(Str()), value: map[string]any{"a": float64(1)}, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.typ.Validate(tc.value))
		})
	}
}

func TestSubtypeRelation(t *testing.T) {
	tests := []struct {
		name string
		a, b Type
		want Ordering
	}{
		{name: "int_le_float", a: Int(), b: Float(), want: Less},
		{name: "float_ge_int", a: Float(), b: Int(), want: Greater},
		{name: "reflexive_int", a: Int(), b: Int(), want: Equal},
		{name: "enum_subset", a: Enum("a"), b: Enum("a", "b"), want: Less},
		{name: "enum_superset", a: Enum("a", "b"), b: Enum("a"), want: Greater},
		{name: "enum_incomparable", a: Enum("a", "x"), b: Enum("a", "b"), want: Incomparable},
		{name: "flag_subset", a: Flag("a"), b: Flag("a", "b"), want: Less},
		{name: "sequence_lifts_elem", a: Sequence(Int()), b: Sequence(Float()), want: Less},
		{name: "mapping_lifts_elem", a: Mapping(Int()), b: Mapping(Float()), want: Less},
		{name: "flag_not_subtype_of_sequence", a: Flag("a"), b: Sequence(Str()), want: Incomparable},
		{name: "enum_bool_incomparable", a: Enum(true, false), b: Bool(), want: Incomparable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Compare(tc.b))
		})
	}
}

func TestSubtypeRelationIsTransitive(t *testing.T) {
	a := Enum("a")
	b := Enum("a", "b")
	c := Enum("a", "b", "c")
	require.True(t, a.IsSubtype(b))
	require.True(t, b.IsSubtype(c))
	assert.True(t, a.IsSubtype(c))
}

func TestSubtypeRelationIsAntisymmetric(t *testing.T) {
	a := Enum("a", "b")
	b := Enum("b", "a")
	assert.True(t, a.IsSubtype(b))
	assert.True(t, b.IsSubtype(a))
	assert.Equal(t, Equal, a.Compare(b))
}
