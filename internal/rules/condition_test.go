package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(field string, op Operator, value interface{}) Condition {
	return Condition{Leaf: &LeafCondition{Field: field, Operator: op, Value: value}}
}

func TestLeafCondition_Equals(t *testing.T) {
	tests := []struct {
		name       string
		value      interface{}
		attributes map[string]interface{}
		want       bool
	}{
		{
			name:       "string match",
			value:      "production",
			attributes: map[string]interface{}{"env": "production"},
			want:       true,
		},
		{
			name:       "string mismatch",
			value:      "production",
			attributes: map[string]interface{}{"env": "staging"},
			want:       false,
		},
		{
			name:       "numeric match across types",
			value:      42,
			attributes: map[string]interface{}{"env": float64(42)},
			want:       true,
		},
		{
			name:       "bool match",
			value:      true,
			attributes: map[string]interface{}{"env": true},
			want:       true,
		},
		{
			name:       "absent attribute never matches",
			value:      "production",
			attributes: map[string]interface{}{"other": "production"},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := leaf("env", OperatorEquals, tt.value)
			got, err := cond.Matches(tt.attributes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLeafCondition_Contains(t *testing.T) {
	cond := leaf("email", OperatorContains, "@example.com")

	got, err := cond.Matches(map[string]interface{}{"email": "alice@example.com"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = cond.Matches(map[string]interface{}{"email": "alice@other.org"})
	require.NoError(t, err)
	assert.False(t, got)

	// Non-string attribute does not match but is not an error.
	got, err = cond.Matches(map[string]interface{}{"email": 42})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLeafCondition_RegexMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		attr    string
		want    bool
	}{
		{name: "matches whole value", pattern: "checkout-.*", attr: "checkout-api", want: true},
		{name: "different value", pattern: "checkout-.*", attr: "billing-api", want: false},
		{name: "literal pattern equals value", pattern: "checkout", attr: "checkout", want: true},
		// The pattern must cover the whole value, not a substring.
		{name: "substring occurrence is not a match", pattern: "checkout", attr: "pre-checkout-suffix", want: false},
		{name: "trailing remainder is not a match", pattern: "checkout", attr: "checkout-api", want: false},
		{name: "alternation is grouped before anchoring", pattern: "checkout|billing", attr: "billing", want: true},
		{name: "alternation still covers the whole value", pattern: "checkout|billing", attr: "billing-api", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := leaf("service", OperatorRegexMatch, tt.pattern)
			got, err := cond.Matches(map[string]interface{}{"service": tt.attr})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLeafCondition_RegexMatch_InvalidPattern(t *testing.T) {
	cond := leaf("service", OperatorRegexMatch, "(unclosed")

	_, err := cond.Matches(map[string]interface{}{"service": "checkout-api"})
	assert.Error(t, err)
}

func TestLeafCondition_IPInRange(t *testing.T) {
	tests := []struct {
		name string
		cidr string
		addr string
		want bool
	}{
		{name: "inside range", cidr: "10.0.0.0/8", addr: "10.1.2.3", want: true},
		{name: "outside range", cidr: "10.0.0.0/8", addr: "11.0.0.1", want: false},
		{name: "exact boundary", cidr: "192.168.1.0/24", addr: "192.168.1.255", want: true},
		{name: "ipv6 inside", cidr: "2001:db8::/32", addr: "2001:db8::1", want: true},
		{name: "unparseable address does not match", cidr: "10.0.0.0/8", addr: "not-an-ip", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := leaf("client_ip", OperatorIPInRange, tt.cidr)
			got, err := cond.Matches(map[string]interface{}{"client_ip": tt.addr})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLeafCondition_IPInRange_InvalidCIDR(t *testing.T) {
	cond := leaf("client_ip", OperatorIPInRange, "10.0.0/8")

	_, err := cond.Matches(map[string]interface{}{"client_ip": "10.1.2.3"})
	assert.Error(t, err)
}

func TestLeafCondition_NumericRange(t *testing.T) {
	bounds := map[string]interface{}{"min": 10, "max": 20}

	tests := []struct {
		name string
		attr interface{}
		want bool
	}{
		{name: "inside range", attr: 15, want: true},
		{name: "inclusive min", attr: 10, want: true},
		{name: "inclusive max", attr: 20.0, want: true},
		{name: "below range", attr: 9.99, want: false},
		{name: "above range", attr: 21, want: false},
		{name: "non-numeric attribute does not match", attr: "fifteen", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := leaf("latency_ms", OperatorNumericRange, bounds)
			got, err := cond.Matches(map[string]interface{}{"latency_ms": tt.attr})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCondition_Composite(t *testing.T) {
	attrs := map[string]interface{}{
		"env":     "production",
		"service": "checkout-api",
		"region":  "eu-west-1",
	}

	andCond := Condition{And: []Condition{
		leaf("env", OperatorEquals, "production"),
		leaf("service", OperatorRegexMatch, "checkout-.*"),
	}}
	got, err := andCond.Matches(attrs)
	require.NoError(t, err)
	assert.True(t, got)

	orCond := Condition{Or: []Condition{
		leaf("env", OperatorEquals, "staging"),
		leaf("region", OperatorEquals, "eu-west-1"),
	}}
	got, err = orCond.Matches(attrs)
	require.NoError(t, err)
	assert.True(t, got)

	notCond := Condition{Not: &Condition{Leaf: &LeafCondition{Field: "env", Operator: OperatorEquals, Value: "staging"}}}
	got, err = notCond.Matches(attrs)
	require.NoError(t, err)
	assert.True(t, got)

	nested := Condition{And: []Condition{
		leaf("env", OperatorEquals, "production"),
		{Not: &Condition{Leaf: &LeafCondition{Field: "region", Operator: OperatorEquals, Value: "eu-west-1"}}},
	}}
	got, err = nested.Matches(attrs)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCondition_MalformedNode(t *testing.T) {
	// Empty node sets none of the branches.
	empty := Condition{}
	_, err := empty.Matches(map[string]interface{}{})
	assert.Error(t, err)

	// Two branches set at once.
	both := Condition{
		Leaf: &LeafCondition{Field: "env", Operator: OperatorEquals, Value: "x"},
		Not:  &Condition{Leaf: &LeafCondition{Field: "env", Operator: OperatorEquals, Value: "y"}},
	}
	_, err = both.Matches(map[string]interface{}{"env": "x"})
	assert.Error(t, err)
}

func TestLeafCondition_UnknownOperator(t *testing.T) {
	cond := leaf("env", Operator("STARTS_WITH"), "prod")

	_, err := cond.Matches(map[string]interface{}{"env": "production"})
	assert.Error(t, err)
}
