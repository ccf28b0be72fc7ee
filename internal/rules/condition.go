package rules

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

type Operator string

const (
	OperatorEquals       Operator = "EQUALS"
	OperatorContains     Operator = "CONTAINS"
	OperatorRegexMatch   Operator = "REGEX_MATCH"
	OperatorIPInRange    Operator = "IP_IN_RANGE"
	OperatorNumericRange Operator = "NUMERIC_RANGE"
)

// Condition is a closed sum: exactly one of Leaf, And, Or, Not is set.
// Malformed nodes evaluate to an error, never silently to false.
type Condition struct {
	Leaf *LeafCondition `json:"leaf,omitempty" bson:"leaf,omitempty"`
	And  []Condition    `json:"and,omitempty" bson:"and,omitempty"`
	Or   []Condition    `json:"or,omitempty" bson:"or,omitempty"`
	Not  *Condition     `json:"not,omitempty" bson:"not,omitempty"`
}

type LeafCondition struct {
	Field    string      `json:"field" bson:"field"`
	Operator Operator    `json:"operator" bson:"operator"`
	Value    interface{} `json:"value" bson:"value"`
}

// Kind reports which branch of the sum is set, or an error when the
// node is not exactly one branch.
func (c *Condition) Kind() (string, error) {
	set := 0
	kind := ""
	if c.Leaf != nil {
		set++
		kind = "leaf"
	}
	if c.And != nil {
		set++
		kind = "and"
	}
	if c.Or != nil {
		set++
		kind = "or"
	}
	if c.Not != nil {
		set++
		kind = "not"
	}
	if set != 1 {
		return "", fmt.Errorf("condition node must set exactly one of leaf/and/or/not, got %d", set)
	}
	return kind, nil
}

func (c *Condition) Matches(attributes map[string]interface{}) (bool, error) {
	kind, err := c.Kind()
	if err != nil {
		return false, err
	}

	switch kind {
	case "leaf":
		return c.Leaf.matches(attributes)
	case "and":
		for i := range c.And {
			ok, err := c.And[i].Matches(attributes)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for i := range c.Or {
			ok, err := c.Or[i].Matches(attributes)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		ok, err := c.Not.Matches(attributes)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	return false, fmt.Errorf("unknown condition kind %q", kind)
}

// CompilePattern compiles a REGEX_MATCH pattern. The pattern must
// describe the entire attribute value: "checkout" does not match
// "pre-checkout-suffix".
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`\A(?:` + pattern + `)\z`)
}

func (l *LeafCondition) matches(attributes map[string]interface{}) (bool, error) {
	attr, present := attributes[l.Field]
	if !present {
		return false, nil
	}

	switch l.Operator {
	case OperatorEquals:
		return valuesEqual(attr, l.Value), nil

	case OperatorContains:
		attrStr, ok := attr.(string)
		if !ok {
			return false, nil
		}
		needle, ok := l.Value.(string)
		if !ok {
			return false, fmt.Errorf("CONTAINS requires a string value for field %q", l.Field)
		}
		return strings.Contains(attrStr, needle), nil

	case OperatorRegexMatch:
		attrStr, ok := attr.(string)
		if !ok {
			return false, nil
		}
		pattern, ok := l.Value.(string)
		if !ok {
			return false, fmt.Errorf("REGEX_MATCH requires a string pattern for field %q", l.Field)
		}
		re, err := CompilePattern(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex for field %q: %w", l.Field, err)
		}
		return re.MatchString(attrStr), nil

	case OperatorIPInRange:
		attrStr, ok := attr.(string)
		if !ok {
			return false, nil
		}
		cidr, ok := l.Value.(string)
		if !ok {
			return false, fmt.Errorf("IP_IN_RANGE requires a CIDR string for field %q", l.Field)
		}
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return false, fmt.Errorf("invalid CIDR for field %q: %w", l.Field, err)
		}
		addr, err := netip.ParseAddr(attrStr)
		if err != nil {
			return false, nil
		}
		return prefix.Contains(addr), nil

	case OperatorNumericRange:
		attrNum, ok := toFloat(attr)
		if !ok {
			return false, nil
		}
		bounds, ok := l.Value.(map[string]interface{})
		if !ok {
			return false, fmt.Errorf("NUMERIC_RANGE requires {min, max} bounds for field %q", l.Field)
		}
		min, minOK := toFloat(bounds["min"])
		max, maxOK := toFloat(bounds["max"])
		if !minOK || !maxOK {
			return false, fmt.Errorf("NUMERIC_RANGE bounds must be numeric for field %q", l.Field)
		}
		return attrNum >= min && attrNum <= max, nil
	}

	return false, fmt.Errorf("unknown operator %q", l.Operator)
}

func valuesEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
