package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// Policy controls how an embedded lookup treats multiple distinct values.
type Policy int

const (
	// Strict treats more than one distinct value as ambiguous.
	Strict Policy = iota
	// Joined sorts the distinct values and joins them with "; ".
	Joined
)

const joinSeparator = "; "

// AmbiguousValueError reports more than one distinct literal where one was
// expected.
type AmbiguousValueError struct {
	Subject  string
	Property string
	Values   []string
}

func (e *AmbiguousValueError) Error() string {
	return fmt.Sprintf("ambiguous value for %s on %s: %s", e.Property, e.Subject, strings.Join(e.Values, " | "))
}

// Scalar returns the single literal of subject/property. The boolean is false
// when the property is absent.
func (g *Graph) Scalar(subject, property string) (string, bool, error) {
	distinct := distinctLiterals(g.Values(subject, property))
	switch len(distinct) {
	case 0:
		return "", false, nil
	case 1:
		return distinct[0], true, nil
	default:
		return "", false, &AmbiguousValueError{Subject: subject, Property: property, Values: distinct}
	}
}

// Embedded resolves property on every object reached from subject via the
// via property. Each nested object must itself hold at most one value.
func (g *Graph) Embedded(subject, via, property string, policy Policy) (string, bool, error) {
	return g.embedded([]string{subject}, via, property, policy)
}

func (g *Graph) embedded(subjects []string, via, property string, policy Policy) (string, bool, error) {
	set := make(map[string]struct{})
	for _, subject := range subjects {
		for _, obj := range g.Values(subject, via) {
			if obj.Kind == Literal {
				continue
			}
			value, ok, err := g.Scalar(obj.Value, property)
			if err != nil {
				return "", false, err
			}
			if ok {
				set[value] = struct{}{}
			}
		}
	}
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}
	sort.Strings(values)

	switch {
	case len(values) == 0:
		return "", false, nil
	case len(values) == 1:
		return values[0], true, nil
	case policy == Joined:
		return strings.Join(values, joinSeparator), true, nil
	default:
		return "", false, &AmbiguousValueError{Subject: strings.Join(subjects, ","), Property: via + " / " + property, Values: values}
	}
}

// distinctLiterals returns literal values deduplicated, in first-seen order.
func distinctLiterals(values []Value) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if v.Kind != Literal {
			continue
		}
		if _, dup := seen[v.Value]; dup {
			continue
		}
		seen[v.Value] = struct{}{}
		out = append(out, v.Value)
	}
	return out
}
