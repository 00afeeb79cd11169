package docstore

import (
	"fmt"
	"regexp"
)

type Op string

const (
	OpEqual          Op = "=="
	OpGreaterOrEqual Op = ">="
	OpLessOrEqual    Op = "<="
	OpLess           Op = "<"
	OpGreater        Op = ">"
	OpContains       Op = "contains"
)

// Predicate filters documents by a single field.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

func Equal(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpEqual, Value: value}
}

func GreaterOrEqual(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpGreaterOrEqual, Value: value}
}

func LessOrEqual(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpLessOrEqual, Value: value}
}

func Less(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpLess, Value: value}
}

func Greater(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpGreater, Value: value}
}

// Contains matches documents whose field holds value as a substring.
func Contains(field string, value string) Predicate {
	return Predicate{Field: field, Op: OpContains, Value: value}
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidField reports whether name is a storage field name.
func ValidField(name string) bool {
	return fieldPattern.MatchString(name)
}

// Validate checks field names and operators of preds.
func Validate(preds []Predicate) error {
	for _, p := range preds {
		if !ValidField(p.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidField, p.Field)
		}
		switch p.Op {
		case OpEqual, OpGreaterOrEqual, OpLessOrEqual, OpLess, OpGreater:
		case OpContains:
			if _, ok := p.Value.(string); !ok {
				return fmt.Errorf("%w: contains on %q needs a string", ErrUnsupportedPredicate, p.Field)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedPredicate, p.Op)
		}
	}
	return nil
}

// ValidateFields checks the keys of a partial update.
func ValidateFields(fields map[string]any) error {
	for name := range fields {
		if !ValidField(name) {
			return fmt.Errorf("%w: %q", ErrInvalidField, name)
		}
	}
	return nil
}
