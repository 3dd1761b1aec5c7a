// Package query builds and executes the SQL behind serialization: a fluent
// builder with relation-path joins for to-one expansion and a batched
// loader that collapses to-many expansion into single IN queries.
package query

import (
	"fmt"

	"github.com/lib/pq"
)

// Operator represents a comparison operator.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpLike
	OpIsNull
	OpIsNotNull
)

// String returns the string representation of the operator.
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpLike:
		return "LIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return "UNKNOWN"
	}
}

// Condition represents a WHERE condition.
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
	Or       bool // true for OR, false for AND
}

// conditionToSQL converts a condition to SQL, qualifying the column with
// the given alias when non-empty.
func conditionToSQL(cond *Condition, qualifier string, paramCounter *int, args *[]interface{}) (string, error) {
	col := pq.QuoteIdentifier(cond.Field)
	if qualifier != "" {
		col = qualifier + "." + col
	}

	switch cond.Operator {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", col, cond.Operator), nil

	case OpIn:
		values, ok := cond.Value.([]interface{})
		if !ok {
			return "", fmt.Errorf("IN condition on %s requires a value slice, got %T", cond.Field, cond.Value)
		}
		placeholder := fmt.Sprintf("$%d", *paramCounter)
		*paramCounter++
		*args = append(*args, pq.Array(values))
		return fmt.Sprintf("%s = ANY(%s)", col, placeholder), nil

	default:
		placeholder := fmt.Sprintf("$%d", *paramCounter)
		*paramCounter++
		*args = append(*args, cond.Value)
		return fmt.Sprintf("%s %s %s", col, cond.Operator, placeholder), nil
	}
}
