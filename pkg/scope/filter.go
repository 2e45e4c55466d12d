package scope

import (
	"fmt"
	"strings"
)

// Filter is a predicate over record fields. The set of node types is closed.
type Filter interface {
	filter()
}

// Eq matches records whose field equals Value
type Eq struct {
	Field string
	Value interface{}
}

// In matches records whose field equals one of Values. An empty In matches nothing.
type In struct {
	Field  string
	Values []interface{}
}

// And matches when every child matches. An empty And matches everything.
type And []Filter

// Or matches when any child matches. An empty Or matches nothing.
type Or []Filter

// MatchAll matches every record
type MatchAll struct{}

// MatchNone matches no record
type MatchNone struct{}

func (Eq) filter()        {}
func (In) filter()        {}
func (And) filter()       {}
func (Or) filter()        {}
func (MatchAll) filter()  {}
func (MatchNone) filter() {}

// Columns maps filter field names onto SQL column names
type Columns map[string]string

// DefaultColumns maps the scoping fields onto snake_case columns
var DefaultColumns = Columns{
	FieldOrganizationID: "organization_id",
	FieldAssignedTo:     "assigned_to",
	FieldCreatedBy:      "created_by",
	FieldOwnerID:        "owner_id",
	FieldTeamID:         "team_id",
}

// With returns a copy of c with extra field mappings
func (c Columns) With(extra map[string]string) Columns {
	out := make(Columns, len(c)+len(extra))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ToSQL compiles f into a WHERE clause fragment using $n placeholders starting
// at firstArg. Fields without a column mapping are rejected.
func ToSQL(f Filter, columns Columns, firstArg int) (string, []interface{}, error) {
	c := &sqlCompiler{columns: columns, next: firstArg}
	clause, err := c.compile(f)
	if err != nil {
		return "", nil, err
	}
	return clause, c.args, nil
}

type sqlCompiler struct {
	columns Columns
	args    []interface{}
	next    int
}

func (c *sqlCompiler) placeholder(v interface{}) string {
	c.args = append(c.args, v)
	p := fmt.Sprintf("$%d", c.next)
	c.next++
	return p
}

func (c *sqlCompiler) column(field string) (string, error) {
	col, ok := c.columns[field]
	if !ok {
		return "", fmt.Errorf("unknown filter field %q", field)
	}
	return col, nil
}

func (c *sqlCompiler) compile(f Filter) (string, error) {
	switch n := f.(type) {
	case nil, MatchAll:
		return "TRUE", nil
	case MatchNone:
		return "FALSE", nil
	case Eq:
		col, err := c.column(n.Field)
		if err != nil {
			return "", err
		}
		if n.Value == nil {
			return col + " IS NULL", nil
		}
		return col + " = " + c.placeholder(n.Value), nil
	case In:
		col, err := c.column(n.Field)
		if err != nil {
			return "", err
		}
		if len(n.Values) == 0 {
			return "FALSE", nil
		}
		phs := make([]string, len(n.Values))
		for i, v := range n.Values {
			phs[i] = c.placeholder(v)
		}
		return col + " IN (" + strings.Join(phs, ", ") + ")", nil
	case And:
		return c.join(n, " AND ", "TRUE")
	case Or:
		return c.join(n, " OR ", "FALSE")
	default:
		return "", fmt.Errorf("unsupported filter node %T", f)
	}
}

func (c *sqlCompiler) join(children []Filter, op, empty string) (string, error) {
	if len(children) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := c.compile(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, op) + ")", nil
}

// Record exposes named fields to the in-memory matcher
type Record interface {
	Field(name string) (interface{}, bool)
}

// MapRecord adapts a map to Record
type MapRecord map[string]interface{}

// Field returns the value stored under name
func (m MapRecord) Field(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

// Matches evaluates f against rec with the same semantics as ToSQL. A missing
// field never equals anything, mirroring SQL NULL comparison.
func Matches(f Filter, rec Record) bool {
	switch n := f.(type) {
	case nil, MatchAll:
		return true
	case MatchNone:
		return false
	case Eq:
		v, ok := rec.Field(n.Field)
		if n.Value == nil {
			return !ok || v == nil || v == ""
		}
		return ok && equalValues(v, n.Value)
	case In:
		v, ok := rec.Field(n.Field)
		if !ok {
			return false
		}
		for _, candidate := range n.Values {
			if equalValues(v, candidate) {
				return true
			}
		}
		return false
	case And:
		for _, child := range n {
			if !Matches(child, rec) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range n {
			if Matches(child, rec) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// equalValues compares scalars; empty strings are treated as NULL and never match
func equalValues(a, b interface{}) bool {
	if s, ok := a.(string); ok && s == "" {
		return false
	}
	if s, ok := b.(string); ok && s == "" {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
