// Package datatable translates PrimeVue DataTable filter and sort
// descriptions into gorm predicates and ORDER BY columns.
package datatable

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/pnocera/accounts/pkg/errors"
)

// Match modes understood by the translator
const (
	MatchEquals      = "equals"
	MatchNotEquals   = "notEquals"
	MatchContains    = "contains"
	MatchNotContains = "notContains"
	MatchStartsWith  = "startsWith"
	MatchEndsWith    = "endsWith"
	MatchLessThan    = "lt"
	MatchLessOrEqual = "lte"
	MatchGreater     = "gt"
	MatchGreaterOrEq = "gte"
	MatchIn          = "in"
	MatchDateIs      = "dateIs"
	MatchDateIsNot   = "dateIsNot"
	MatchDateAfter   = "dateAfter"
	MatchDateBefore  = "dateBefore"
)

// OperatorAnd combines menu constraints with AND; anything else means OR
const OperatorAnd = "and"

// Kind is the value type of a column
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindTime
)

// Column maps a filterable field to its SQL expression
type Column struct {
	Expr string
	Kind Kind
}

// Columns is the set of fields a listing can filter and sort on
type Columns map[string]Column

// Constraint is one condition of a menu filter
type Constraint struct {
	Value     any    `json:"value"`
	MatchMode string `json:"matchMode"`
}

// FilterMeta is either a row filter (Value, MatchMode) or a menu filter (Operator, Constraints)
type FilterMeta struct {
	Value       any          `json:"value,omitempty"`
	MatchMode   string       `json:"matchMode,omitempty"`
	Operator    string       `json:"operator,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

// IsMenu reports whether the filter carries a constraint list
func (f FilterMeta) IsMenu() bool {
	return f.Constraints != nil
}

// Filters maps field names to filters
type Filters map[string]FilterMeta

// SortMeta is one sort entry; Order is 1 for ascending, -1 for descending, 0 for none
type SortMeta struct {
	Field string `json:"field"`
	Order int    `json:"order"`
}

// Query bundles filters and sorting of a listing request
type Query struct {
	Filters Filters    `json:"filters,omitempty"`
	Sorting []SortMeta `json:"sorting,omitempty"`
}

// ParseFilters decodes a JSON encoded filter description
func ParseFilters(raw string) (Filters, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var filters Filters
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, errors.NewInvalidInputError("filters must be a JSON object").WithDetail("cause", err.Error())
	}
	return filters, nil
}

// ParseSorting decodes a JSON encoded sort description
func ParseSorting(raw string) ([]SortMeta, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var sorting []SortMeta
	if err := json.Unmarshal([]byte(raw), &sorting); err != nil {
		return nil, errors.NewInvalidInputError("sorting must be a JSON array").WithDetail("cause", err.Error())
	}
	return sorting, nil
}

// Where builds the predicate for filters, nil when nothing applies
func (c Columns) Where(filters Filters) (*clause.Expr, error) {
	fields := make([]string, 0, len(filters))
	for field := range filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var parts []clause.Expr
	for _, field := range fields {
		column, ok := c[field]
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("unknown filter field %q", field)).WithDetail("field", field)
		}

		filter := filters[field]
		var (
			expr *clause.Expr
			err  error
		)
		if filter.IsMenu() {
			expr, err = menuCondition(field, column, filter)
		} else {
			expr, err = condition(field, column, filter.MatchMode, filter.Value)
		}
		if err != nil {
			return nil, err
		}
		if expr != nil {
			parts = append(parts, *expr)
		}
	}

	return join(parts, " AND "), nil
}

// OrderBy builds ORDER BY columns, skipping entries without a direction
func (c Columns) OrderBy(sorting []SortMeta) ([]clause.OrderByColumn, error) {
	var out []clause.OrderByColumn
	for _, s := range sorting {
		if s.Order != 1 && s.Order != -1 {
			continue
		}
		column, ok := c[s.Field]
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("unknown sort field %q", s.Field)).WithDetail("field", s.Field)
		}
		out = append(out, clause.OrderByColumn{
			Column: clause.Column{Name: column.Expr, Raw: true},
			Desc:   s.Order == -1,
		})
	}
	return out, nil
}

func menuCondition(field string, column Column, filter FilterMeta) (*clause.Expr, error) {
	var parts []clause.Expr
	for _, constraint := range filter.Constraints {
		expr, err := condition(field, column, constraint.MatchMode, constraint.Value)
		if err != nil {
			return nil, err
		}
		if expr != nil {
			parts = append(parts, *expr)
		}
	}

	if filter.Operator == OperatorAnd {
		return join(parts, " AND "), nil
	}
	return join(parts, " OR "), nil
}

func condition(field string, column Column, mode string, value any) (*clause.Expr, error) {
	if isEmpty(value) {
		return nil, nil
	}

	switch mode {
	case MatchEquals, MatchNotEquals, MatchLessThan, MatchLessOrEqual, MatchGreater, MatchGreaterOrEq:
		v, err := coerce(field, column.Kind, value)
		if err != nil {
			return nil, err
		}
		return &clause.Expr{SQL: fmt.Sprintf("%s %s ?", column.Expr, comparators[mode]), Vars: []any{v}}, nil

	case MatchContains, MatchNotContains, MatchStartsWith, MatchEndsWith:
		if column.Kind != KindString {
			return nil, unsupported(field, mode)
		}
		return likeCondition(column.Expr, mode, fmt.Sprint(value)), nil

	case MatchIn:
		items, ok := value.([]any)
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("filter %q: in expects an array", field)).WithDetail("field", field)
		}
		if len(items) == 0 {
			return nil, nil
		}
		vars := make([]any, 0, len(items))
		for _, item := range items {
			v, err := coerce(field, column.Kind, item)
			if err != nil {
				return nil, err
			}
			vars = append(vars, v)
		}
		return &clause.Expr{SQL: column.Expr + " IN ?", Vars: []any{vars}}, nil

	case MatchDateIs, MatchDateIsNot, MatchDateAfter, MatchDateBefore:
		if column.Kind != KindTime {
			return nil, unsupported(field, mode)
		}
		t, err := toTime(field, value)
		if err != nil {
			return nil, err
		}
		start, end := minuteBounds(t)
		switch mode {
		case MatchDateIs:
			return &clause.Expr{SQL: fmt.Sprintf("%s >= ? AND %s <= ?", column.Expr, column.Expr), Vars: []any{start, end}}, nil
		case MatchDateIsNot:
			return &clause.Expr{SQL: fmt.Sprintf("%s < ? OR %s > ?", column.Expr, column.Expr), Vars: []any{start, end}}, nil
		case MatchDateAfter:
			return &clause.Expr{SQL: column.Expr + " >= ?", Vars: []any{start}}, nil
		default:
			return &clause.Expr{SQL: column.Expr + " <= ?", Vars: []any{end}}, nil
		}
	}

	// unknown match modes are ignored
	return nil, nil
}

var comparators = map[string]string{
	MatchEquals:      "=",
	MatchNotEquals:   "<>",
	MatchLessThan:    "<",
	MatchLessOrEqual: "<=",
	MatchGreater:     ">",
	MatchGreaterOrEq: ">=",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeCondition(expr, mode, value string) *clause.Expr {
	escaped := likeEscaper.Replace(value)
	pattern := "%" + escaped + "%"
	operator := "LIKE"
	switch mode {
	case MatchNotContains:
		operator = "NOT LIKE"
	case MatchStartsWith:
		pattern = escaped + "%"
	case MatchEndsWith:
		pattern = "%" + escaped
	}
	return &clause.Expr{
		SQL:  fmt.Sprintf(`LOWER(%s) %s LOWER(?) ESCAPE '\'`, expr, operator),
		Vars: []any{pattern},
	}
}

// minuteBounds returns the first and last millisecond of the UTC minute containing t
func minuteBounds(t time.Time) (time.Time, time.Time) {
	start := t.UTC().Truncate(time.Minute)
	return start, start.Add(time.Minute - time.Millisecond)
}

func join(parts []clause.Expr, sep string) *clause.Expr {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return &parts[0]
	}

	sqls := make([]string, 0, len(parts))
	var vars []any
	for _, p := range parts {
		sqls = append(sqls, "("+p.SQL+")")
		vars = append(vars, p.Vars...)
	}
	return &clause.Expr{SQL: strings.Join(sqls, sep), Vars: vars}
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok && s == "" {
		return true
	}
	return false
}

func coerce(field string, kind Kind, value any) (any, error) {
	switch kind {
	case KindString:
		return fmt.Sprint(value), nil

	case KindNumber:
		switch v := value.(type) {
		case float64:
			if v == float64(int64(v)) {
				return int64(v), nil
			}
			return v, nil
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, nil
			}
			return v.Float64()
		case string:
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i, nil
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, nil
			}
		}
		return nil, invalidValue(field, "a number")

	case KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, nil
			}
		}
		return nil, invalidValue(field, "a boolean")

	case KindTime:
		return toTime(field, value)
	}
	return value, nil
}

func toTime(field string, value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalidValue(field, "an RFC 3339 date")
}

func invalidValue(field, expected string) error {
	return errors.NewValidationError(fmt.Sprintf("filter %q expects %s", field, expected)).WithDetail("field", field)
}

func unsupported(field, mode string) error {
	return errors.NewValidationError(fmt.Sprintf("match mode %q is not supported for field %q", mode, field)).
		WithDetail("field", field).WithDetail("match_mode", mode)
}
