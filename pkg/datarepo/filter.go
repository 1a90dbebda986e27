package datarepo

import (
	"strings"

	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/wirex"
)

// Row is one record of a file, addressable by header name.
type Row struct {
	index  map[string]int
	values []string
}

// Get returns the value of column and whether the file has that column.
func (r Row) Get(column string) (string, bool) {
	i, ok := r.index[column]
	if !ok {
		return "", false
	}
	if i >= len(r.values) {
		return "", true
	}
	return r.values[i], true
}

// Values returns the raw field values in header order.
func (r Row) Values() []string { return r.values }

// RowFilter decides whether a row is kept. Filters are checked against the
// header once before any row is read.
type RowFilter interface {
	wirex.Entity
	Validate(columns map[string]int) error
	Match(r Row) bool
}

// ColumnEquals keeps rows whose Column equals Value.
type ColumnEquals struct {
	Column     string `json:"column"`
	Value      string `json:"value"`
	IgnoreCase bool   `json:"ignoreCase,omitempty"`
}

func (*ColumnEquals) ConcreteType() string { return "ColumnEquals" }

func (f *ColumnEquals) Validate(columns map[string]int) error {
	return requireColumn(f.ConcreteType(), f.Column, columns)
}

func (f *ColumnEquals) Match(r Row) bool {
	v, _ := r.Get(f.Column)
	if f.IgnoreCase {
		return strings.EqualFold(v, f.Value)
	}
	return v == f.Value
}

// ColumnNotEmpty keeps rows whose Column has a non-blank value.
type ColumnNotEmpty struct {
	Column string `json:"column"`
}

func (*ColumnNotEmpty) ConcreteType() string { return "ColumnNotEmpty" }

func (f *ColumnNotEmpty) Validate(columns map[string]int) error {
	return requireColumn(f.ConcreteType(), f.Column, columns)
}

func (f *ColumnNotEmpty) Match(r Row) bool {
	v, _ := r.Get(f.Column)
	return strings.TrimSpace(v) != ""
}

// AnyOf keeps rows matched by at least one of Filters. An empty AnyOf keeps
// nothing.
type AnyOf struct {
	Filters []wirex.Nested[RowFilter] `json:"filters"`
}

func (*AnyOf) ConcreteType() string { return "AnyOf" }

func (f *AnyOf) Validate(columns map[string]int) error {
	for i, n := range f.Filters {
		if !n.IsSet() {
			return jobx.Failf(jobx.ClassInvalidRequest, "AnyOf filter %d is null", i)
		}
		if err := n.Value.Validate(columns); err != nil {
			return err
		}
	}
	return nil
}

func (f *AnyOf) Match(r Row) bool {
	for _, n := range f.Filters {
		if n.Value.Match(r) {
			return true
		}
	}
	return false
}

func requireColumn(filter, column string, columns map[string]int) error {
	if column == "" {
		return jobx.Failf(jobx.ClassInvalidRequest, "%s filter has no column", filter)
	}
	if _, ok := columns[column]; !ok {
		return jobx.Failf(jobx.ClassInvalidRequest, "%s filter references unknown column %q", filter, column)
	}
	return nil
}

// keepAll is used when a request carries no filter.
type keepAll struct{}

func (keepAll) ConcreteType() string          { return "" }
func (keepAll) Validate(map[string]int) error { return nil }
func (keepAll) Match(Row) bool                { return true }

func filterOf(n wirex.Nested[RowFilter]) RowFilter {
	if !n.IsSet() {
		return keepAll{}
	}
	return n.Value
}
