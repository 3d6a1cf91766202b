package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Record is one row, keyed by field name. Absent keys read as null.
type Record map[string]Value

// Get reads a cell; missing cells are null.
func (r Record) Get(name string) Value {
	return r[name]
}

// Clone copies the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Key renders the record's primary-key cell for matching and reporting.
func (r Record) Key(rb *Rulebook) string {
	v := r.Get(rb.PrimaryKeyField())
	if v.Kind == KindString {
		return v.Str
	}
	return v.String()
}

// Table is an ordered set of records for one rulebook.
type Table []Record

// LoadTable reads a JSON array of records. Every column must be a rulebook
// field; missing cells are null.
func LoadTable(path string, rb *Rulebook) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return ParseTable(data, rb)
}

// ParseTable decodes a JSON array of records against the rulebook.
func ParseTable(data []byte, rb *Rulebook) (Table, error) {
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	table := make(Table, 0, len(rows))
	for i, row := range rows {
		rec := make(Record, len(row))
		for col, raw := range row {
			if _, ok := rb.Field(col); !ok {
				return nil, fmt.Errorf("record %d: unknown column %q", i, col)
			}
			v, err := FromGo(raw)
			if err != nil {
				return nil, fmt.Errorf("record %d, column %q: %w", i, col, err)
			}
			rec[col] = v
		}
		table = append(table, rec)
	}
	return table, nil
}

// WriteTable writes the table as indented JSON. Cell order within a record
// is alphabetical (map marshalling), which keeps output deterministic.
func WriteTable(path string, t Table) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	return nil
}

// Blank copies the table with every calculated column set to an explicit
// null. Raw cells pass through untouched. This is the input handed to
// targets: the structure of the answer, with the answers removed.
func (t Table) Blank(rb *Rulebook) Table {
	calc := rb.CalculatedFields()
	out := make(Table, len(t))
	for i, rec := range t {
		blank := rec.Clone()
		for _, f := range calc {
			blank[f.Name] = NullValue()
		}
		out[i] = blank
	}
	return out
}

// SortByKey orders records by primary key, numbers before their rendered
// form only when kinds agree; mixed kinds fall back to the debug rendering.
func (t Table) SortByKey(rb *Rulebook) {
	pk := rb.PrimaryKeyField()
	sort.SliceStable(t, func(i, j int) bool {
		return valueLess(t[i].Get(pk), t[j].Get(pk))
	})
}

func valueLess(a, b Value) bool {
	if a.Kind == b.Kind {
		switch a.Kind {
		case KindNumber:
			return a.Num < b.Num
		case KindString:
			return a.Str < b.Str
		case KindBool:
			return !a.Bool && b.Bool
		default:
			return false
		}
	}
	return a.String() < b.String()
}
