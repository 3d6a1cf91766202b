// Package schema defines the rulebook data model shared by every stage of
// the pipeline: typed fields, rulebook documents, records, tables and the
// nullable cell Value. Loading validates structure only; formula syntax and
// dependency checking belong to the formula and graph packages.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FieldType separates stored inputs from formula-defined outputs.
type FieldType string

const (
	FieldRaw        FieldType = "raw"
	FieldCalculated FieldType = "calculated"
)

// ResultKind is the declared cell type of a field. Grading uses it to
// normalize target output; emitters use it to pick column and struct types.
type ResultKind string

const (
	ResultBoolean ResultKind = "boolean"
	ResultNumber  ResultKind = "number"
	ResultString  ResultKind = "string"
)

// Field is one column of the rulebook table.
type Field struct {
	Name    string     `json:"name" yaml:"name" validate:"required"`
	Type    FieldType  `json:"type" yaml:"type" validate:"required,oneof=raw calculated"`
	Result  ResultKind `json:"result" yaml:"result" validate:"required,oneof=boolean number string"`
	Formula string     `json:"formula,omitempty" yaml:"formula,omitempty"`
}

// Rulebook is one table definition. PrimaryKey names the raw field used to
// match records between answer keys and target output; when empty it
// defaults to the first raw field.
type Rulebook struct {
	Name       string  `json:"name" yaml:"name" validate:"required"`
	PrimaryKey string  `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Fields     []Field `json:"fields" yaml:"fields" validate:"required,min=1,dive"`
}

var rulebookValidate *validator.Validate

func init() {
	rulebookValidate = validator.New()
}

// Load reads a rulebook document. YAML and JSON are both accepted; the
// extension decides (.yaml/.yml, everything else parses as JSON;
// yaml.Unmarshal handles JSON too, so the distinction is cosmetic).
func Load(path string) (*Rulebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rulebook: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes and validates a rulebook document.
func Parse(data []byte, ext string) (*Rulebook, error) {
	var rb Rulebook
	if err := yaml.Unmarshal(data, &rb); err != nil {
		return nil, fmt.Errorf("failed to decode rulebook%s: %w", extNote(ext), err)
	}
	if err := rb.Validate(); err != nil {
		return nil, err
	}
	return &rb, nil
}

func extNote(ext string) string {
	if ext == "" {
		return ""
	}
	return " (" + strings.TrimPrefix(ext, ".") + ")"
}

// Validate checks structural rules the struct tags cannot express: unique
// field names, formulas only on calculated fields, and a raw primary key.
func (rb *Rulebook) Validate() error {
	if err := rulebookValidate.Struct(rb); err != nil {
		return fmt.Errorf("invalid rulebook: %w", err)
	}
	seen := make(map[string]bool, len(rb.Fields))
	for _, f := range rb.Fields {
		if seen[f.Name] {
			return fmt.Errorf("invalid rulebook: duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case FieldCalculated:
			if strings.TrimSpace(f.Formula) == "" {
				return fmt.Errorf("invalid rulebook: calculated field %q has no formula", f.Name)
			}
		case FieldRaw:
			if f.Formula != "" {
				return fmt.Errorf("invalid rulebook: raw field %q carries a formula", f.Name)
			}
		}
	}
	pk := rb.PrimaryKeyField()
	if pk == "" {
		return fmt.Errorf("invalid rulebook: no raw field available as primary key")
	}
	f, ok := rb.Field(pk)
	if !ok {
		return fmt.Errorf("invalid rulebook: primary key %q is not a field", pk)
	}
	if f.Type != FieldRaw {
		return fmt.Errorf("invalid rulebook: primary key %q must be a raw field", pk)
	}
	return nil
}

// Field returns the named field.
func (rb *Rulebook) Field(name string) (*Field, bool) {
	for i := range rb.Fields {
		if rb.Fields[i].Name == name {
			return &rb.Fields[i], true
		}
	}
	return nil, false
}

// PrimaryKeyField resolves the effective primary key name; empty when the
// rulebook has no raw fields at all.
func (rb *Rulebook) PrimaryKeyField() string {
	if rb.PrimaryKey != "" {
		return rb.PrimaryKey
	}
	for _, f := range rb.Fields {
		if f.Type == FieldRaw {
			return f.Name
		}
	}
	return ""
}

// RawFields returns raw fields in declared order.
func (rb *Rulebook) RawFields() []Field {
	var out []Field
	for _, f := range rb.Fields {
		if f.Type == FieldRaw {
			out = append(out, f)
		}
	}
	return out
}

// CalculatedFields returns calculated fields in declared order.
func (rb *Rulebook) CalculatedFields() []Field {
	var out []Field
	for _, f := range rb.Fields {
		if f.Type == FieldCalculated {
			out = append(out, f)
		}
	}
	return out
}
