package models

// ColumnDescriptor is one column of a described table, in ordinal order.
type ColumnDescriptor struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
}

// ForeignKeyEdge links a local column to a referenced table column.
type ForeignKeyEdge struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableDescriptor is the enriched natural-language and structural summary of a
// single table. Descriptors are built once per cache epoch and never modified
// afterwards; a rebuild produces new values.
type TableDescriptor struct {
	Name        string             `json:"name"`
	Columns     []ColumnDescriptor `json:"columns"`
	PrimaryKey  []string           `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKeyEdge   `json:"foreign_keys,omitempty"`
	Purpose     string             `json:"purpose"`
	Description string             `json:"description"`
	SearchTerms []string           `json:"search_terms,omitempty"`
	RowCount    int64              `json:"row_count"`

	// Placeholder is set when the table could not be described and only a
	// minimal descriptor was produced.
	Placeholder bool `json:"placeholder,omitempty"`
}

// ReferencedTables returns the distinct tables this table points to through
// foreign keys, in declaration order.
func (t *TableDescriptor) ReferencedTables() []string {
	seen := make(map[string]bool, len(t.ForeignKeys))
	var refs []string
	for _, fk := range t.ForeignKeys {
		if fk.RefTable == "" || fk.RefTable == t.Name || seen[fk.RefTable] {
			continue
		}
		seen[fk.RefTable] = true
		refs = append(refs, fk.RefTable)
	}
	return refs
}

// HasColumn reports whether the table has a column with the given name
// (case-sensitive, as stored in the catalog).
func (t *TableDescriptor) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ProcedureParameter is a single stored-procedure parameter.
type ProcedureParameter struct {
	Name      string `json:"name" yaml:"name"`
	DataType  string `json:"data_type" yaml:"data_type"`
	Direction string `json:"direction" yaml:"direction"` // INPUT or OUTPUT
}

// ProcedureDescriptor plays the same role as TableDescriptor for a stored
// procedure taken from the catalog.
type ProcedureDescriptor struct {
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	Parameters      []ProcedureParameter `json:"parameters,omitempty"`
	Purpose         string               `json:"purpose"`
	UseCases        []string             `json:"use_cases,omitempty"`
	SearchTerms     []string             `json:"search_terms,omitempty"`
	ExampleCall     string               `json:"example_call"`
	ComplexityScore int                  `json:"complexity_score"`
}

// InputParameters returns the parameters the caller must supply.
func (p *ProcedureDescriptor) InputParameters() []ProcedureParameter {
	var in []ProcedureParameter
	for _, param := range p.Parameters {
		if param.Direction == "" || param.Direction == "INPUT" {
			in = append(in, param)
		}
	}
	return in
}
