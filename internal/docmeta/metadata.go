// Package docmeta defines database object descriptors and the structured
// metadata extracted from them before classification and generation.
package docmeta

import "strings"

// ObjectKind identifies the type of database object being documented.
type ObjectKind string

const (
	KindStoredProcedure ObjectKind = "stored_procedure"
	KindView            ObjectKind = "view"
	KindFunction        ObjectKind = "function"
)

// Category returns the document-number category for this kind (e.g. "SP").
func (k ObjectKind) Category() string {
	switch k {
	case KindStoredProcedure:
		return "SP"
	case KindView:
		return "VW"
	case KindFunction:
		return "FN"
	default:
		return "OB"
	}
}

// ObjectDescriptor identifies one database object to document.
type ObjectDescriptor struct {
	Schema     string     `json:"schema" yaml:"schema"`
	Name       string     `json:"name" yaml:"name"`
	Kind       ObjectKind `json:"kind" yaml:"kind"`
	Definition string     `json:"definition" yaml:"definition"`

	// QA marks pre-production objects; carried through to the rendered
	// document header.
	QA bool `json:"qa,omitempty" yaml:"qa,omitempty"`
}

// FullName returns the schema-qualified object name.
func (d ObjectDescriptor) FullName() string {
	if d.Schema == "" {
		return d.Name
	}
	return d.Schema + "." + d.Name
}

// Extracted is the structured metadata pulled from an object definition.
// All fields feed the tier classifier; Confidence and Method describe how
// reliable the extraction itself was.
type Extracted struct {
	// Size metric: lines of body text.
	LineCount int `json:"line_count"`

	// Fan-out to other database objects (tables, views, procedures).
	ReferencedObjects int `json:"referenced_objects"`

	// Declared parameter count.
	ParameterCount int `json:"parameter_count"`

	// Control-flow complexity flags.
	HasNestedConditionals bool `json:"has_nested_conditionals"`
	HasCursors            bool `json:"has_cursors"`
	HasRecursion          bool `json:"has_recursion"`

	// Explicit BEGIN TRAN / COMMIT usage.
	HasTransactions bool `json:"has_transactions"`

	// Dynamic SQL (EXEC / sp_executesql on constructed strings).
	HasDynamicSQL bool `json:"has_dynamic_sql"`

	// TRY/CATCH or RAISERROR-based error handling.
	HasErrorHandling bool `json:"has_error_handling"`

	// Confidence in [0,1] that the extraction captured the object
	// faithfully, and the method that produced it.
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// Normalize trims descriptor fields in place and lower-cases the kind.
func (d *ObjectDescriptor) Normalize() {
	d.Schema = strings.TrimSpace(d.Schema)
	d.Name = strings.TrimSpace(d.Name)
	d.Kind = ObjectKind(strings.ToLower(strings.TrimSpace(string(d.Kind))))
}

// Valid reports whether the descriptor names a documentable object.
func (d ObjectDescriptor) Valid() bool {
	return d.Name != "" && d.Definition != ""
}
