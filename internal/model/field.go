package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shockerli/cvt"
)

// FieldType is the closed set of placeable field kinds.  The type of a
// field decides how it is rendered and which validation path it takes, so
// it never changes after the field is created.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldTextarea  FieldType = "textarea"
	FieldEmail     FieldType = "email"
	FieldPhone     FieldType = "phone"
	FieldNumber    FieldType = "number"
	FieldDate      FieldType = "date"
	FieldCheckbox  FieldType = "checkbox"
	FieldRadio     FieldType = "radio"
	FieldDropdown  FieldType = "dropdown"
	FieldSignature FieldType = "signature"
	FieldInitial   FieldType = "initial"
	FieldName      FieldType = "name"
	FieldImage     FieldType = "image"
	FieldFormula   FieldType = "formula"
	FieldPayment   FieldType = "payment"
)

// EmptySignature is the value a blank signature canvas exports.  It is a
// sentinel, not an image, and counts as "no value" everywhere.
const EmptySignature = "data:,"

// FieldDefaults describes the default geometry and placeholder for a type.
type FieldDefaults struct {
	Type        FieldType `json:"type"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Placeholder string    `json:"placeholder"`
}

// catalog is ordered; FieldTypes exposes it in this order.
var catalog = []FieldDefaults{
	{FieldText, 150, 30, "Enter text"},
	{FieldTextarea, 200, 60, "Enter text"},
	{FieldEmail, 150, 30, "name@example.com"},
	{FieldPhone, 150, 30, "Phone number"},
	{FieldNumber, 150, 30, "0"},
	{FieldDate, 150, 30, "YYYY-MM-DD"},
	{FieldCheckbox, 20, 20, ""},
	{FieldRadio, 20, 20, ""},
	{FieldDropdown, 150, 30, "Select an option"},
	{FieldSignature, 200, 80, "Sign here"},
	{FieldInitial, 120, 60, "Initials"},
	{FieldName, 150, 30, "Full name"},
	{FieldImage, 150, 100, "Upload image"},
	{FieldFormula, 150, 30, ""},
	{FieldPayment, 150, 40, "Pay"},
}

// FieldTypes returns the defaults of every supported field type.
func FieldTypes() []FieldDefaults {
	out := make([]FieldDefaults, len(catalog))
	copy(out, catalog)
	return out
}

// DefaultsFor returns the defaults for t and whether t is a known type.
func DefaultsFor(t FieldType) (FieldDefaults, bool) {
	for _, d := range catalog {
		if d.Type == t {
			return d, true
		}
	}
	return FieldDefaults{}, false
}

// Valid reports whether t is one of the supported field types.
func (t FieldType) Valid() bool {
	_, ok := DefaultsFor(t)
	return ok
}

// Field represents a placeable element on a page of a document.  This
// struct corresponds to a row in the `fields` table.
//
// Fields:
//  ID             – primary key identifier.
//  DocumentID     – owning document.
//  Type           – field kind (immutable).
//  Page           – 1-based page number.
//  X/Y/Width/Height – position in document-relative units.
//  Required       – whether a value is mandatory for completion.
//  Label          – display label.
//  Placeholder    – hint text shown while empty.
//  Options        – ordered choices for dropdown and radio fields.
//  ValidationRule – raw directive string as entered by the author.
//  Rules          – ValidationRule parsed at load time.
//  AssignedTo     – signer responsible for the field (nil if unassigned).
//  Value          – current value; never nil, absence is "".
//  CreatedAt      – creation timestamp.
//  ModifiedAt     – last modification timestamp.
type Field struct {
	ID             uint64    `json:"id"`              // fields.id
	DocumentID     uint64    `json:"document_id"`     // fields.document_id
	Type           FieldType `json:"type"`            // fields.type
	Page           int       `json:"page"`            // fields.page
	X              float64   `json:"x"`               // fields.pos_x
	Y              float64   `json:"y"`               // fields.pos_y
	Width          float64   `json:"width"`           // fields.width
	Height         float64   `json:"height"`          // fields.height
	Required       bool      `json:"required"`        // fields.required
	Label          string    `json:"label"`           // fields.label
	Placeholder    string    `json:"placeholder"`     // fields.placeholder
	Options        []string  `json:"options"`         // fields.options (JSON array)
	ValidationRule string    `json:"validation_rule"` // fields.validation_rule
	Rules          []Rule    `json:"-"`
	AssignedTo     *uint64   `json:"assigned_to"` // fields.assigned_to (nullable)
	Value          string    `json:"value"`       // fields.value
	CreatedAt      time.Time `json:"created_at"`  // fields.created_at
	ModifiedAt     time.Time `json:"modified_at"` // fields.modified_at
}

// NewField builds a field of type t on the given page with the type's
// default size and placeholder.  It performs no I/O.
func NewField(t FieldType, page int) (Field, error) {
	d, ok := DefaultsFor(t)
	if !ok {
		return Field{}, fmt.Errorf("unknown field type %q", t)
	}
	if page < 1 {
		return Field{}, fmt.Errorf("page must be >= 1, got %d", page)
	}
	return Field{
		Type:        t,
		Page:        page,
		Width:       d.Width,
		Height:      d.Height,
		Placeholder: d.Placeholder,
		Options:     []string{},
		Rules:       []Rule{},
	}, nil
}

// AssignedToSigner reports whether the field belongs to signerID.
func (f Field) AssignedToSigner(signerID uint64) bool {
	return f.AssignedTo != nil && *f.AssignedTo == signerID
}

// Filled reports whether v counts as a value for this field.  Whitespace,
// the blank-canvas sentinel and an unchecked checkbox are all "no value".
func (f Field) Filled(v string) bool {
	s := strings.TrimSpace(v)
	if s == "" || s == EmptySignature {
		return false
	}
	if f.Type == FieldCheckbox && s == "false" {
		return false
	}
	return true
}

// HasOption reports whether v is one of the field's options.
func (f Field) HasOption(v string) bool {
	for _, o := range f.Options {
		if o == v {
			return true
		}
	}
	return false
}

// NormalizeValue converts a loosely typed input value into the string form
// stored on a field.  Scalars keep their textual value; nil and composite
// values become "" so the stored value is never null.
func NormalizeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case map[string]any, []any:
		return ""
	}
	s, err := cvt.StringE(v)
	if err != nil {
		return ""
	}
	return s
}

// NormalizeValues applies NormalizeValue to every entry.
func NormalizeValues(in map[uint64]any) map[uint64]string {
	out := make(map[uint64]string, len(in))
	for k, v := range in {
		out[k] = NormalizeValue(v)
	}
	return out
}
