package model

// Severity of a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationError is a user-correctable finding for one field.  It is
// computed on demand and never persisted.
type ValidationError struct {
	FieldID  uint64   `json:"field_id"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}
