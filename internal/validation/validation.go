// Package validation checks field values against field definitions.  All
// functions are pure: the same fields and values always produce the same
// findings in the same order.
package validation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/esign-workflow/internal/model"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[\d\s\-+()]{10,}$`)
)

// Validate checks values (keyed by field id) against fields.  Findings are
// ordered by the position of the field in fields, and within a field by
// required check, type check and custom rules.
func Validate(fields []model.Field, values map[uint64]string) []model.ValidationError {
	out := []model.ValidationError{}
	for _, f := range fields {
		out = append(out, ValidateField(f, values[f.ID])...)
	}
	return out
}

// ValidateField checks a single value.  A blank required value yields only
// the required error; a blank optional value yields nothing.
func ValidateField(f model.Field, value string) []model.ValidationError {
	if !f.Filled(value) {
		if f.Required {
			return []model.ValidationError{fail(f, fmt.Sprintf("Required field %s must be completed", displayName(f)))}
		}
		return nil
	}
	var out []model.ValidationError
	if e, ok := checkType(f, value); !ok {
		out = append(out, e)
	}
	out = append(out, checkRules(f, value)...)
	return out
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []model.ValidationError) bool {
	for _, e := range errs {
		if e.Severity == model.SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity findings.
func Errors(errs []model.ValidationError) []model.ValidationError {
	out := []model.ValidationError{}
	for _, e := range errs {
		if e.Severity == model.SeverityError {
			out = append(out, e)
		}
	}
	return out
}

// Passes reports whether value is a filled value without error findings.
func Passes(f model.Field, value string) bool {
	return f.Filled(value) && !HasErrors(ValidateField(f, value))
}

func checkType(f model.Field, value string) (model.ValidationError, bool) {
	v := strings.TrimSpace(value)
	name := displayName(f)
	switch f.Type {
	case model.FieldEmail:
		if !emailPattern.MatchString(v) {
			return fail(f, fmt.Sprintf("%s must be a valid email address", name)), false
		}
	case model.FieldPhone:
		if !phonePattern.MatchString(v) {
			return fail(f, fmt.Sprintf("%s must be a valid phone number", name)), false
		}
	case model.FieldDate:
		if !isDate(v) {
			return fail(f, fmt.Sprintf("%s must be a valid date", name)), false
		}
	case model.FieldNumber:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return fail(f, fmt.Sprintf("%s must be a number", name)), false
		}
	case model.FieldImage:
		if !isImageRef(v) {
			return fail(f, fmt.Sprintf("%s must be an uploaded image", name)), false
		}
	case model.FieldPayment:
		if v != "completed" {
			return fail(f, fmt.Sprintf("Payment for %s has not been completed", name)), false
		}
	case model.FieldFormula:
		if v == "error" {
			return warn(f, fmt.Sprintf("Formula %s could not be calculated", name)), false
		}
	case model.FieldSignature, model.FieldInitial:
		if !strings.HasPrefix(v, "data:image/") || v == model.EmptySignature {
			return fail(f, fmt.Sprintf("%s must be signed", name)), false
		}
	case model.FieldDropdown, model.FieldRadio:
		if len(f.Options) > 0 && !f.HasOption(v) {
			return fail(f, fmt.Sprintf("%s must be one of the listed options", name)), false
		}
	case model.FieldCheckbox:
		if v != "true" && v != "false" {
			return fail(f, fmt.Sprintf("%s must be checked or unchecked", name)), false
		}
	}
	return model.ValidationError{}, true
}

func checkRules(f model.Field, value string) []model.ValidationError {
	var out []model.ValidationError
	name := displayName(f)
	n := utf8.RuneCountInString(value)
	for _, r := range f.Rules {
		switch r.Kind {
		case model.RuleMinLength:
			if n < r.N {
				out = append(out, fail(f, fmt.Sprintf("%s must be at least %d characters", name, r.N)))
			}
		case model.RuleMaxLength:
			if n > r.N {
				out = append(out, fail(f, fmt.Sprintf("%s must be at most %d characters", name, r.N)))
			}
		case model.RuleRegex:
			if r.Pattern != nil && !r.Pattern.MatchString(value) {
				out = append(out, fail(f, fmt.Sprintf("%s has an invalid format", name)))
			}
		}
	}
	return out
}

func isDate(v string) bool {
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, v)
	return err == nil
}

func isImageRef(v string) bool {
	if strings.HasPrefix(v, "data:image/") {
		return true
	}
	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func displayName(f model.Field) string {
	if f.Label != "" {
		return fmt.Sprintf("%q", f.Label)
	}
	return string(f.Type)
}

func fail(f model.Field, msg string) model.ValidationError {
	return model.ValidationError{FieldID: f.ID, Message: msg, Severity: model.SeverityError}
}

func warn(f model.Field, msg string) model.ValidationError {
	return model.ValidationError{FieldID: f.ID, Message: msg, Severity: model.SeverityWarning}
}
