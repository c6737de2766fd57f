package validate

import (
	"encoding/json"
	"strings"
)

// FieldError is one failed check. Loc is the path to the offending field.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// Error collects field errors. It encodes to JSON as a bare list.
type Error struct {
	Errors []FieldError
}

func (e *Error) Error() string {
	return "validate: " + e.Summary()
}

// Summary joins the field errors into one line.
func (e *Error) Summary() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if len(fe.Loc) == 0 {
			parts = append(parts, fe.Msg)
			continue
		}
		parts = append(parts, strings.Join(fe.Loc, ".")+": "+fe.Msg)
	}
	return strings.Join(parts, "; ")
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	if e.Errors == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Errors)
}

func newError(errs []FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return &Error{Errors: errs}
}

func fieldError(msg, typ string, loc ...string) FieldError {
	if loc == nil {
		loc = []string{}
	}
	return FieldError{Loc: loc, Msg: msg, Type: typ}
}

func missing(loc ...string) FieldError {
	return fieldError("Field required", "missing", loc...)
}

func prefix(errs []FieldError, loc ...string) []FieldError {
	for i := range errs {
		errs[i].Loc = append(append([]string{}, loc...), errs[i].Loc...)
	}
	return errs
}

// NewValueError returns an Error holding a single value_error at loc.
func NewValueError(msg string, loc ...string) error {
	return newError([]FieldError{fieldError(msg, "value_error", loc...)})
}
