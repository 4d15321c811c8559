// Package apperr defines Heksher's error taxonomy (spec.md §7): a small
// set of error kinds that internal/httpapi maps one-to-one onto HTTP
// status codes, so every package below the HTTP layer can return a plain
// Go error without knowing about status codes.
package apperr

import "fmt"

// Kind is one of the five taxonomy entries in spec.md §7.
type Kind string

const (
	KindNotFound   Kind = "not-found"
	KindConflict   Kind = "conflict"
	KindValidation Kind = "validation"
	KindFatal      Kind = "fatal"
	KindDocOnly    Kind = "doc-only"
)

// Error is the typed error every Heksher component returns when a
// taxonomy-classified failure occurs. Entity/Name/Field/Message follow
// the shape of the teacher's core.ValidationError.
type Error struct {
	Kind    Kind
	Entity  string
	Name    string
	Field   string
	Message string
	Details []string // extra offending ids/values, e.g. §4.4's explicit-endpoint conflicts
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s %q field %q: %s", e.Kind, e.Entity, e.Name, e.Field, e.Message)
	}
	if e.Name != "" {
		return fmt.Sprintf("%s: %s %q: %s", e.Kind, e.Entity, e.Name, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NotFound(entity, name, message string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Name: name, Message: message}
}

func Conflict(entity, name, message string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Name: name, Message: message}
}

func ConflictWithDetails(entity, name, message string, details []string) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Name: name, Message: message, Details: details}
}

func Validation(entity, name, field, message string) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Name: name, Field: field, Message: message}
}

func Fatal(message string, err error) *Error {
	return &Error{Kind: KindFatal, Message: message, Err: err}
}

func DocOnly(message string) *Error {
	return &Error{Kind: KindDocOnly, Message: message}
}

// As is a convenience wrapper over the standard errors.As for the common
// case of recovering a *Error from an error chain.
func As(err error) (*Error, bool) {
	var target *Error
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if e, ok := err.(*Error); ok {
			target = e
			return target, true
		}
	}
	return nil, false
}
