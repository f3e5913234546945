package planner

import (
	"errors"
	"fmt"
)

// ErrorKind classifies compilation and execution failures.
type ErrorKind string

const (
	KindUnknownIdentifier   ErrorKind = "UnknownIdentifier"
	KindDuplicateField      ErrorKind = "DuplicateField"
	KindDanglingJoin        ErrorKind = "DanglingJoin"
	KindUnknownFilterField  ErrorKind = "UnknownFilterField"
	KindUnknownOrderField   ErrorKind = "UnknownOrderField"
	KindResultShapeMismatch ErrorKind = "ResultShapeMismatch"
	KindQueryTimeout        ErrorKind = "QueryTimeout"
	// KindPageSizeExceeded is never returned: oversized pages are clamped.
	KindPageSizeExceeded ErrorKind = "PageSizeExceeded"
	KindInvalidQuery     ErrorKind = "InvalidQuery"
	KindUnknownTenant    ErrorKind = "UnknownTenant"
	KindInternal         ErrorKind = "Internal"
)

// IsClientError reports whether the kind is caused by caller input.
func (k ErrorKind) IsClientError() bool {
	switch k {
	case KindUnknownIdentifier, KindDuplicateField, KindDanglingJoin,
		KindUnknownFilterField, KindUnknownOrderField, KindInvalidQuery, KindUnknownTenant:
		return true
	default:
		return false
	}
}

// Error is a typed failure. Messages name logical identifiers only.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnknownIdentifier   = &Error{Kind: KindUnknownIdentifier}
	ErrDuplicateField      = &Error{Kind: KindDuplicateField}
	ErrDanglingJoin        = &Error{Kind: KindDanglingJoin}
	ErrUnknownFilterField  = &Error{Kind: KindUnknownFilterField}
	ErrUnknownOrderField   = &Error{Kind: KindUnknownOrderField}
	ErrResultShapeMismatch = &Error{Kind: KindResultShapeMismatch}
	ErrQueryTimeout        = &Error{Kind: KindQueryTimeout}
	ErrInvalidQuery        = &Error{Kind: KindInvalidQuery}
	ErrUnknownTenant       = &Error{Kind: KindUnknownTenant}
)

// Errorf builds a typed error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind carried by err, or KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
