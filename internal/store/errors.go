package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrPolicy     = errors.New("policy violation")
)

// Error codes carried by Error.Code.
const (
	CodeInvalidInput        = "invalid_input"
	CodeInvalidDirection    = "invalid_direction"
	CodeInsufficientStock   = "insufficient_stock"
	CodeSequenceExhausted   = "sequence_exhausted"
	CodeSequenceNotFound    = "sequence_not_found"
	CodeNoActiveShift       = "no_active_shift"
	CodeShiftNotOpen        = "shift_not_open"
	CodeShiftAlreadyOpen    = "shift_already_open"
	CodeOverReturn          = "over_return"
	CodeCreditLimitExceeded = "credit_limit_exceeded"
	CodeCreditNotEnabled    = "credit_not_enabled"
	CodePaymentShortfall    = "payment_shortfall"
	CodeFiscalPayerMismatch = "fiscal_payer_mismatch"
	CodeRequestInProgress   = "request_in_progress"
	CodeInvalidState        = "invalid_state"
	CodeEntityNotFound      = "entity_not_found"
)

// Error is a classified failure. Kind is one of the Err* sentinels above so
// callers can branch with errors.Is; Fields carries the numbers a UI needs to
// render a precise message.
type Error struct {
	Kind    error
	Code    string
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, e.Fields[key]))
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func Validation(code string, message string, fields map[string]any) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: message, Fields: fields}
}

func Conflict(code string, message string, fields map[string]any) *Error {
	return &Error{Kind: ErrConflict, Code: code, Message: message, Fields: fields}
}

func NotFound(entity string, id string) *Error {
	return &Error{
		Kind:    ErrNotFound,
		Code:    CodeEntityNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Fields:  map[string]any{"entity": entity, "id": id},
	}
}

func Policy(code string, message string, fields map[string]any) *Error {
	return &Error{Kind: ErrPolicy, Code: code, Message: message, Fields: fields}
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Code
	}
	return ""
}
