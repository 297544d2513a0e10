package gateway

import "fmt"

// Code is the stable, client-facing error identifier (spec §7). The
// core never leaks internal identifiers through it.
type Code string

const (
	CodeInvalidSymbol        Code = "InvalidSymbol"
	CodeInvalidPrice         Code = "InvalidPrice"
	CodeInvalidQty           Code = "InvalidQty"
	CodeUnknownType          Code = "UnknownType"
	CodeWouldCross           Code = "WouldCross"
	CodeInsufficientFunds    Code = "InsufficientFunds"
	CodeNotFound             Code = "NotFound"
	CodeAlreadyTerminal      Code = "AlreadyTerminal"
	CodeRateLimited          Code = "RateLimited"
	CodeUnauthorized         Code = "Unauthorized"
	CodeDuplicateClientOrder Code = "DuplicateClientOrderId"
	CodeInconsistent         Code = "Inconsistent"
)

// Error is the error type every Gateway method returns; Code is stable
// API surface, Message is free-form and safe to show a client.
type Error struct {
	Code    Code
	Message string
	OrderID uint64 // populated for DuplicateClientOrderId
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}
