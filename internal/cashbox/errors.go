package cashbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rapidroute/cashbox/internal/idempotency"
	"github.com/rapidroute/cashbox/internal/ledger"
	"github.com/rapidroute/cashbox/internal/money"
	"github.com/rapidroute/cashbox/internal/order"
)

// Code is the stable, caller-facing classification of an error.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeConflict          Code = "CONFLICT"
	CodeStateConflict     Code = "STATE_CONFLICT"
	CodeInProgress        Code = "REQUEST_IN_PROGRESS"
	CodeDependency        Code = "DEPENDENCY_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Metadata describes how callers should treat a code.
type Metadata struct {
	Retryable     bool
	PublicMessage string
	// DetailsAllowed lets the underlying error text through to callers.
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:        {PublicMessage: "validation failed", DetailsAllowed: true},
	CodeNotFound:          {PublicMessage: "resource not found", DetailsAllowed: true},
	CodeInsufficientFunds: {PublicMessage: "insufficient funds", DetailsAllowed: true},
	CodeConflict:          {PublicMessage: "conflict detected", DetailsAllowed: true},
	CodeStateConflict:     {PublicMessage: "state transition disallowed", DetailsAllowed: true},
	CodeInProgress:        {Retryable: true, PublicMessage: "request is already being processed"},
	CodeDependency:        {Retryable: true, PublicMessage: "dependency unavailable"},
	CodeInternal:          {Retryable: true, PublicMessage: "internal error"},
}

// MetadataFor returns the metadata for code, defaulting to internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Description is the public view of an error.
type Description struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Describe classifies err. A nil error yields the zero Description.
func Describe(err error) Description {
	if err == nil {
		return Description{}
	}
	code := classify(err)
	meta := MetadataFor(code)
	msg := meta.PublicMessage
	if meta.DetailsAllowed {
		msg = err.Error()
	}
	return Description{Code: code, Message: msg, Retryable: meta.Retryable}
}

func classify(err error) Code {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, ledger.ErrSameAccount),
		errors.Is(err, ledger.ErrClientMismatch),
		errors.Is(err, money.ErrInvalid):
		return CodeValidation
	case errors.Is(err, ledger.ErrOrderNotFound):
		return CodeNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ledger.ErrAlreadyCashedOut):
		return CodeConflict
	case errors.Is(err, ledger.ErrOrderNotSettleable), errors.Is(err, order.ErrInvalidTransition):
		return CodeStateConflict
	case errors.Is(err, idempotency.ErrInProgress):
		return CodeInProgress
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeDependency
	}
	return CodeInternal
}

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %s", name, e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ledger.ErrInvalidInput }
