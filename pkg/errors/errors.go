package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotPermitted Code = "NOT_PERMITTED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeInvalidState Code = "INVALID_STATE"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDatabase     Code = "DATABASE_ERROR"

	// Stock and voucher outcomes surfaced by order assembly.
	CodeOutOfStock          Code = "OUT_OF_STOCK"
	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeVoucherExpired      Code = "VOUCHER_EXPIRED"
	CodeVoucherNotActive    Code = "VOUCHER_NOT_ACTIVE"
	CodeVoucherExhausted    Code = "VOUCHER_EXHAUSTED"
	CodeMinSpendNotMet      Code = "MIN_SPEND_NOT_MET"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"

	// Ledger outcomes.
	CodeAmountMismatch   Code = "AMOUNT_MISMATCH"
	CodeBalanceNotEnough Code = "BALANCE_NOT_ENOUGH"

	// Return flow outcomes.
	CodeReturnPeriodExpired    Code = "RETURN_PERIOD_EXPIRED"
	CodeReturnPeriodNotExpired Code = "RETURN_PERIOD_NOT_EXPIRED"
	CodeQuantityReturnInvalid  Code = "QUANTITY_RETURN_INVALID"
	CodeReasonRequired         Code = "REASON_REQUIRED"
	CodeAlreadyProcessed       Code = "ALREADY_PROCESSED"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		HTTPStatus:     http.StatusUnauthorized,
		Retryable:      false,
		PublicMessage:  "authentication required",
		DetailsAllowed: false,
	},
	CodeNotPermitted: {
		HTTPStatus:     http.StatusForbidden,
		Retryable:      false,
		PublicMessage:  "access denied",
		DetailsAllowed: false,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "conflict detected",
		DetailsAllowed: false,
	},
	CodeInvalidState: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
	CodeDatabase: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      false,
		PublicMessage:  "storage failure",
		DetailsAllowed: false,
	},
	CodeOutOfStock: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "item is out of stock",
		DetailsAllowed: true,
	},
	CodeInsufficientStock: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "requested quantity exceeds stock",
		DetailsAllowed: true,
	},
	CodeVoucherExpired: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "voucher is outside its active window",
		DetailsAllowed: true,
	},
	CodeVoucherNotActive: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "voucher is not active",
		DetailsAllowed: true,
	},
	CodeVoucherExhausted: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "voucher has no redemptions left",
		DetailsAllowed: true,
	},
	CodeMinSpendNotMet: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "spend amount below voucher minimum",
		DetailsAllowed: true,
	},
	CodeConcurrencyConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      true,
		PublicMessage:  "concurrent update detected, retry the operation",
		DetailsAllowed: true,
	},
	CodeAmountMismatch: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "amount does not match the amount due",
		DetailsAllowed: true,
	},
	CodeBalanceNotEnough: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "balance is not sufficient",
		DetailsAllowed: false,
	},
	CodeReturnPeriodExpired: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "return window has closed",
		DetailsAllowed: true,
	},
	CodeReturnPeriodNotExpired: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "return window is still open",
		DetailsAllowed: true,
	},
	CodeQuantityReturnInvalid: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "return quantity is invalid",
		DetailsAllowed: true,
	},
	CodeReasonRequired: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "a reason is required for rejection",
		DetailsAllowed: false,
	},
	CodeAlreadyProcessed: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "request was already processed",
		DetailsAllowed: false,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Retryable reports whether the caller may re-submit the same operation.
func Retryable(err error) bool {
	typed := As(err)
	if typed == nil {
		return false
	}
	return MetadataFor(typed.Code()).Retryable
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err is a typed error carrying the given code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
