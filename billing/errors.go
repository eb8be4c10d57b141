package billing

import (
	"errors"
	"fmt"
)

// Code classifies a billing failure. Native response codes are mapped onto
// this taxonomy at the adapter boundary; no native code reaches callers.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeBillingUnavailable
	CodeDeveloperError
	CodeItemUnavailable
	CodeGeneralError
	CodeUserCancelled
	CodeAppStoreUnavailable
	CodePaymentNotAllowed
	CodePaymentInvalid
	CodeInvalidProduct
	CodeProductRequestFailed
	CodeRestoreFailed
	CodeServiceUnavailable
	CodeAlreadyOwned
	CodeNotOwned
	CodeFeatureNotSupported
	CodeServiceDisconnected
	CodeServiceTimeout
	CodeTermsChanged
	CodeNotSupportedOnPlatform
)

func (c Code) String() string {
	switch c {
	case CodeBillingUnavailable:
		return "billing_unavailable"
	case CodeDeveloperError:
		return "developer_error"
	case CodeItemUnavailable:
		return "item_unavailable"
	case CodeGeneralError:
		return "general_error"
	case CodeUserCancelled:
		return "user_cancelled"
	case CodeAppStoreUnavailable:
		return "app_store_unavailable"
	case CodePaymentNotAllowed:
		return "payment_not_allowed"
	case CodePaymentInvalid:
		return "payment_invalid"
	case CodeInvalidProduct:
		return "invalid_product"
	case CodeProductRequestFailed:
		return "product_request_failed"
	case CodeRestoreFailed:
		return "restore_failed"
	case CodeServiceUnavailable:
		return "service_unavailable"
	case CodeAlreadyOwned:
		return "already_owned"
	case CodeNotOwned:
		return "not_owned"
	case CodeFeatureNotSupported:
		return "feature_not_supported"
	case CodeServiceDisconnected:
		return "service_disconnected"
	case CodeServiceTimeout:
		return "service_timeout"
	case CodeTermsChanged:
		return "terms_changed"
	case CodeNotSupportedOnPlatform:
		return "not_supported_on_platform"
	default:
		return "unknown"
	}
}

// Error is a billing failure: one taxonomy code plus a human-readable
// message, optionally wrapping the underlying cause.
type Error struct {
	Code    Code
	Message string

	cause error
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a taxonomy code and message to an underlying error.
func WrapError(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the taxonomy code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsBenign reports whether the failure is a benign outcome on query
// operations: the user owning the item already, or backing out, is a
// canonical state rather than an error there.
func IsBenign(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyOwned, CodeUserCancelled:
		return true
	default:
		return false
	}
}
