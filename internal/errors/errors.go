// Package errors defines the adapter's semantic error kinds and a
// structured AdapterError carrying a code, message, and detail map, in
// the spirit of a StorageError: constructors per kind, classification
// into retryable/non-retryable via gRPC status codes so an outer
// transaction-retry loop can decide what to do without type-switching on
// internals.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/relionsql/kvadapter/internal/kv"
)

// ErrorCode names one of the adapter's semantic error kinds.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeDuplicateKey
	ErrCodeCorruptKey
	ErrCodeCorruptValue
	ErrCodeRetryableStoreConflict
	ErrCodeNonRetryableStoreError
	ErrCodeQueryCanceled
	ErrCodeInternalInvariantViolation
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeDuplicateKey:
		return "DuplicateKey"
	case ErrCodeCorruptKey:
		return "CorruptKey"
	case ErrCodeCorruptValue:
		return "CorruptValue"
	case ErrCodeRetryableStoreConflict:
		return "RetryableStoreConflict"
	case ErrCodeNonRetryableStoreError:
		return "NonRetryableStoreError"
	case ErrCodeQueryCanceled:
		return "QueryCanceled"
	case ErrCodeInternalInvariantViolation:
		return "InternalInvariantViolation"
	default:
		return "Unknown"
	}
}

// AdapterError is the structured error type returned by every component
// in this module.
type AdapterError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// ToGRPCStatus classifies the error into a gRPC status code, reusing the
// codes/status vocabulary purely as a well-understood classification
// scheme — this module exposes no gRPC service of its own.
func (e *AdapterError) ToGRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Error())
}

func (e *AdapterError) grpcCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeDuplicateKey:
		return codes.AlreadyExists
	case ErrCodeCorruptKey, ErrCodeCorruptValue:
		return codes.DataLoss
	case ErrCodeRetryableStoreConflict:
		return codes.Aborted
	case ErrCodeQueryCanceled:
		return codes.Canceled
	case ErrCodeInternalInvariantViolation:
		return codes.Internal
	case ErrCodeNonRetryableStoreError:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// IsRetryable reports whether an outer retry loop should re-run the
// statement that produced this error. Only RetryableStoreConflict is.
func (e *AdapterError) IsRetryable() bool {
	return e.Code == ErrCodeRetryableStoreConflict
}

func New(code ErrorCode, message string, cause error) *AdapterError {
	return &AdapterError{Code: code, Message: message, Details: make(map[string]interface{}), Cause: cause}
}

func (e *AdapterError) WithDetail(key string, value interface{}) *AdapterError {
	e.Details[key] = value
	return e
}

// Convenience constructors, one per spec kind.

func DuplicateKey(indexName, formattedRow string) *AdapterError {
	return New(ErrCodeDuplicateKey, fmt.Sprintf("duplicate key in index %q", indexName), nil).
		WithDetail("index", indexName).
		WithDetail("row", formattedRow)
}

func CorruptKey(message string, cause error) *AdapterError {
	return New(ErrCodeCorruptKey, message, cause)
}

func CorruptValue(message string, cause error) *AdapterError {
	return New(ErrCodeCorruptValue, message, cause)
}

// RetryableStoreConflict wraps the KV store's not_committed (1020) /
// commit_unknown_result (1021) codes.
func RetryableStoreConflict(storeCode int, cause error) *AdapterError {
	return New(ErrCodeRetryableStoreConflict, fmt.Sprintf("store conflict, code %d", storeCode), cause).
		WithDetail("store_code", storeCode)
}

func NonRetryableStoreError(message string, cause error) *AdapterError {
	return New(ErrCodeNonRetryableStoreError, message, cause)
}

// WrapStoreException is this adapter's wrapFDBException seam (spec.md
// §4.7/§5): every failed KV-store operation is routed through here
// instead of being hardcoded non-retryable, so a not_committed (1020) /
// commit_unknown_result (1021) code surfaces to the caller as
// RetryableStoreConflict and everything else stays NonRetryableStoreError.
// cause carries the code via kv.CodedError when the underlying store
// implementation attaches one; memkv never does (it never conflicts), so
// in this module's own tests this always falls through to non-retryable,
// same as a real store would for any code outside the retryable pair.
func WrapStoreException(message string, cause error) *AdapterError {
	var coded kv.CodedError
	if stderrors.As(cause, &coded) && IsStorageConflictCode(coded.StoreCode()) {
		return RetryableStoreConflict(coded.StoreCode(), cause)
	}
	return NonRetryableStoreError(message, cause)
}

func QueryCanceled(message string) *AdapterError {
	return New(ErrCodeQueryCanceled, message, nil)
}

func InternalInvariantViolation(message string) *AdapterError {
	return New(ErrCodeInternalInvariantViolation, message, nil)
}

// IsStorageConflictCode reports whether a raw KV-store error code is one
// of the two retryable ones spec.md §5 names; the only codes this
// adapter ever treats as retryable.
func IsStorageConflictCode(code int) bool {
	return code == 1020 || code == 1021
}

func IsAdapterError(err error) bool {
	_, ok := err.(*AdapterError)
	return ok
}

func GetCode(err error) ErrorCode {
	if ae, ok := err.(*AdapterError); ok {
		return ae.Code
	}
	return ErrCodeNonRetryableStoreError
}
