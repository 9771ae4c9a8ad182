package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// QueryError is the structured error raised while building or running a
// repository query.
//
// Construction-time errors (MALFORMED_DERIVED_QUERY, ARGUMENT_TYPE_MISMATCH,
// INVALID_OPERATOR_USAGE, UNSUPPORTED_OPERATOR, UNSUPPORTED_CASE_FOLD,
// INVALID_QUERY, INVALID_RETURN_TYPE) surface from plan construction and are
// never retried. PARAMETER_BINDING and MISSING_TRANSACTION surface per call.
type QueryError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Method is the method identity (Repository.method).
	Method string

	// Message is a human-readable description.
	Message string

	// Details contains additional context such as property or operator.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes query errors.
type ErrorCode string

const (
	CodeMalformedDerivedQuery ErrorCode = "MALFORMED_DERIVED_QUERY"
	CodeArgumentTypeMismatch  ErrorCode = "ARGUMENT_TYPE_MISMATCH"
	CodeInvalidOperatorUsage  ErrorCode = "INVALID_OPERATOR_USAGE"
	CodeUnsupportedOperator   ErrorCode = "UNSUPPORTED_OPERATOR"
	CodeUnsupportedCaseFold   ErrorCode = "UNSUPPORTED_CASE_FOLD"
	CodeInvalidQuery          ErrorCode = "INVALID_QUERY"
	CodeParameterBinding      ErrorCode = "PARAMETER_BINDING"
	CodeMissingTransaction    ErrorCode = "MISSING_TRANSACTION"
	CodeInvalidReturnType     ErrorCode = "INVALID_RETURN_TYPE"
)

// Sentinels returned by sessions.
var (
	// ErrNoResult means a single-result query matched no rows.
	ErrNoResult = errors.New("no result")

	// ErrNonUniqueResult means a single-result query matched several rows.
	ErrNonUniqueResult = errors.New("query did not return a unique result")
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Method != "" || len(e.Details) > 0 {
		var ctx []string
		if e.Method != "" {
			ctx = append(ctx, "method="+e.Method)
		}
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ctx = append(ctx, k+"="+e.Details[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error { return e.Err }

// Errorf builds a QueryError with a formatted message.
func Errorf(code ErrorCode, method, format string, args ...any) *QueryError {
	return &QueryError{Code: code, Method: method, Message: fmt.Sprintf(format, args...)}
}

// With returns the error with one more detail attached.
func (e *QueryError) With(key, value string) *QueryError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap attaches an underlying cause.
func (e *QueryError) Wrap(err error) *QueryError {
	e.Err = err
	return e
}

// CodeOf returns the code of the first QueryError in err's chain, or "".
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}

// IsCode reports whether err wraps a QueryError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsConstructionError reports whether err is a fail-fast error raised while
// building a query plan.
func IsConstructionError(err error) bool {
	switch CodeOf(err) {
	case CodeMalformedDerivedQuery, CodeArgumentTypeMismatch, CodeInvalidOperatorUsage,
		CodeUnsupportedOperator, CodeUnsupportedCaseFold, CodeInvalidQuery, CodeInvalidReturnType:
		return true
	}
	return false
}
