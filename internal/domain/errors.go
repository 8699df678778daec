package domain

import (
	"context"
	"errors"
)

// Sentinel errors classifying download failures. Callers wrap these with
// fmt.Errorf("%w") and Classify maps them back to a report kind.
var (
	ErrAuth       = errors.New("credential exchange failed")
	ErrResolve    = errors.New("download url resolution failed")
	ErrValidation = errors.New("asset is missing a file token")
	ErrNetwork    = errors.New("transport failure")
	ErrIO         = errors.New("local write failed")
)

// ErrorKind is the report-facing classification of a failure.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindAuth       ErrorKind = "auth"
	KindResolve    ErrorKind = "resolve"
	KindValidation ErrorKind = "validation"
	KindNetwork    ErrorKind = "network"
	KindIO         ErrorKind = "io"
	KindCanceled   ErrorKind = "canceled"
)

// Classify maps a wrapped error to its classification. Unrecognized errors
// are treated as transport failures, which covers the raw errors returned
// by http.Client. A cancelled batch context is its own kind so drained
// tasks are distinguishable from real transport faults.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrResolve):
		return KindResolve
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindNetwork
	}
}

// Retryable reports whether a failed attempt may be retried. Only transport
// failures are transient; auth, resolution, validation and local IO faults
// will not improve on their own.
func Retryable(err error) bool {
	return Classify(err) == KindNetwork
}
