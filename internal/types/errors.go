package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a failure by the behavior it demands, not by its Go
// type. The recovery manager retries some kinds, the scheduler fails others
// outright, and validation surfaces straight to the caller.
type ErrorKind string

const (
	ErrKindModelUnavailable  ErrorKind = "ai-model-unavailable"
	ErrKindModelTimeout      ErrorKind = "ai-model-timeout"
	ErrKindResponseInvalid   ErrorKind = "ai-response-invalid"
	ErrKindModelOverloaded   ErrorKind = "ai-model-overloaded"
	ErrKindResourceExhausted ErrorKind = "resource-exhaustion"
	ErrKindIO                ErrorKind = "io-error"
	ErrKindValidation        ErrorKind = "validation"
	ErrKindUnknown           ErrorKind = "unknown"
)

// Retriable reports whether the recovery manager may retry a failure of
// this kind. Validation never retries; resource exhaustion is a hard stop
// at the scheduler level (fallback to a cheaper model happens above it).
func (k ErrorKind) Retriable() bool {
	switch k {
	case ErrKindValidation, ErrKindResourceExhausted, ErrKindResponseInvalid:
		return false
	}
	return true
}

// KindError attaches an ErrorKind to an underlying error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err with an explicit classification.
func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...interface{}) *KindError {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify maps an arbitrary error onto the taxonomy. Explicit KindErrors
// win; context deadline maps to model timeout; network failures map to
// model unavailable; everything else falls through string heuristics to
// unknown.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrKindUnknown
	}

	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindModelTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrKindModelTimeout
		}
		return ErrKindModelUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return ErrKindModelUnavailable
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return ErrKindModelTimeout
	case strings.Contains(msg, "overloaded"), strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"), strings.Contains(msg, "status 429"),
		strings.Contains(msg, "status 503"):
		return ErrKindModelOverloaded
	case strings.Contains(msg, "out of memory"), strings.Contains(msg, "insufficient memory"),
		strings.Contains(msg, "memory"):
		return ErrKindResourceExhausted
	case strings.Contains(msg, "parse"), strings.Contains(msg, "unmarshal"),
		strings.Contains(msg, "invalid json"), strings.Contains(msg, "unexpected end of json"):
		return ErrKindResponseInvalid
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "i/o"), strings.Contains(msg, "read-only"):
		return ErrKindIO
	case strings.Contains(msg, "validation"), strings.Contains(msg, "required"),
		strings.Contains(msg, "invalid argument"):
		return ErrKindValidation
	}
	return ErrKindUnknown
}

// Retriable is a convenience for Classify(err).Retriable().
func Retriable(err error) bool {
	return Classify(err).Retriable()
}
