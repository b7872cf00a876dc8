package errors

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Error types for different categories of failures
var (
	ErrNetwork    = errors.New("network error")
	ErrFileSystem = errors.New("file system error")
	ErrValidation = errors.New("validation error")
	ErrTimeout    = errors.New("timeout error")
	ErrCancelled  = errors.New("operation cancelled")
)

// Kind classifies a connection failure so callers can branch without
// inspecting error text.
type Kind int

const (
	KindOther Kind = iota
	KindRefused
	KindUnreachable
	KindReset
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRefused:
		return "refused"
	case KindUnreachable:
		return "unreachable"
	case KindReset:
		return "reset"
	case KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// IsConnection reports whether the kind describes a peer or path failure
// rather than a local one.
func (k Kind) IsConnection() bool {
	return k != KindOther
}

// Classify maps a transport error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	var ne *NetworkError
	if errors.As(err, &ne) && ne.Kind != KindOther {
		return ne.Kind
	}

	if kind := classifyErrno(err); kind != KindOther {
		return kind
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindOther
}

// NetworkError represents network-related errors
type NetworkError struct {
	Op   string
	Addr string
	Kind Kind
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Kind != KindOther {
		return fmt.Sprintf("network error during %s to %s (%s): %v", e.Op, e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("network error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	if target == ErrNetwork {
		return true
	}
	return target == ErrTimeout && e.Kind == KindTimeout
}

// FileSystemError represents file system-related errors
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("file system error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem
}

// ValidationError represents validation errors
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Helper functions for creating errors

// NewNetworkError wraps err and records its Kind.
func NewNetworkError(op, addr string, err error) error {
	return &NetworkError{Op: op, Addr: addr, Kind: Classify(err), Err: err}
}

func NewFileSystemError(op, path string, err error) error {
	return &FileSystemError{Op: op, Path: path, Err: err}
}

func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Is and As re-export the standard helpers so callers importing this
// package under the name errors keep access to them.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
