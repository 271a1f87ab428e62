// Package errors provides structured error handling for the artwork module.
// Every failure of the pipeline is classified so callers can decide between
// "retry later", "mark the source bad" and "stop and wait for an operator".
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure by what the pipeline should do about it.
type ErrorClass string

const (
	// ClassTransient is a fetch or IO failure that may succeed on retry
	ClassTransient ErrorClass = "transient"
	// ClassQuality is a candidate rejected by validation
	ClassQuality ErrorClass = "quality"
	// ClassStorage is a failure writing to the content store
	ClassStorage ErrorClass = "storage"
	// ClassResource is memory or decode budget exhaustion
	ClassResource ErrorClass = "resource"
	// ClassCorrupt is an image that cannot be decoded
	ClassCorrupt ErrorClass = "corrupt"
	// ClassMissing is a cached original that disappeared
	ClassMissing ErrorClass = "missing"
	// ClassValidation is bad caller input
	ClassValidation ErrorClass = "validation"
	// ClassInternal is anything else
	ClassInternal ErrorClass = "internal"
)

// Sentinel errors
var (
	// ErrNotFound indicates a missing database row
	ErrNotFound = errors.New("not found")

	// ErrContentNotFound indicates a missing file in the content store
	ErrContentNotFound = errors.New("content not found")

	// ErrNoDimensions indicates the image size could not be determined
	ErrNoDimensions = errors.New("image dimensions unavailable")

	// ErrDegenerateImage indicates an image too small to be real artwork
	ErrDegenerateImage = errors.New("degenerate image dimensions")

	// ErrUploadRequired indicates a candidate that can only be uploaded manually
	ErrUploadRequired = errors.New("candidate requires manual upload")

	// ErrSourceGone indicates the remote source answered that the image does not exist
	ErrSourceGone = errors.New("source no longer available")

	// ErrResourceExhausted indicates the decode would not fit in memory
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrCorruptImage indicates undecodable image data
	ErrCorruptImage = errors.New("corrupt image")

	// ErrUnsupportedType indicates a file type that is not an image we accept
	ErrUnsupportedType = errors.New("unsupported image type")

	// ErrInvalidInput indicates invalid request parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderNotFound indicates an unknown provider name
	ErrProviderNotFound = errors.New("provider not found")
)

// ArtworkError provides structured error information with context
type ArtworkError struct {
	Class   ErrorClass
	Op      string
	ID      int64
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *ArtworkError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s error in %s for %d: %v", e.Class, e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Class, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ArtworkError) Unwrap() error {
	return e.Err
}

// New creates a new ArtworkError
func New(class ErrorClass, op string, err error) *ArtworkError {
	return &ArtworkError{
		Class:   class,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithID attaches the id of the row being processed
func (e *ArtworkError) WithID(id int64) *ArtworkError {
	e.ID = id
	return e
}

// WithDetail adds a key-value detail to the error
func (e *ArtworkError) WithDetail(key string, value interface{}) *ArtworkError {
	e.Details[key] = value
	return e
}

// Error creation helpers

// Transient creates a retryable error
func Transient(op string, err error) *ArtworkError {
	return New(ClassTransient, op, err)
}

// Quality creates a validation rejection
func Quality(op string, err error) *ArtworkError {
	return New(ClassQuality, op, err)
}

// Storage creates a content store error
func Storage(op string, err error) *ArtworkError {
	return New(ClassStorage, op, err)
}

// Resource creates a resource exhaustion error
func Resource(op string, err error) *ArtworkError {
	return New(ClassResource, op, err)
}

// Corrupt creates a decode error
func Corrupt(op string, err error) *ArtworkError {
	return New(ClassCorrupt, op, err)
}

// Missing creates an error for a vanished cached original
func Missing(op string, err error) *ArtworkError {
	return New(ClassMissing, op, err)
}

// Validation creates an input error
func Validation(op string, err error) *ArtworkError {
	return New(ClassValidation, op, err)
}

// Internal creates an internal error
func Internal(op string, err error) *ArtworkError {
	return New(ClassInternal, op, err)
}

// Error checking helpers

// ClassOf returns the class of err. Unclassified errors are classified from
// the sentinel they wrap, falling back to ClassInternal.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var ae *ArtworkError
	if errors.As(err, &ae) {
		return ae.Class
	}
	switch {
	case errors.Is(err, ErrContentNotFound):
		return ClassMissing
	case errors.Is(err, ErrResourceExhausted):
		return ClassResource
	case errors.Is(err, ErrCorruptImage):
		return ClassCorrupt
	case errors.Is(err, ErrNoDimensions), errors.Is(err, ErrDegenerateImage),
		errors.Is(err, ErrUploadRequired), errors.Is(err, ErrSourceGone):
		return ClassQuality
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedType):
		return ClassValidation
	}
	return ClassInternal
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrContentNotFound)
}

// Wrap wraps an error with additional context
func Wrap(err error, class ErrorClass, op string) error {
	if err == nil {
		return nil
	}
	var ae *ArtworkError
	if errors.As(err, &ae) {
		return err
	}
	return New(class, op, err)
}

// GetOperation returns the operation from an ArtworkError
func GetOperation(err error) string {
	var ae *ArtworkError
	if errors.As(err, &ae) {
		return ae.Op
	}
	return ""
}
