package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op       string
	err      error
	category errorCategory
}

type errorCategory int

const (
	categoryOther errorCategory = iota
	categoryNotFound
	categoryConflict
	categoryUnavailable
)

var grpcCategories = map[codes.Code]errorCategory{
	codes.NotFound:           categoryNotFound,
	codes.AlreadyExists:      categoryConflict,
	codes.FailedPrecondition: categoryConflict,
	codes.Aborted:            categoryConflict,
	codes.OutOfRange:         categoryConflict,
	codes.Unavailable:        categoryUnavailable,
	codes.ResourceExhausted:  categoryUnavailable,
	codes.Internal:           categoryUnavailable,
	codes.DeadlineExceeded:   categoryUnavailable,
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.category == categoryNotFound }

// IsConflict reports whether the error represents a conflicting or contended write.
func (e *Error) IsConflict() bool { return e != nil && e.category == categoryConflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.category == categoryUnavailable }

// NotFoundError reports a missing document without a round trip through gRPC status codes.
func NotFoundError(op, path string) error {
	return &Error{op: op, err: fmt.Errorf("%s not found", path), category: categoryNotFound}
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return &Error{op: op, err: err, category: grpcCategories[code]}
}
