package objstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrorKind separates a confirmed-missing object from a failure to talk to
// the object store.
type ErrorKind int

const (
	KindIOFailure ErrorKind = iota
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	default:
		return "io failure"
	}
}

// Sentinels matched by kind through errors.Is.
var (
	ErrNotFound  = errors.New("object not found")
	ErrIOFailure = errors.New("object store failure")
)

// StorageError is returned by every Client operation that fails.
type StorageError struct {
	Kind ErrorKind
	Op   string
	Key  string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("objstore: %s %s: %s", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("objstore: %s %s: %s: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) and errors.Is(err, ErrIOFailure) match on Kind.
func (e *StorageError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrIOFailure:
		return e.Kind == KindIOFailure
	}
	return false
}

// IsNotFound reports whether err is a StorageError of kind NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// wrapError converts an SDK error into a StorageError.
func wrapError(op, key string, err error) error {
	kind := KindIOFailure
	if isMissingObject(err) {
		kind = KindNotFound
	}
	return &StorageError{Kind: kind, Op: op, Key: key, Err: err}
}

type httpStatusError interface {
	HTTPStatusCode() int
}

// isMissingObject recognises the ways S3-compatible stores say "no such key".
// A missing bucket is a deployment problem, not a missing object.
func isMissingObject(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		case "NoSuchBucket":
			return false
		}
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
