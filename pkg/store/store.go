// Package store persists trained models to disk or Redis.
package store

import (
	"errors"
	"fmt"

	"github.com/zpam/mailclass/pkg/maxent"
)

// Errors returned by stores. Use errors.Is to match them.
var (
	ErrNotFound             = errors.New("model file not found")
	ErrPermission           = errors.New("permission denied reading model")
	ErrNoModelFound         = errors.New("no model file in directory")
	ErrCorruptModel         = errors.New("model could not be decoded")
	ErrPersistenceExhausted = errors.New("no writable location for model")
)

// Store saves and loads models by reference. For FileStore the reference is a
// path, for RedisStore it is a model name.
type Store interface {
	Save(m *maxent.Model, ref string) (string, error)
	Load(ref string) (*maxent.Model, error)
}

// Reason classifies a failed write
type Reason int

const (
	// ReasonIO is any failure other than permissions
	ReasonIO Reason = iota
	// ReasonTargetPermission means the target file exists but is not writable
	ReasonTargetPermission
	// ReasonParentPermission means the target's directory is not writable
	ReasonParentPermission
)

func (r Reason) String() string {
	switch r {
	case ReasonTargetPermission:
		return "target not writable"
	case ReasonParentPermission:
		return "directory not writable"
	default:
		return "i/o error"
	}
}

// WriteError reports a failed save to one location
type WriteError struct {
	Path   string
	Reason Reason
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write model to %s (%s): %v", e.Path, e.Reason, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every fallback location failed
type ExhaustedError struct {
	Attempts []string
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrPersistenceExhausted, len(e.Attempts), e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrPersistenceExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
