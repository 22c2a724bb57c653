package learning

import (
	"errors"
	"fmt"
)

var (
	// ErrTraining is matched by every *TrainingError
	ErrTraining = errors.New("training failed")

	// ErrNotTrained is returned when classifying before a model is trained or loaded
	ErrNotTrained = errors.New("classifier is not trained")

	// ErrModelLoad is matched by every *ModelLoadError
	ErrModelLoad = errors.New("failed to load model")
)

// TrainingError reports the stage at which training failed
type TrainingError struct {
	Stage string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed during %s: %v", e.Stage, e.Err)
}

func (e *TrainingError) Is(target error) bool {
	return target == ErrTraining
}

func (e *TrainingError) Unwrap() error {
	return e.Err
}

// ModelLoadError wraps the store failure behind a Load call
type ModelLoadError struct {
	Ref string
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Ref, e.Err)
}

func (e *ModelLoadError) Is(target error) bool {
	return target == ErrModelLoad
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}
