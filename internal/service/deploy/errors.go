package deploy

import (
	"errors"
	"fmt"
	"time"

	"github.com/splax/sitedeploy/internal/admission"
)

var (
	// ErrUnauthenticated is returned when no caller identity accompanies a request.
	ErrUnauthenticated = errors.New("deploy: unauthenticated")
	// ErrValidation marks malformed or incomplete deploy input.
	ErrValidation = errors.New("deploy: invalid request")
	// ErrNotFound is returned when the project does not exist or belongs to someone else.
	ErrNotFound = errors.New("deploy: project not found")

	// ErrBusy and ErrConflict are the admission rejections surfaced by Deploy.
	ErrBusy     = admission.ErrBusy
	ErrConflict = admission.ErrConflict
)

// ProcessingError reports a fatal failure after a deploy was admitted.
type ProcessingError struct {
	Err     error
	Elapsed time.Duration
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("deploy failed after %s: %v", e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
