package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDeliveryFailure   = errors.New("delivery failed")
	ErrForbidden         = errors.New("admin role required")
)

// ValidationError lists every problem found in a rejected submission.
type ValidationError struct {
	Problems []string
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IllegalTransitionError is returned when a transition does not apply to
// the order's current status. The order is left unchanged.
type IllegalTransitionError struct {
	OrderID    string
	From       Status
	Transition Transition
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s order %s from %s", ErrIllegalTransition, e.Transition, e.OrderID, e.From)
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// NotFound wraps ErrOrderNotFound with the missing id.
func NotFound(id string) error {
	return errors.Wrapf(ErrOrderNotFound, "order %s", id)
}
