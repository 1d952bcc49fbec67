package app

import (
	"errors"
	"fmt"

	"github.com/hylla/wbs/internal/domain"
)

// Error kinds surfaced to callers.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrStructuralIntegrity = errors.New("structural integrity violation")
	ErrStore               = errors.New("store error")
)

// Specific invalid operations. Each one matches ErrInvalidOperation with errors.Is.
var (
	ErrCannotPromoteRoot     = fmt.Errorf("%w: cannot promote root", ErrInvalidOperation)
	ErrNoParent              = fmt.Errorf("%w: no parent", ErrInvalidOperation)
	ErrCannotDemoteLeafLevel = fmt.Errorf("%w: cannot demote leaf-level (L4)", ErrInvalidOperation)
	ErrNoPreviousSibling     = fmt.Errorf("%w: no previous sibling", ErrInvalidOperation)
	ErrSelfParent            = fmt.Errorf("%w: cannot set self as parent", ErrInvalidOperation)
	ErrCycle                 = fmt.Errorf("%w: target parent is a descendant", ErrInvalidOperation)
	ErrSubtreeTooDeep        = fmt.Errorf("%w: subtree would exceed L4", ErrInvalidOperation)
	ErrLeafLevelParent       = fmt.Errorf("%w: L4 items cannot have children", ErrInvalidOperation)
	ErrProgressDerived       = fmt.Errorf("%w: progress is derived from children", ErrInvalidOperation)
	ErrCrossProject          = fmt.Errorf("%w: parent belongs to another project", ErrInvalidOperation)
)

// validationErrors lists domain validation sentinels passed through unchanged.
var validationErrors = []error{
	domain.ErrInvalidID,
	domain.ErrInvalidName,
	domain.ErrInvalidTitle,
	domain.ErrInvalidLevel,
	domain.ErrInvalidParentID,
	domain.ErrInvalidPosition,
	domain.ErrInvalidWeight,
	domain.ErrInvalidProgress,
	domain.ErrInvalidCode,
}

// IsValidationError reports whether err is a domain input validation failure.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storeError classifies err; anything outside the known kinds becomes ErrStore.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrStructuralIntegrity),
		errors.Is(err, ErrStore),
		IsValidationError(err):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
}

// integrityError reports one inconsistency in the persisted tree.
func integrityError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStructuralIntegrity, fmt.Sprintf(format, args...))
}
