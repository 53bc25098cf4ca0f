package pricing

import (
	"errors"
	"fmt"
)

// ErrValidation is matched (errors.Is) by every input error this package
// returns, so boundaries can map the whole family to one response.
var ErrValidation = errors.New("validation error")

var (
	ErrInvalidQuantity    = fmt.Errorf("%w: quantity must be >= 1", ErrValidation)
	ErrMalformedPrice     = fmt.Errorf("%w: malformed price", ErrValidation)
	ErrNegativePrice      = fmt.Errorf("%w: price must not be negative", ErrValidation)
	ErrProductUnavailable = fmt.Errorf("%w: product is unavailable", ErrValidation)
)

// Bound names which side of a group's cardinality was violated.
type Bound string

const (
	BoundMin Bound = "min"
	BoundMax Bound = "max"
)

// SelectionConstraintViolation reports an addon group whose selection count
// falls outside its bounds.
type SelectionConstraintViolation struct {
	GroupID   string
	GroupName string
	Bound     Bound
	Expected  int
	Got       int
}

func (e *SelectionConstraintViolation) Error() string {
	return fmt.Sprintf("addon group %s: %s selections %d, got %d", e.GroupID, e.Bound, e.Expected, e.Got)
}

// Is makes the violation match ErrValidation.
func (e *SelectionConstraintViolation) Is(target error) bool { return target == ErrValidation }

// InvalidAddonError reports an addon id that is unknown to the product,
// unavailable, or selected twice.
type InvalidAddonError struct {
	AddonID string
	Reason  string
}

func (e *InvalidAddonError) Error() string {
	return fmt.Sprintf("invalid addon %s: %s", e.AddonID, e.Reason)
}

// Is makes the error match ErrValidation.
func (e *InvalidAddonError) Is(target error) bool { return target == ErrValidation }
