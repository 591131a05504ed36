package costing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrCycle          = errors.New("recipe cycle detected")
	ErrRecipeNotFound = errors.New("recipe not found")
	ErrItemNotFound   = errors.New("item not found")

	ErrNegativeConsumption = errors.New("recipe consumes a negative quantity")
)

// CycleError reports a recipe that reappears in its own ingredient chain.
// Path starts at the root recipe and ends with the repeated id.
type CycleError struct {
	Path []int
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, id := range e.Path {
		parts = append(parts, strconv.Itoa(id))
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(parts, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// IsIntegrityError reports whether err comes from bad recipe data rather than I/O.
// Such errors will not go away on retry.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrCycle) || errors.Is(err, ErrRecipeNotFound) || errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrNegativeConsumption)
}
