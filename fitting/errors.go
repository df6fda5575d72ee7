package fitting

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMode is generated when a mode outside {0, 1, 2} is requested
	ErrInvalidMode = errors.New("invalid mode")

	// ErrNotFitted is generated when a fit output is requested before Fit succeeded
	ErrNotFitted = errors.New(".Fit() has not been run, run it first")

	// ErrNoData is generated when Fit is called before LoadData
	ErrNoData = errors.New("no data loaded, call LoadData first")

	// ErrDidNotConverge is generated when the solver could not find optimal parameters
	ErrDidNotConverge = errors.New("optimal parameters not found")

	// ErrShapeMismatch is generated when x, y, their errors or the initial
	// parameters do not have compatible lengths
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInvalidSigma is generated when a y uncertainty is not strictly
	// positive or an x uncertainty is negative
	ErrInvalidSigma = errors.New("invalid uncertainty")

	// ErrNonPhysical is generated when the ISO parameters do not describe a
	// real beam (4ac - b² <= 0)
	ErrNonPhysical = errors.New("fit parameters do not describe a physical beam")
)

// DubiousFitError is a non-fatal condition attached to a fit whose stopping
// reason signals low confidence.  The result it is attached to is still usable.
type DubiousFitError struct {
	Info       int
	StopReason []string
}

func (e *DubiousFitError) Error() string {
	return fmt.Sprintf("fit is dubious (info=%d). Reasons for convergence:\n\t%s",
		e.Info, strings.Join(e.StopReason, "\n\t"))
}
