package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/picklr-io/sysconverge/internal/ir"
)

// ErrSealed is returned when a contribution is registered after the
// aggregation snapshot was taken.
var ErrSealed = errors.New("contribution set is sealed")

// ValidationError reports a declaration that cannot be converged. It is
// always raised before any OS mutation.
type ValidationError struct {
	ID  string
	Msg string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.ID, e.Msg)
}

// DuplicateIDError reports a second resource registered under the same id.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate resource id %q", e.ID)
}

// Is places the error in the validation class; see IsValidation.
func (e *DuplicateIDError) Is(target error) bool { return target == errValidation }

// DuplicateAccountError reports a second contribution for one account.
type DuplicateAccountError struct {
	AccountID string
}

func (e *DuplicateAccountError) Error() string {
	return fmt.Sprintf("duplicate contribution for account %q", e.AccountID)
}

func (e *DuplicateAccountError) Is(target error) bool { return target == errValidation }

// InvalidStateError reports a desired state other than present or absent.
type InvalidStateError struct {
	ID    string
	State ir.DesiredState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: invalid desired state %q (want %q or %q)", e.ID, e.State, ir.Present, ir.Absent)
}

func (e *InvalidStateError) Is(target error) bool { return target == errValidation }

func (e *ValidationError) Is(target error) bool { return target == errValidation }

var errValidation = errors.New("validation")

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, errValidation)
}

// CycleError reports a dependency cycle. Cycle starts and ends with the same id.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
}

// AggregationError reports contributions that cannot be merged. It is fatal
// to the aggregation resource only.
type AggregationError struct {
	AccountID string
	Msg       string
}

func (e *AggregationError) Error() string {
	if e.AccountID == "" {
		return "aggregation: " + e.Msg
	}
	return fmt.Sprintf("aggregation: account %q: %s", e.AccountID, e.Msg)
}
