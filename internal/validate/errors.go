// Package validate gates writes into the ledger. Event checks run on every
// Append; atom definition checks run over authored batches before they are
// registered. Every check collects all problems instead of failing fast.
package validate

import (
	"fmt"
	"strings"
)

// Validation error codes (E200-E299)
const (
	// Event input errors (E200-E209)
	ErrInvalidUID       = "E200" // atom_uid is not a 26-char ULID
	ErrInvalidEventType = "E201" // unknown event_type
	ErrInvalidKey       = "E202" // malformed or missing atom_key
	ErrInvalidMeta      = "E203" // meta field missing or of the wrong shape
	ErrInvalidDeps      = "E204" // deps is not a list of uids
	ErrSelfReference    = "E205" // uid refers to itself
	ErrInvalidCorrected = "E206" // corrected event without a usable intended_type
	ErrNonCanonicalMeta = "E207" // meta holds nulls or floats
	ErrSchema           = "E208" // atom definition fails the CUE schema
	ErrMissingTimestamp = "E209" // event_ts is zero or not representable

	// Integrity errors (E210-E219)
	ErrDuplicateUID = "E210" // atom_uid already defined or created
	ErrKeyCollision = "E211" // atom_key held by another atom in its scope
	ErrUnknownDep   = "E212" // deps entry names an unknown atom
	ErrStatusFields = "E213" // status without its companion field
	ErrCycle        = "E214" // dependency cycle
	ErrUnknownAtom  = "E215" // event for an atom that was never created
	ErrTerminalAtom = "E216" // created for an atom already retired
	ErrLoadFailed   = "E217" // definition file could not be read or parsed
)

// ValidationError is one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Errors carries every validation failure of one operation.
type Errors []ValidationError

func (e Errors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(parts, "; "))
}

// Codes returns the code of each error, in order.
func (e Errors) Codes() []string {
	out := make([]string, len(e))
	for i, ve := range e {
		out[i] = ve.Code
	}
	return out
}

// AsError returns nil for an empty list and Errors otherwise.
func AsError(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	return Errors(errs)
}
