package domain

import (
	"errors"
	"fmt"
	"strings"
)

type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

var (
	ErrNotFound   = errors.New("resource not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflicting concurrent write")
	ErrValidation = errors.New("validation failed")
	ErrState      = errors.New("invalid poll state")
)

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors collects every field failure found in one input.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Err returns nil for an empty collection so callers can return it directly.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// StateError is a request that is well formed but not allowed in the poll's
// current state.
type StateError struct {
	Code    string
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

func (e *StateError) Is(target error) bool {
	return target == ErrState
}

var (
	ErrVotingClosed      = &StateError{Code: "voting_closed", Message: "poll is not accepting votes"}
	ErrDeadlinePassed    = &StateError{Code: "deadline_passed", Message: "voting deadline has passed"}
	ErrProposalsClosed   = &StateError{Code: "proposals_closed", Message: "poll is not accepting new options"}
	ErrPollClosed        = &StateError{Code: "poll_closed", Message: "poll is closed"}
	ErrNoOptions         = &StateError{Code: "no_options", Message: "poll has no options"}
	ErrNoVotes           = &StateError{Code: "no_votes", Message: "poll has no eligible votes"}
	ErrIllegalTransition = &StateError{Code: "illegal_transition", Message: "illegal phase transition"}
)

// TransitionError names the rejected phase pair.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal phase transition from %q to %q", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrState || target == ErrIllegalTransition
}

// ErrorResponse is the JSON body of every failed HTTP request.
type ErrorResponse struct {
	Error  string             `json:"error"`
	Code   string             `json:"code,omitempty"`
	Fields []*ValidationError `json:"fields,omitempty"`
}

// StateCode extracts the machine readable code of a state error.
func StateCode(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return ErrIllegalTransition.Code
	}
	var se *StateError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
