package model

import "errors"

// Error taxonomy shared across the formulation and control paths.
var (
	// ErrInvalidHorizon reports a horizon with stop <= start or a non
	// positive interval. Fatal to the formulation call.
	ErrInvalidHorizon = errors.New("invalid horizon")

	// ErrInvalidInput reports a malformed external series such as a wrong
	// length or a non binary availability mask. Fatal to the device
	// formulation that received it.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlignmentMismatch reports global series (price, power limit, non
	// controllable load) that disagree in length or start date. Fatal to
	// the whole cycle.
	ErrAlignmentMismatch = errors.New("series alignment mismatch")

	// ErrSolverFailure reports a solve that did not reach a solution
	// present status.
	ErrSolverFailure = errors.New("solver failure")

	// ErrLearningFailure reports a thermal model fit that could not be
	// completed. Recovered via the default model, never fatal to a cycle.
	ErrLearningFailure = errors.New("thermal learning failure")
)
