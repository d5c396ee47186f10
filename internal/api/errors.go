package api

import "errors"

// Input-state errors. None of them are retriable: the caller has to add data
// (or train) before trying again.
var (
	ErrInsufficientData       = errors.New("not enough trip data to train a model")
	ErrInsufficientHistory    = errors.New("need at least 14 days of data to train a model")
	ErrModelNotFound          = errors.New("model not found, train first")
	ErrInsufficientPopulation = errors.New("not enough users with sufficient trip data for clustering")
)

// Validation errors
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidHorizon   = errors.New("horizon_days must be between 1 and 365")
	ErrInvalidTestRatio = errors.New("test ratio must be in (0, 1)")
)
