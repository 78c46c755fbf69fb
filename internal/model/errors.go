package model

import "errors"

var (
	// ErrMissingMatchData means no first-innings total exists for a match, so no target can be derived.
	ErrMissingMatchData = errors.New("missing match data")

	// ErrInsufficientSample means a bucket exists but holds fewer than the configured minimum observations.
	ErrInsufficientSample = errors.New("insufficient sample")

	// ErrBucketNotFound means no bucket exists for the key at a given scope.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrTemporalLeakage means the only available bucket was computed from data later than the as-of date.
	ErrTemporalLeakage = errors.New("temporal leakage: bucket computed after as-of date")

	// ErrPersistenceConflict means a bucket swap found its staged partition incomplete.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrInvalidState is returned for malformed match states (negative counts, more than 10 wickets).
	ErrInvalidState = errors.New("invalid match state")

	// ErrNotChase is returned when chase-only logic is asked to handle a first innings.
	ErrNotChase = errors.New("not a chase innings")
)
