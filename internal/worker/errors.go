package worker

import (
	"errors"
	"net/http"
)

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("job queue is closed")

// invalidInputError reports a job envelope that failed schema validation.
type invalidInputError struct{ msg string }

func (e invalidInputError) Error() string   { return "invalid job input: " + e.msg }
func (e invalidInputError) StatusCode() int { return http.StatusBadRequest }

// IsInvalidInput reports whether err came from job validation.
func IsInvalidInput(err error) bool {
	var e invalidInputError
	return errors.As(err, &e)
}

// jobNotFoundError is returned for unknown or expired job ids.
type jobNotFoundError struct{ id string }

func (e jobNotFoundError) Error() string   { return "job not found: " + e.id }
func (e jobNotFoundError) StatusCode() int { return http.StatusNotFound }

// IsJobNotFound reports whether err indicates a missing job.
func IsJobNotFound(err error) bool {
	var e jobNotFoundError
	return errors.As(err, &e)
}

// jobConflictError is returned by Submit when the id is already tracked.
type jobConflictError struct{ id string }

func (e jobConflictError) Error() string   { return "job already exists: " + e.id }
func (e jobConflictError) StatusCode() int { return http.StatusConflict }

// IsJobConflict reports whether err came from a duplicate job id.
func IsJobConflict(err error) bool {
	var e jobConflictError
	return errors.As(err, &e)
}

// IsQueueFull reports whether err indicates backpressure (return 429).
func IsQueueFull(err error) bool { return errors.Is(err, ErrQueueFull) }
