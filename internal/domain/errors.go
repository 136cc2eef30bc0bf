package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists, or that a tenant/bundle pair already has an active
	// rollout.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition. It is never retried automatically.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTransition indicates that a lifecycle method was invoked
	// from a state that does not allow it. See [TransitionError].
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflict indicates that a rollout was modified concurrently and
	// the write was rejected by the optimistic concurrency check.
	ErrConflict = errors.New("concurrent modification")

	// ErrTargetResolution indicates that the target resolver could not
	// produce the device set for a rollout. Transient.
	ErrTargetResolution = errors.New("target resolution failed")

	// ErrDispatch indicates that desired state could not be written for
	// one or more devices. Transient.
	ErrDispatch = errors.New("dispatch failed")
)

// TransitionError describes an illegal lifecycle call. It matches
// [ErrInvalidTransition] with [errors.Is].
type TransitionError struct {
	Entity  string
	ID      string
	Current string
	Action  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from status %q", e.Entity, e.ID, e.Action, e.Current)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
