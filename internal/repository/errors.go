// Package repository holds the MySQL data access layer. Sentinel errors
// defined here let the service layer distinguish missing rows and lost
// optimistic-concurrency races from genuine storage failures.
package repository

import "errors"

// ErrShowNotFound indicates that a show was not located in the DB.
var ErrShowNotFound = errors.New("show not found")

// ErrBookingNotFound indicates that a booking does not exist (or was
// already released).
var ErrBookingNotFound = errors.New("booking not found")

// ErrVersionConflict is returned by a compare-and-swap write when another
// writer bumped the row version first. Callers re-read and retry.
var ErrVersionConflict = errors.New("version conflict")

// ErrEmailExists is returned when registering an email that is taken.
var ErrEmailExists = errors.New("email already exists")
