// Package errors defines the typed errors shared across tokenquota. Callers
// match them with errors.As; IsInvalidInput and IsUnavailable cover the two
// classes the API and CLI map to distinct responses.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// IsInvalidInput reports whether err wraps *ErrInvalidInput.
func IsInvalidInput(err error) bool {
	var target *ErrInvalidInput
	return stderrors.As(err, &target)
}

// IsUnavailable reports whether err wraps *ErrBackendUnavailable and returns it.
func IsUnavailable(err error) (*ErrBackendUnavailable, bool) {
	var target *ErrBackendUnavailable
	ok := stderrors.As(err, &target)
	return target, ok
}

// Input errors

// ErrInvalidInput reports a rejected argument or configuration value.
// It is always returned before any storage access.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Quota errors

// ErrQuotaExceeded is returned by a wrapped call with throw-on-limit set
// when the identity is already over quota.
type ErrQuotaExceeded struct {
	Identity string
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for identity %s", e.Identity)
}

// Backend errors

// ErrBackendUnavailable reports a storage call that was refused or timed out
// before reaching a result. RetryAfter is set when the backend is known to be
// off limits for a while.
type ErrBackendUnavailable struct {
	Backend    string
	Operation  string
	RetryAfter time.Duration
	Err        error
}

func (e *ErrBackendUnavailable) Error() string {
	return fmt.Sprintf("%s %s unavailable: %v", e.Backend, e.Operation, e.Err)
}

func (e *ErrBackendUnavailable) Unwrap() error {
	return e.Err
}

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Storage errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// ErrLedgerDecode reports a stored ledger payload that could not be decoded.
type ErrLedgerDecode struct {
	Identity string
	Err      error
}

func (e *ErrLedgerDecode) Error() string {
	return fmt.Sprintf("failed to decode ledger for %s: %v", e.Identity, e.Err)
}

func (e *ErrLedgerDecode) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}
