// Package errors holds the sentinel errors shared across archdex and small
// helpers for adding context to them.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Common error types.
var (
	// Metadata errors.
	ErrUnknownKey   = fmt.Errorf("unrecognized desc key")
	ErrMissingField = fmt.Errorf("required desc field missing")

	// Transport errors.
	ErrFetchFailed  = fmt.Errorf("mirror fetch failed")
	ErrSubmitFailed = fmt.Errorf("document submission failed")

	// Archive errors.
	ErrUnsupportedArchive = fmt.Errorf("unsupported archive format")

	// Config errors.
	ErrEmptyConfigPath    = fmt.Errorf("config file path cannot be empty")
	ErrConfigParse        = fmt.Errorf("failed to parse config")
	ErrConfigValidation   = fmt.Errorf("invalid configuration")
	ErrConfigEncode       = fmt.Errorf("failed to encode config")
	ErrConfigFileExists   = fmt.Errorf("configuration file already exists")
	ErrNoRepositories     = fmt.Errorf("no repositories configured")
	ErrDuplicateRepo      = fmt.Errorf("repository listed more than once")
	ErrConcurrencyInvalid = fmt.Errorf("concurrency must be at least 1")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Join returns an error wrapping every non-nil err, or nil if there are none.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
