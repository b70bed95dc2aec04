// Package errors provides structured error types for the cache subsystem.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrUnknownCache  = errors.New("unknown cache")
	ErrInvalidFactor = errors.New("invalid cache factor")
	ErrInvalidConfig = errors.New("invalid config")
	ErrDuplicate     = errors.New("cache already registered")
)

// FactorError reports a scale factor that is not usable.
type FactorError struct {
	Cache  string // empty for the global factor
	Factor float64
}

func (e *FactorError) Error() string {
	if e.Cache == "" {
		return fmt.Sprintf("global cache factor %v must be finite and > 0", e.Factor)
	}
	return fmt.Sprintf("cache factor %v for %q must be finite and > 0", e.Factor, e.Cache)
}

func (e *FactorError) Unwrap() error { return ErrInvalidFactor }

// IsNotFound returns true if err means a named cache does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownCache)
}

// IsInvalid returns true if err was caused by bad caller input.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidFactor) || errors.Is(err, ErrInvalidConfig)
}
