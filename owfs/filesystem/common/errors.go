package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Common error types used across filesystem packages
var (
	ErrPathEmpty          = errors.New("path cannot be empty")
	ErrPathInvalid        = errors.New("path contains invalid characters")
	ErrSourceNotExist     = errors.New("source does not exist")
	ErrNotAFile           = errors.New("path is not a file")
	ErrNotADirectory      = errors.New("path is not a directory")
	ErrIntervalOutOfRange = errors.New("detection interval out of range")
	ErrInconsistentTree   = errors.New("snapshot bookkeeping is inconsistent")
	ErrClosed             = errors.New("watch manager is closed")
	ErrHandlerPanic       = errors.New("subscription handler panicked")
)

// ErrorUtils provides common error handling utilities
type ErrorUtils struct{}

// NewErrorUtils creates a new ErrorUtils instance
func NewErrorUtils() *ErrorUtils {
	return &ErrorUtils{}
}

// WrapError wraps an error with additional context
func (eu *ErrorUtils) WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// LogAndWrapError logs an error and wraps it with context
func (eu *ErrorUtils) LogAndWrapError(logger *slog.Logger, err error, level slog.Level, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	msg := fmt.Sprintf(message, args...)
	logger.Log(context.Background(), level, msg, "error", err)

	return fmt.Errorf("%s: %w", msg, err)
}
