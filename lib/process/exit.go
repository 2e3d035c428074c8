// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Fatal writes "binary: err" to stderr and exits with code 1. main
// calls it with the error from run, when the logger may not exist.
func Fatal(binary string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", binary, err)
	os.Exit(ExitCode(err))
}

// ExitCode is 2 for usage errors and 1 for everything else.
func ExitCode(err error) int {
	var usage UsageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}

// UsageError marks an error caused by bad command-line arguments.
type UsageError struct {
	Err error
}

func (e UsageError) Error() string { return e.Err.Error() }
func (e UsageError) Unwrap() error { return e.Err }

// Usage wraps a formatted message as a UsageError.
func Usage(format string, args ...any) error {
	return UsageError{Err: fmt.Errorf(format, args...)}
}
