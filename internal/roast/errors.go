package roast

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL rejects a submission before any work is queued.
	ErrInvalidURL = errors.New("invalid or disallowed url")

	// ErrAllProvidersFailed means no model returned a usable critique.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrRecordNotFound is returned by record stores on unknown ids.
	ErrRecordNotFound = errors.New("roast record not found")
)

// NavigationError reports that a page could not be loaded after the full
// retry budget.
type NavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("failed to navigate to %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }
