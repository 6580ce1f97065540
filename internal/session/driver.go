package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrTimedOut is returned (possibly wrapped) by Driver.WaitForElement when the
// element did not appear within the wait.
var ErrTimedOut = errors.New("timed out waiting for element")

// Driver is the browser-automation surface the session runs against.
// Selectors starting with "//" are XPath, anything else is a CSS query.
type Driver interface {
	// Open navigates to url.
	Open(ctx context.Context, url string) error
	// WaitForElement blocks until selector is visible or timeout elapses,
	// returning ErrTimedOut in the latter case.
	WaitForElement(ctx context.Context, selector string, timeout time.Duration) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// SendAdvanceKey advances to the next content item (Page Down).
	SendAdvanceKey(ctx context.Context) error
	// Eval runs js in the page and returns the result as raw JSON.
	Eval(ctx context.Context, js string) (json.RawMessage, error)
	// Quit tears the browser down. Safe to call exactly once.
	Quit() error
}

// ConsentResult says how the best-effort consent-prompt dismissal went.
// It is the one intentionally swallowed failure in the session.
type ConsentResult int

const (
	// ConsentHandled means the prompt appeared and was clicked away.
	ConsentHandled ConsentResult = iota
	// ConsentNotFound means no prompt appeared within the wait.
	ConsentNotFound
	// ConsentError means the driver failed mid-dismissal; ignored.
	ConsentError
)

func (r ConsentResult) String() string {
	switch r {
	case ConsentHandled:
		return "handled"
	case ConsentNotFound:
		return "not found"
	default:
		return "error ignored"
	}
}
