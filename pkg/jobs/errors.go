package jobs

import "fmt"

// HTTPError reports a page load the outcome policy refused to continue past.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("page load failed with status %d: %s", e.StatusCode, e.URL)
}

// ActionError reports a broker script action that could not complete.
type ActionError struct {
	ActionID string
	Message  string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s failed: %s", e.ActionID, e.Message)
}
