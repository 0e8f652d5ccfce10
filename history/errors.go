package history

import (
	"fmt"
	"net/http"
)

const genericFetchMessage = "the chat server could not complete the request"

// FetchError is a failed REST call, carrying the human-readable message
// extracted from the server's error body (or a generic fallback).
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("history: server returned %d: %s", e.Status, e.Message)
}

// Unauthorized reports whether the session credentials were rejected. The
// embedding application owns the redirect-to-login reaction.
func (e *FetchError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}
