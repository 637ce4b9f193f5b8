package common

import (
	"fmt"
)

// NamespaceNotSelectedError a namespace scoped operation was called before a namespace
// was selected. No network call is made when this is returned.
type NamespaceNotSelectedError struct {
	// Operation is the operation which was refused
	Operation string
}

func (e NamespaceNotSelectedError) Error() string {
	return fmt.Sprintf("%s: no namespace selected", e.Operation)
}

// NamespaceNotFoundError the namespace is not known to the backend
type NamespaceNotFoundError struct {
	Namespace string
}

func (e NamespaceNotFoundError) Error() string {
	return fmt.Sprintf("namespace '%s' not found", e.Namespace)
}

// TransportError the backend replied with a non-2xx status
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	// Body is the raw response body
	Body string
}

func (e TransportError) Error() string {
	return fmt.Sprintf(
		"%s %s failed with status %d: %s", e.Method, e.URL, e.StatusCode, e.Body,
	)
}

// DecodeError a successful response could not be decoded
type DecodeError struct {
	URL string
	Err error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("unable to decode response from %s: %s", e.URL, e.Err)
}

// Unwrap return the underlying decode failure
func (e DecodeError) Unwrap() error {
	return e.Err
}

// StreamError a failure of the streaming connection of a subscription
type StreamError struct {
	Channel string
	URL     string
	Err     error
}

func (e StreamError) Error() string {
	return fmt.Sprintf("channel '%s' stream %s failed: %s", e.Channel, e.URL, e.Err)
}

// Unwrap return the underlying connection failure
func (e StreamError) Unwrap() error {
	return e.Err
}
