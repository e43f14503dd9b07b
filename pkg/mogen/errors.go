package mogen

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelUnavailable marks a backend that cannot be reached or does
	// not answer within the configured timeout. Not retried automatically.
	ErrChannelUnavailable = errors.New("generation channel unavailable")

	// ErrProtocol marks a malformed or oversized backend response.
	ErrProtocol = errors.New("generation protocol error")

	// ErrBusy is returned when a Generate call is issued while another is
	// outstanding on the same client. Callers serialize requests.
	ErrBusy = errors.New("generation request already outstanding")
)

// RejectedError is a structured failure reported by the backend itself.
type RejectedError struct {
	Code    string
	Message string
}

// Error executes the error method.
func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("generation rejected: %s", e.Code)
	}
	return fmt.Sprintf("generation rejected: %s: %s", e.Code, e.Message)
}
