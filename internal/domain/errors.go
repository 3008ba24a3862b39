package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelDisabled is returned by a notifier whose config is absent or disabled.
	ErrChannelDisabled = errors.New("notification channel disabled")
	// ErrChannelUnsupported is returned when the host cannot deliver on a channel.
	ErrChannelUnsupported = errors.New("notification channel unsupported on this host")
	// ErrScheduleNotFound is returned for unknown schedule ids.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// FetchError is a retriable failure pulling or parsing external data.
type FetchError struct {
	Protocol Protocol
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Protocol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retriable marks fetch failures as safe to retry.
func (e *FetchError) Retriable() bool { return true }

// UnknownProtocolError reports a protocol id outside the tracked set.
type UnknownProtocolError struct {
	Protocol string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("unknown protocol %q", e.Protocol)
}

// AlreadyFetchingError rejects a fetch while another fetch of the same protocol runs.
type AlreadyFetchingError struct {
	Protocol Protocol
}

func (e *AlreadyFetchingError) Error() string {
	return fmt.Sprintf("protocol %s is already being fetched", e.Protocol)
}

// ClassificationError is absorbed by the rule-based fallback.
type ClassificationError struct {
	ProposalID string
	Err        error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s: %v", e.ProposalID, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// NotificationChannelError wraps a per-channel send failure.
type NotificationChannelError struct {
	Channel Channel
	Err     error
}

func (e *NotificationChannelError) Error() string {
	return fmt.Sprintf("notify via %s: %v", e.Channel, e.Err)
}

func (e *NotificationChannelError) Unwrap() error { return e.Err }

// IsRetriable reports whether err carries a retriable fetch failure.
func IsRetriable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retriable()
}
