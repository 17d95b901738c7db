package announce

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means a tier could not be attempted at all (no
	// audio reference, no voice loaded, no device). It triggers the next tier.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrPlaybackFailure means a tier was attempted and failed. It triggers the
	// next tier.
	ErrPlaybackFailure = errors.New("playback failure")
)

// ValidationError reports a malformed request. Such requests never enter the
// queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid announcement: %s %s", e.Field, e.Reason)
}

// EngineFault wraps an unexpected failure caught at the drain loop boundary,
// including recovered panics. The affected announcement is marked failed and
// draining continues.
type EngineFault struct {
	AnnouncementID string
	Cause          error
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("engine fault on %s: %v", e.AnnouncementID, e.Cause)
}

func (e *EngineFault) Unwrap() error { return e.Cause }

// Unavailable wraps reason with [ErrBackendUnavailable].
func Unavailable(method Method, reason string) error {
	return fmt.Errorf("%s: %w: %s", method, ErrBackendUnavailable, reason)
}

// PlaybackFailed wraps err with [ErrPlaybackFailure].
func PlaybackFailed(method Method, err error) error {
	return fmt.Errorf("%s: %w: %v", method, ErrPlaybackFailure, err)
}
