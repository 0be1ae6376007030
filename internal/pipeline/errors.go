// Package pipeline runs a schedule through the recommendation stages and
// persists the resulting session.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/zenflow/internal/advisor"
	"github.com/kalambet/zenflow/internal/usage"
)

var (
	// ErrEmptySchedule is returned by Analyze for blank input.
	ErrEmptySchedule = errors.New("empty schedule")
	// ErrInFlight is returned when a run is already in progress.
	ErrInFlight = errors.New("a recommendation is already in progress")
	// ErrLimitReached matches LimitError via errors.Is.
	ErrLimitReached = errors.New("usage limit reached")
)

// LimitError is returned when the usage gate is closed. It is the paywall
// path rather than a failure.
type LimitError struct {
	State usage.State
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("usage limit reached (%d of %d free recommendations used)", e.State.Count, usage.Limit)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitReached
}

// User-facing notices.
const (
	NoticeImageFailed  = "Could not generate a pose illustration at this time."
	NoticeVideosFailed = "Could not fetch video suggestions at this time."
	NoticeVideoFormat  = "Video suggestions came back in an unexpected format."
	MessageEmpty       = "Please paste or sync your calendar schedule first."
	MessageLimit       = "You have used all your free recommendations. Share ZenFlow or subscribe for unlimited access."
	MessageInFlight    = "A recommendation is already in progress."
	MessageCancelled   = "The request was cancelled."
	MessageTimeout     = "The request timed out. Please try again."
	MessageUnknown     = "An unknown error occurred."
)

func videoNotice(err error) string {
	if errors.Is(err, advisor.ErrVideoFormat) {
		return NoticeVideoFormat
	}
	return NoticeVideosFailed
}

// UserMessage maps an error from Analyze or Run to the text shown to the
// user. Backend errors keep their own message; errors without one get a
// generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptySchedule):
		return MessageEmpty
	case errors.Is(err, ErrLimitReached):
		return MessageLimit
	case errors.Is(err, ErrInFlight):
		return MessageInFlight
	case errors.Is(err, context.Canceled):
		return MessageCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return MessageTimeout
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return MessageUnknown
}
