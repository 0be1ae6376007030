// Package calendar supplies schedule text from a calendar provider or an
// exported file.
package calendar

import (
	"context"
	"errors"
	"strings"
)

// NoEventsText is returned when the day has no events.
const NoEventsText = "No upcoming events found for today."

var (
	// ErrNotConfigured means the API key or client ID is missing or still a
	// placeholder. It disables sync only.
	ErrNotConfigured = errors.New("calendar api key or client id is not set")
	// ErrNotSignedIn is returned by ListTodaysEvents before SignIn.
	ErrNotSignedIn = errors.New("not signed in to calendar")
	// ErrPermissionDenied is returned when the provider refuses access.
	ErrPermissionDenied = errors.New("calendar permission denied")
	// ErrFetchFailed wraps any other provider failure.
	ErrFetchFailed = errors.New("could not fetch calendar events")
)

// User-facing messages.
const (
	MessageNotConfigured    = "Your Google API Key or Client ID is not set. Set calendar.api_key and calendar.client_id to enable calendar sync."
	MessageNotSignedIn      = "Sign in to Google Calendar first."
	MessagePermissionDenied = "Permission denied. Please ensure you have granted calendar access."
	MessageFetchFailed      = "Could not fetch events from Google Calendar."
	MessageSyncFailed       = "Could not sync calendar."
)

// SignInResult is the outcome of an explicit sign-in.
type SignInResult struct {
	SignedIn bool
	Token    string
	Account  string
	Scope    string
}

// Source is a calendar provider.
type Source interface {
	SignIn(ctx context.Context) (SignInResult, error)
	SignOut(ctx context.Context) error
	ListTodaysEvents(ctx context.Context) (string, error)
}

// Placeholder reports whether a credential is unset or still the template
// placeholder.
func Placeholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.HasPrefix(v, "PASTE_")
}

// CheckCredentials returns ErrNotConfigured when either credential is a
// placeholder.
func CheckCredentials(apiKey, clientID string) error {
	if Placeholder(apiKey) || Placeholder(clientID) {
		return ErrNotConfigured
	}
	return nil
}

// UserMessage maps a calendar error to the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return MessageNotConfigured
	case errors.Is(err, ErrNotSignedIn):
		return MessageNotSignedIn
	case errors.Is(err, ErrPermissionDenied):
		return MessagePermissionDenied
	case errors.Is(err, ErrFetchFailed):
		return MessageFetchFailed
	}
	return MessageSyncFailed
}
