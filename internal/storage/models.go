package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Image is a generated pose illustration addressed by an opaque handle.
type Image struct {
	Handle    string
	MIMEType  string
	Data      []byte
	Prompt    string
	CreatedAt time.Time
}

type Feedback struct {
	ID        string
	CreatedAt time.Time
	Sentiment string // "positive", "negative"
	Notes     string
	Flow      string
}
