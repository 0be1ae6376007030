package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/zenflow/internal/storage"
)

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
)

// ErrInvalidSentiment is returned for feedback that is neither positive nor
// negative.
var ErrInvalidSentiment = errors.New("sentiment must be positive or negative")

// FeedbackSaver persists feedback entries.
type FeedbackSaver interface {
	SaveFeedback(f storage.Feedback) error
}

// SnapshotLoader reads the current snapshot.
type SnapshotLoader interface {
	LoadSnapshot() (Snapshot, error)
}

// RecordFeedback validates and stores feedback, tagged with the saved
// session's flow when there is one.
func RecordFeedback(snaps SnapshotLoader, store FeedbackSaver, sentiment, notes string) (storage.Feedback, error) {
	sentiment = strings.ToLower(strings.TrimSpace(sentiment))
	if sentiment != SentimentPositive && sentiment != SentimentNegative {
		return storage.Feedback{}, fmt.Errorf("%w, got %q", ErrInvalidSentiment, sentiment)
	}
	f := storage.Feedback{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Sentiment: sentiment,
		Notes:     strings.TrimSpace(notes),
	}
	if snap, err := snaps.LoadSnapshot(); err == nil {
		f.Flow = snap.Recommendation.RecommendedFlow
	}
	if err := store.SaveFeedback(f); err != nil {
		return storage.Feedback{}, fmt.Errorf("saving feedback: %w", err)
	}
	slog.Info("session: feedback recorded", "sentiment", f.Sentiment, "flow", f.Flow)
	return f, nil
}
