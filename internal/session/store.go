// Package session persists the single saved session snapshot and the small
// pieces of user state kept next to it: usage count, subscription flag and
// theme preference. Each lives under its own key in a KV backend.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kalambet/zenflow/internal/advisor"
	"github.com/kalambet/zenflow/internal/busyness"
	"github.com/kalambet/zenflow/internal/storage"
	"github.com/kalambet/zenflow/internal/theme"
)

// Persisted keys.
const (
	KeySnapshot   = "zenflow_savedSession"
	KeyUsageCount = "zenflow_usageCount"
	KeySubscribed = "zenflow_isSubscribed"
	KeyTheme      = "zenflow_theme"
)

// ErrNoSnapshot is returned by LoadSnapshot when nothing has been saved.
var ErrNoSnapshot = errors.New("no saved session")

// KV is the durable key/value backend. GetValue returns storage.ErrNotFound
// for absent keys.
type KV interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
	DeleteValue(key string) error
}

// ImageDeleter removes stored images. Optional; see NewStore.
type ImageDeleter interface {
	DeleteImage(handle string) error
}

// Snapshot is the durable record of the most recent completed run.
type Snapshot struct {
	ScheduleText   string                 `json:"calendarText"`
	Recommendation advisor.Recommendation `json:"recommendation"`
	ImageHandle    string                 `json:"imageHandle"`
	BusynessScore  int                    `json:"busynessScore"`
	Videos         []advisor.Video        `json:"youtubeVideos"`
	Sources        []advisor.Source       `json:"youtubeSources"`
}

// snapshotRecord is the on-disk shape. Every field is optional so blobs
// written by older versions still load.
type snapshotRecord struct {
	ScheduleText   *string                 `json:"calendarText"`
	Recommendation *advisor.Recommendation `json:"recommendation"`
	ImageHandle    *string                 `json:"imageHandle"`
	BusynessScore  *int                    `json:"busynessScore"`
	Videos         []advisor.Video         `json:"youtubeVideos"`
	Sources        []advisor.Source        `json:"youtubeSources"`
}

func (r snapshotRecord) snapshot() Snapshot {
	var s Snapshot
	if r.ScheduleText != nil {
		s.ScheduleText = *r.ScheduleText
	}
	if r.Recommendation != nil {
		s.Recommendation = *r.Recommendation
	}
	if r.ImageHandle != nil {
		s.ImageHandle = *r.ImageHandle
	}
	if r.BusynessScore != nil {
		s.BusynessScore = *r.BusynessScore
	} else {
		s.BusynessScore = busyness.Score(s.ScheduleText)
	}
	s.Videos = r.Videos
	if s.Videos == nil {
		s.Videos = []advisor.Video{}
	}
	s.Sources = r.Sources
	if s.Sources == nil {
		s.Sources = []advisor.Source{}
	}
	return s
}

// Store reads and writes session state. Every write goes straight to the
// backend; there is no in-memory cache.
type Store struct {
	kv     KV
	images ImageDeleter
}

// NewStore returns a Store over kv. If kv also implements ImageDeleter,
// ClearSnapshot removes the snapshot's image as well.
func NewStore(kv KV) *Store {
	s := &Store{kv: kv}
	if d, ok := kv.(ImageDeleter); ok {
		s.images = d
	}
	return s
}

// --- Snapshot ---

// SaveSnapshot overwrites the saved snapshot.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	if snap.Videos == nil {
		snap.Videos = []advisor.Video{}
	}
	if snap.Sources == nil {
		snap.Sources = []advisor.Source{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := s.kv.SetValue(KeySnapshot, string(data)); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the saved snapshot or ErrNoSnapshot. A missing
// busyness score is recomputed from the stored schedule text and missing
// video or source lists come back empty.
func (s *Store) LoadSnapshot() (Snapshot, error) {
	raw, err := s.kv.GetValue(KeySnapshot)
	if errors.Is(err, storage.ErrNotFound) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading snapshot: %w", err)
	}
	var rec snapshotRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return rec.snapshot(), nil
}

// HasSnapshot reports whether a snapshot is saved.
func (s *Store) HasSnapshot() (bool, error) {
	_, err := s.kv.GetValue(KeySnapshot)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClearSnapshot deletes the saved snapshot and, when possible, the image it
// references. Clearing when nothing is saved is not an error.
func (s *Store) ClearSnapshot() error {
	if s.images != nil {
		if snap, err := s.LoadSnapshot(); err == nil && snap.ImageHandle != "" {
			if err := s.images.DeleteImage(snap.ImageHandle); err != nil && !errors.Is(err, storage.ErrNotFound) {
				slog.Warn("session: failed to delete snapshot image", "handle", snap.ImageHandle, "error", err)
			}
		}
	}
	if err := s.kv.DeleteValue(KeySnapshot); err != nil {
		return fmt.Errorf("clearing snapshot: %w", err)
	}
	return nil
}

// --- Usage ---

// UsageCount returns the stored usage count. Absent or unparseable values
// read as 0.
func (s *Store) UsageCount() (int, error) {
	raw, err := s.kv.GetValue(KeyUsageCount)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading usage count: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		slog.Warn("session: ignoring malformed usage count", "value", raw)
		return 0, nil
	}
	return n, nil
}

func (s *Store) SetUsageCount(n int) error {
	if n < 0 {
		return fmt.Errorf("usage count must be non-negative, got %d", n)
	}
	if err := s.kv.SetValue(KeyUsageCount, strconv.Itoa(n)); err != nil {
		return fmt.Errorf("saving usage count: %w", err)
	}
	return nil
}

// Subscribed returns the stored subscription flag. Only the literal "true"
// counts as subscribed.
func (s *Store) Subscribed() (bool, error) {
	raw, err := s.kv.GetValue(KeySubscribed)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading subscription flag: %w", err)
	}
	return raw == "true", nil
}

func (s *Store) SetSubscribed(v bool) error {
	if err := s.kv.SetValue(KeySubscribed, strconv.FormatBool(v)); err != nil {
		return fmt.Errorf("saving subscription flag: %w", err)
	}
	return nil
}

// --- Theme ---

// LoadTheme returns the stored theme, or theme.Default when none is stored
// or the stored value does not decode to a valid preference.
func (s *Store) LoadTheme() (theme.Preference, error) {
	raw, err := s.kv.GetValue(KeyTheme)
	if errors.Is(err, storage.ErrNotFound) {
		return theme.Default(), nil
	}
	if err != nil {
		return theme.Preference{}, fmt.Errorf("loading theme: %w", err)
	}
	var p theme.Preference
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("session: ignoring malformed theme", "error", err)
		return theme.Default(), nil
	}
	if err := p.Validate(); err != nil {
		slog.Warn("session: ignoring invalid theme", "error", err)
		return theme.Default(), nil
	}
	return p, nil
}

func (s *Store) SaveTheme(p theme.Preference) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling theme: %w", err)
	}
	if err := s.kv.SetValue(KeyTheme, string(data)); err != nil {
		return fmt.Errorf("saving theme: %w", err)
	}
	return nil
}
