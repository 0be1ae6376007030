package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/zenflow/internal/gemini"
)

// DefaultMaxVideos bounds how many videos the finder returns.
const DefaultMaxVideos = 3

// verifyFactor bounds verification lookups per run to verifyFactor*max
// candidates.
const verifyFactor = 2

// ErrVideoFormat means the backend answered but its list could not be read.
var ErrVideoFormat = errors.New("video list could not be parsed")

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// unavailableMarkers in verification text cause a candidate to be dropped.
var unavailableMarkers = []string{"unavailable", "private", "removed", "deleted"}

// Unavailable reports whether verification text marks a video as gone.
func Unavailable(verification string) bool {
	lower := strings.ToLower(verification)
	for _, m := range unavailableMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Verifier runs the secondary lookup for one candidate and returns the raw
// verification text.
type Verifier interface {
	Verify(ctx context.Context, v Video) (string, error)
}

// GroundedVerifier checks a candidate with a search-grounded prompt.
type GroundedVerifier struct {
	gen   ContentGenerator
	model string
}

// NewGroundedVerifier returns a verifier that asks model through gen.
func NewGroundedVerifier(gen ContentGenerator, model string) *GroundedVerifier {
	return &GroundedVerifier{gen: gen, model: model}
}

// Verify returns the backend's search-grounded answer about v.
func (g *GroundedVerifier) Verify(ctx context.Context, v Video) (string, error) {
	resp, err := g.gen.GenerateContent(ctx, g.model, groundedRequest(verifyPrompt(v)))
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func groundedRequest(prompt string) gemini.GenerateRequest {
	return gemini.GenerateRequest{
		Contents: []gemini.Content{gemini.UserText(prompt)},
		Tools:    []gemini.Tool{{GoogleSearch: &gemini.GoogleSearch{}}},
		GenerationConfig: &gemini.GenerationConfig{
			ThinkingConfig: &gemini.ThinkingConfig{ThinkingBudget: 0},
		},
	}
}

// VideoFinder searches for practice videos and filters out ones that fail
// verification.
type VideoFinder struct {
	gen      ContentGenerator
	model    string
	verifier Verifier
	max      int
}

// NewVideoFinder returns a finder capped at max videos. A nil verifier
// skips verification; max <= 0 selects DefaultMaxVideos.
func NewVideoFinder(gen ContentGenerator, model string, verifier Verifier, max int) *VideoFinder {
	if max <= 0 {
		max = DefaultMaxVideos
	}
	return &VideoFinder{gen: gen, model: model, verifier: verifier, max: max}
}

// FindVideos returns up to max verified videos for a flow. Zero survivors is
// a successful empty result. When the backend's answer has no readable JSON
// array the result is empty and the error wraps ErrVideoFormat.
func (f *VideoFinder) FindVideos(ctx context.Context, flow string) (VideoResult, error) {
	empty := VideoResult{Videos: []Video{}, Sources: []Source{}}

	resp, err := f.gen.GenerateContent(ctx, f.model, groundedRequest(videoPrompt(flow, f.max)))
	if err != nil {
		return empty, err
	}

	candidates, err := ParseVideoList(resp.Text())
	if err != nil {
		return empty, err
	}
	limit := f.max
	if f.verifier != nil {
		limit = f.max * verifyFactor
	}
	candidates = f.screen(candidates, limit)

	videos, err := f.verify(ctx, candidates)
	if err != nil {
		return empty, err
	}
	if len(videos) > f.max {
		videos = videos[:f.max]
	}

	sources := []Source{}
	for _, w := range resp.WebSources() {
		sources = append(sources, Source{URI: w.URI, Title: w.Title})
	}
	return VideoResult{Videos: videos, Sources: sources}, nil
}

// ParseVideoList extracts the first-to-last bracketed span of raw and decodes
// it as a list of videos.
func ParseVideoList(raw string) ([]Video, error) {
	match := jsonArrayPattern.FindString(strings.TrimSpace(raw))
	if match == "" {
		return nil, fmt.Errorf("%w: model did not return a JSON array", ErrVideoFormat)
	}
	var videos []Video
	if err := json.Unmarshal([]byte(match), &videos); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoFormat, err)
	}
	return videos, nil
}

// screen drops malformed and duplicate IDs and keeps at most limit
// candidates.
func (f *VideoFinder) screen(in []Video, limit int) []Video {
	seen := make(map[string]bool, len(in))
	out := make([]Video, 0, limit)
	for _, v := range in {
		if !v.ValidID() {
			slog.Debug("advisor: dropping video with malformed id", "video_id", v.VideoID, "title", v.Title)
			continue
		}
		if seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

// verify runs the secondary lookup for each candidate concurrently and keeps
// the ones not marked unavailable. A failed lookup keeps the candidate.
func (f *VideoFinder) verify(ctx context.Context, candidates []Video) ([]Video, error) {
	if f.verifier == nil || len(candidates) == 0 {
		return candidates, nil
	}

	keep := make([]bool, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.max)
	for i, v := range candidates {
		g.Go(func() error {
			text, err := f.verifier.Verify(gCtx, v)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("advisor: video verification failed, keeping candidate", "video_id", v.VideoID, "error", err)
				keep[i] = true
				return nil
			}
			if Unavailable(text) {
				slog.Debug("advisor: dropping unavailable video", "video_id", v.VideoID, "verification", text)
				return nil
			}
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Video, 0, len(candidates))
	for i, v := range candidates {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out, nil
}
