package api

import (
	"strings"

	"github.com/kalambet/zenflow/internal/busyness"
	"github.com/kalambet/zenflow/internal/pipeline"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/usage"
)

// BusynessView is the live preview of a schedule before analysis.
type BusynessView struct {
	Score    int    `json:"score"`
	Events   int    `json:"events"`
	Label    string `json:"label"`
	Band     string `json:"band"`
	Segments int    `json:"segments"`
}

func busynessView(schedule string) BusynessView {
	return scoreView(busyness.Score(schedule), busyness.CountEvents(schedule))
}

func scoreView(score, events int) BusynessView {
	return BusynessView{
		Score:    score,
		Events:   events,
		Label:    busyness.Label(score),
		Band:     string(busyness.BandFor(score)),
		Segments: busyness.ActiveSegments(score),
	}
}

// UsageView is the usage state plus what the client needs to render the
// paywall.
type UsageView struct {
	usage.State
	Limit      int  `json:"limit"`
	Remaining  int  `json:"remaining"`
	CanProceed bool `json:"canProceed"`
	// HasSavedSession is filled in only by the usage status endpoints.
	HasSavedSession bool   `json:"hasSavedSession"`
	ShareText       string `json:"shareText,omitempty"`
	ShareURL        string `json:"shareUrl,omitempty"`
}

func usageView(s usage.State) UsageView {
	v := UsageView{
		State:      s,
		Limit:      usage.Limit,
		Remaining:  s.Remaining(),
		CanProceed: usage.CanProceed(s),
	}
	if !v.CanProceed {
		v.ShareText = usage.ShareText
		v.ShareURL = usage.ShareURL()
	}
	return v
}

// SessionView is a snapshot as returned to clients. The image is addressed
// by URL rather than inlined.
type SessionView struct {
	session.Snapshot
	ImageURL string       `json:"imageUrl,omitempty"`
	Busyness BusynessView `json:"busyness"`
}

func sessionView(snap session.Snapshot) SessionView {
	v := SessionView{
		Snapshot: snap,
		Busyness: scoreView(snap.BusynessScore, busyness.CountEvents(snap.ScheduleText)),
	}
	if snap.ImageHandle != "" {
		v.ImageURL = "/session/image"
	}
	return v
}

// AnalyzeView is the response to a completed analysis.
type AnalyzeView struct {
	Session   SessionView `json:"session"`
	Usage     UsageView   `json:"usage"`
	Notices   []string    `json:"notices,omitempty"`
	ElapsedMs int64       `json:"elapsedMs"`
}

func analyzeView(res pipeline.Result) AnalyzeView {
	v := AnalyzeView{
		Session:   sessionView(res.Snapshot),
		Usage:     usageView(res.Usage),
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
	for _, n := range []string{res.Illustrate.Notice, res.Videos.Notice} {
		if strings.TrimSpace(n) != "" {
			v.Notices = append(v.Notices, n)
		}
	}
	return v
}
