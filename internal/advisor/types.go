package advisor

import (
	"fmt"
	"regexp"
)

// BusynessLevel is the backend's assessment of a day.
type BusynessLevel string

const (
	Busy     BusynessLevel = "Busy"
	Moderate BusynessLevel = "Moderate"
	Relaxed  BusynessLevel = "Relaxed"
)

// Levels lists every accepted BusynessLevel in schema order.
var Levels = []BusynessLevel{Busy, Moderate, Relaxed}

// Valid reports whether l is one of Levels.
func (l BusynessLevel) Valid() bool {
	switch l {
	case Busy, Moderate, Relaxed:
		return true
	}
	return false
}

// Recommendation is the structured output of the recommend stage.
type Recommendation struct {
	BusynessLevel   BusynessLevel `json:"busynessLevel"`
	RecommendedFlow string        `json:"recommendedFlow"`
	Reasoning       string        `json:"reasoning"`
	SamplePose      string        `json:"samplePose"`
}

// Validate checks the enumerated field. Flow and pose may be empty; the
// dependent stages are skipped in that case.
func (r Recommendation) Validate() error {
	if !r.BusynessLevel.Valid() {
		return fmt.Errorf("invalid busynessLevel %q", r.BusynessLevel)
	}
	return nil
}

// Video is one suggested practice video.
type Video struct {
	Title   string `json:"title"`
	Channel string `json:"channel"`
	VideoID string `json:"videoId"`
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidID reports whether VideoID has the shape of a YouTube identifier.
func (v Video) ValidID() bool {
	return videoIDPattern.MatchString(v.VideoID)
}

// URL is the watch page for v.
func (v Video) URL() string {
	return "https://www.youtube.com/watch?v=" + v.VideoID
}

// Source is a grounding citation returned alongside videos.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// VideoResult is the output of the video stage. Videos and Sources are
// never nil.
type VideoResult struct {
	Videos  []Video  `json:"videos"`
	Sources []Source `json:"sources"`
}

// Image is a generated pose illustration.
type Image struct {
	MIMEType string
	Data     []byte
	Prompt   string
}
