// Package busyness estimates how packed a day is from raw schedule text.
//
// The estimate is a cheap local heuristic used for the live preview while the
// user edits their schedule. It is not expected to agree with the busyness
// level the recommendation backend assigns.
package busyness

import (
	"math"
	"regexp"
	"strings"
)

// SaturationEvents is the event count at which a day scores 100.
const SaturationEvents = 8

// Segments is the number of cells in the preview meter.
const Segments = 10

// eventPattern matches a time of day such as "9:00" or "14:30", with or
// without an AM/PM suffix.
var eventPattern = regexp.MustCompile(`\d{1,2}:\d{2}`)

// Score returns a busyness score in [0, 100] for the given schedule text.
// Every line containing a time of day counts as one event.
func Score(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return scoreEvents(CountEvents(text))
}

// CountEvents returns the number of lines in text that contain a time of day.
func CountEvents(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if eventPattern.MatchString(line) {
			n++
		}
	}
	return n
}

func scoreEvents(events int) int {
	ratio := math.Min(float64(events)/SaturationEvents, 1)
	return int(math.Round(ratio * 100))
}

// Label describes a score for the live preview.
func Label(score int) string {
	switch {
	case score <= 0:
		return "Ready for your schedule..."
	case score <= 40:
		return "Looks like a relaxed day"
	case score <= 70:
		return "Looks moderately busy"
	default:
		return "Looks like a busy day"
	}
}

// Band is the coarse bucket a score falls in.
type Band string

const (
	BandRelaxed  Band = "relaxed"
	BandModerate Band = "moderate"
	BandBusy     Band = "busy"
)

// BandFor returns the band a score belongs to.
func BandFor(score int) Band {
	switch {
	case score <= 40:
		return BandRelaxed
	case score <= 70:
		return BandModerate
	default:
		return BandBusy
	}
}

// ActiveSegments returns how many of the Segments meter cells are lit.
func ActiveSegments(score int) int {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(float64(score) / 100 * Segments))
}
