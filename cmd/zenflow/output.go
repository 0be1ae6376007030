package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/zenflow/internal/busyness"
	"github.com/kalambet/zenflow/internal/session"
	"github.com/kalambet/zenflow/internal/theme"
	"github.com/kalambet/zenflow/internal/usage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// stylesFor returns the theme's styles, or unstyled ones under --no-color.
func stylesFor(p theme.Preference) theme.Styles {
	if noColor {
		plain := lipgloss.NewStyle()
		return theme.Styles{
			Title:    plain,
			Accent:   plain,
			Muted:    plain,
			Panel:    plain,
			MeterOn:  plain,
			MeterOff: plain,
		}
	}
	return p.Styles()
}

const (
	meterOn  = "■"
	meterOff = "□"
)

func renderMeter(st theme.Styles, score int) string {
	on := busyness.ActiveSegments(score)
	return st.MeterOn.Render(strings.Repeat(meterOn, on)) +
		st.MeterOff.Render(strings.Repeat(meterOff, busyness.Segments-on))
}

func renderBusyness(w io.Writer, st theme.Styles, score, events int) {
	fmt.Fprintf(w, "%s %s %s\n",
		st.Title.Render(fmt.Sprintf("Busyness %d/100", score)),
		renderMeter(st, score),
		st.Muted.Render(fmt.Sprintf("(%d events)", events)),
	)
	fmt.Fprintln(w, st.Accent.Render(busyness.Label(score)))
}

func renderSession(w io.Writer, st theme.Styles, snap session.Snapshot) {
	rec := snap.Recommendation
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", st.Title.Render(orDash(rec.RecommendedFlow)))
	fmt.Fprintf(&b, "%s %s\n", st.Muted.Render("Day:"), string(rec.BusynessLevel))
	fmt.Fprintf(&b, "%s %s\n", st.Muted.Render("Sample pose:"), orDash(rec.SamplePose))
	if rec.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s\n", rec.Reasoning)
	}
	if len(snap.Videos) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.Accent.Render("Videos"))
		for _, v := range snap.Videos {
			fmt.Fprintf(&b, "  %s %s\n", v.Title, st.Muted.Render(fmt.Sprintf("(%s) %s", v.Channel, v.URL())))
		}
	}
	if len(snap.Sources) > 0 {
		fmt.Fprintf(&b, "\n%s\n", st.Accent.Render("Sources"))
		for _, s := range snap.Sources {
			fmt.Fprintf(&b, "  %s %s\n", s.Title, st.Muted.Render(s.URI))
		}
	}
	if snap.ImageHandle != "" {
		fmt.Fprintf(&b, "\n%s\n", st.Muted.Render("Pose image saved; view it with `zenflow session image`."))
	}

	renderBusyness(w, st, snap.BusynessScore, busyness.CountEvents(snap.ScheduleText))
	fmt.Fprintln(w, st.Panel.Render(strings.TrimRight(b.String(), "\n")))
}

func renderUsage(w io.Writer, st theme.Styles, s usage.State) {
	if s.Subscribed {
		fmt.Fprintln(w, st.Title.Render("Subscribed: unlimited recommendations"))
		return
	}
	fmt.Fprintf(w, "%s %s\n",
		st.Title.Render(fmt.Sprintf("%d of %d free recommendations used", s.Count, usage.Limit)),
		st.Muted.Render(fmt.Sprintf("(%d left)", s.Remaining())),
	)
	if !usage.CanProceed(s) {
		fmt.Fprintln(w, st.Accent.Render("Share ZenFlow to unlock more: zenflow usage share"))
		fmt.Fprintln(w, st.Muted.Render("Or subscribe: zenflow usage subscribe"))
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
