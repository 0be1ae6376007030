// Package theme holds the user's color preference and the terminal styles
// derived from it.
package theme

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	Emerald = "emerald"
	Ocean   = "ocean"
	Sunset  = "sunset"
	Custom  = "custom"
)

// Custom themes fall back to these when a color is not supplied.
const (
	DefaultCustomPrimary = "#065f46"
	DefaultCustomAccent  = "#10b981"
)

// Preference is the persisted theme choice. Colors are only meaningful for
// the custom theme.
type Preference struct {
	Name         string `json:"name"`
	PrimaryColor string `json:"primaryColor,omitempty"`
	AccentColor  string `json:"accentColor,omitempty"`
}

type palette struct {
	primary string
	accent  string
}

var presets = map[string]palette{
	Emerald: {primary: "#065f46", accent: "#10b981"},
	Ocean:   {primary: "#075985", accent: "#0ea5e9"},
	Sunset:  {primary: "#9a3412", accent: "#f97316"},
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Default returns the emerald preset.
func Default() Preference {
	return Preference{Name: Emerald}
}

// Names returns the preset names followed by "custom".
func Names() []string {
	names := make([]string, 0, len(presets)+1)
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return append(names, Custom)
}

// Preset returns the preference for a named preset.
func Preset(name string) (Preference, error) {
	if _, ok := presets[name]; !ok {
		return Preference{}, fmt.Errorf("unknown theme %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return Preference{Name: name}, nil
}

// NewCustom builds a custom preference. Empty colors take the custom
// defaults.
func NewCustom(primary, accent string) (Preference, error) {
	if primary == "" {
		primary = DefaultCustomPrimary
	}
	if accent == "" {
		accent = DefaultCustomAccent
	}
	p := Preference{Name: Custom, PrimaryColor: primary, AccentColor: accent}
	return p, p.Validate()
}

// Resolve builds a preference from a user-supplied name. Colors are only
// used for the custom theme.
func Resolve(name, primary, accent string) (Preference, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == Custom {
		return NewCustom(primary, accent)
	}
	return Preset(name)
}

// Validate checks that Name is known and, for custom themes, that both
// colors are #rrggbb.
func (p Preference) Validate() error {
	if p.Name == Custom {
		if !hexColor.MatchString(p.PrimaryColor) {
			return fmt.Errorf("invalid primary color %q, want #rrggbb", p.PrimaryColor)
		}
		if !hexColor.MatchString(p.AccentColor) {
			return fmt.Errorf("invalid accent color %q, want #rrggbb", p.AccentColor)
		}
		return nil
	}
	if _, ok := presets[p.Name]; !ok {
		return fmt.Errorf("unknown theme %q", p.Name)
	}
	return nil
}

// Colors returns the effective primary and accent colors.
func (p Preference) Colors() (primary, accent string) {
	if p.Name == Custom {
		return p.PrimaryColor, p.AccentColor
	}
	pal, ok := presets[p.Name]
	if !ok {
		pal = presets[Emerald]
	}
	return pal.primary, pal.accent
}

// Styles are the lipgloss styles used to render results in a terminal.
type Styles struct {
	Title    lipgloss.Style
	Accent   lipgloss.Style
	Muted    lipgloss.Style
	Panel    lipgloss.Style
	MeterOn  lipgloss.Style
	MeterOff lipgloss.Style
}

var muted = lipgloss.Color("#6b7280")

// Styles derives terminal styles from the preference.
func (p Preference) Styles() Styles {
	primary, accent := p.Colors()
	pc, ac := lipgloss.Color(primary), lipgloss.Color(accent)
	return Styles{
		Title:  lipgloss.NewStyle().Foreground(pc).Bold(true),
		Accent: lipgloss.NewStyle().Foreground(ac),
		Muted:  lipgloss.NewStyle().Foreground(muted),
		Panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pc).
			Padding(0, 1),
		MeterOn:  lipgloss.NewStyle().Foreground(ac),
		MeterOff: lipgloss.NewStyle().Foreground(muted),
	}
}
