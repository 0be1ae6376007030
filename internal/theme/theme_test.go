package theme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsEmerald(t *testing.T) {
	p := Default()
	require.Equal(t, Emerald, p.Name)
	require.NoError(t, p.Validate())
}

func TestNames(t *testing.T) {
	require.Equal(t, []string{"emerald", "ocean", "sunset", "custom"}, Names())
}

func TestPreset(t *testing.T) {
	p, err := Preset(Ocean)
	require.NoError(t, err)
	require.Equal(t, Preference{Name: Ocean}, p)

	_, err = Preset("neon")
	require.ErrorContains(t, err, "unknown theme")
}

func TestNewCustom_Defaults(t *testing.T) {
	p, err := NewCustom("", "")
	require.NoError(t, err)
	require.Equal(t, DefaultCustomPrimary, p.PrimaryColor)
	require.Equal(t, DefaultCustomAccent, p.AccentColor)

	primary, accent := p.Colors()
	require.Equal(t, "#065f46", primary)
	require.Equal(t, "#10b981", accent)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		pref    Preference
		wantErr bool
	}{
		{"preset", Preference{Name: Sunset}, false},
		{"unknown preset", Preference{Name: "neon"}, true},
		{"empty name", Preference{}, true},
		{"custom ok", Preference{Name: Custom, PrimaryColor: "#112233", AccentColor: "#AABBCC"}, false},
		{"custom short hex", Preference{Name: Custom, PrimaryColor: "#123", AccentColor: "#aabbcc"}, true},
		{"custom missing accent", Preference{Name: Custom, PrimaryColor: "#112233"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pref.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestColors_UnknownFallsBackToEmerald(t *testing.T) {
	primary, accent := Preference{Name: "neon"}.Colors()
	require.Equal(t, "#065f46", primary)
	require.Equal(t, "#10b981", accent)
}

func TestResolve(t *testing.T) {
	p, err := Resolve(" Ocean ", "#000000", "")
	require.NoError(t, err)
	require.Equal(t, Preference{Name: Ocean}, p)

	p, err = Resolve("custom", "", "#112233")
	require.NoError(t, err)
	require.Equal(t, Preference{Name: Custom, PrimaryColor: DefaultCustomPrimary, AccentColor: "#112233"}, p)

	_, err = Resolve("custom", "red", "")
	require.Error(t, err)

	_, err = Resolve("neon", "", "")
	require.Error(t, err)
}
