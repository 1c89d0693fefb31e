// Package styles holds the terminal palettes used by the live feed.
package styles

// ThemeTokens defines the semantic color roles for the TUI.
type ThemeTokens struct {
	Text      string
	TextMuted string
	Border    string
	Accent    string
	Warning   string
	Error     string

	// Per-role colors of live events.
	User      string
	Assistant string
	Tool      string
	System    string
}

// Theme bundles a palette with a name.
type Theme struct {
	Name   string
	Tokens ThemeTokens
}

// Themes lists available palettes by name.
var Themes = map[string]Theme{
	"default":       DefaultTheme,
	"high-contrast": HighContrastTheme,
}

// Lookup returns the named theme, or the default one.
func Lookup(name string) Theme {
	if theme, ok := Themes[name]; ok {
		return theme
	}
	return DefaultTheme
}
