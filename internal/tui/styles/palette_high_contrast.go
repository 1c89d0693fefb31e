package styles

// HighContrastTheme favors visibility on low-contrast terminals.
var HighContrastTheme = Theme{
	Name: "high-contrast",
	Tokens: ThemeTokens{
		Text:      "#FFFFFF",
		TextMuted: "#C0C0C0",
		Border:    "#FFFFFF",
		Accent:    "#00A2FF",
		Warning:   "#FFB000",
		Error:     "#FF4040",
		User:      "#66CCFF",
		Assistant: "#00FF5A",
		Tool:      "#FF66FF",
		System:    "#C0C0C0",
	},
}
