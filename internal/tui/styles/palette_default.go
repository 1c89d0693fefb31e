package styles

// DefaultTheme is the baseline palette.
var DefaultTheme = Theme{
	Name: "default",
	Tokens: ThemeTokens{
		Text:      "#E6EDF3",
		TextMuted: "#8B9AAE",
		Border:    "#223043",
		Accent:    "#5B8DEF",
		Warning:   "#D29922",
		Error:     "#F85149",
		User:      "#58A6FF",
		Assistant: "#3FB950",
		Tool:      "#D2A8FF",
		System:    "#8B9AAE",
	},
}
