package cli

// Default values for CLI flags and output.
const (
	// TabWidth is the width of tabs in formatted output.
	TabWidth = 2
	// userAgentPrefix is prepended to Version in outgoing requests.
	userAgentPrefix = "archdex/"
)
