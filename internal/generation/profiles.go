package generation

// Profile is a fixed sampling configuration. Best-of-N draws candidates
// across distinct profiles so the pool covers conservative and exploratory
// decodings of the same context.
type Profile struct {
	Tag         string
	Temperature float64
	TopP        float64
}

// DefaultProfiles returns the five built-in sampling profiles, ordered from
// most conservative to most exploratory.
func DefaultProfiles() []Profile {
	return []Profile{
		{Tag: "precise", Temperature: 0.2, TopP: 0.9},
		{Tag: "focused", Temperature: 0.3, TopP: 0.9},
		{Tag: "analytical", Temperature: 0.35, TopP: 0.95},
		{Tag: "balanced", Temperature: 0.5, TopP: 0.95},
		{Tag: "exploratory", Temperature: 0.9, TopP: 1.0},
	}
}
