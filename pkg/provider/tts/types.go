package tts

// Voice is one entry of a provider's voice catalogue. It is read-only for
// consumers: the selector scores and picks entries but never mutates them.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name. Selectors look for regional and
	// gendered keywords in it.
	Name string

	// Lang is the BCP-47 locale the voice speaks (e.g. "ur-PK").
	Lang string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// LocalService is true when synthesis runs on this host.
	LocalService bool

	// Default is true for the provider's default voice.
	Default bool

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Params carries the per-attempt synthesis settings.
type Params struct {
	// Rate is the speaking rate; 1.0 is the voice's default.
	Rate float64

	// Pitch is the voice pitch; 1.0 is the voice's default. Providers that
	// cannot shift pitch ignore it.
	Pitch float64

	// Locale is the BCP-47 tag of the text being spoken.
	Locale string
}
