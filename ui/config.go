package ui

// Config contains settings of the conversion progress view.
type Config struct {
	// Title names what is being converted.
	Title string

	// Voice is shown next to the title, e.g. "tts/p335".
	Voice string

	// MaxLines bounds the log kept in the view.
	MaxLines int `env:"EPUB2TTS_UI_MAX_LINES" envDefault:"500"`

	// AltScreen runs the view in the alternate screen buffer.
	AltScreen bool `env:"EPUB2TTS_UI_ALT_SCREEN" envDefault:"false"`
}
