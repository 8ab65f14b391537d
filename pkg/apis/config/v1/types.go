package v1

type ChatsyncConfig struct {
	Voiceflow VoiceflowConfig `yaml:"voiceflow"`

	// LocationAliases maps observed misspellings of suburb names to their
	// canonical form, merged over the built-in defaults.
	LocationAliases map[string]string `yaml:"locationAliases,omitempty"`
}

type VoiceflowConfig struct {
	// URL of the transcript API instance.
	URL string `yaml:"url,omitempty"`

	// Tag optionally scopes the transcript listing to one environment's
	// report tag.
	Tag string `yaml:"tag,omitempty"`
}
