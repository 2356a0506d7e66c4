package protocol

// SessionConfig is the effective per-session configuration. It is replaced
// wholesale on update, never partially mutated.
type SessionConfig struct {
	SystemPrompt       string `json:"systemPrompt"`
	Voice              string `json:"voice"`
	GoogleSearch       bool   `json:"googleSearch"`
	AllowInterruptions bool   `json:"allowInterruptions"`
	WakeWordEnabled    bool   `json:"isWakeWordEnabled"`
	WakeWord           string `json:"wakeWord"`
	CancelPhrase       string `json:"cancelPhrase"`
}

// SessionConfigPatch is a partial configuration as supplied by the client or
// the config store. Pointer fields distinguish "absent" from a zero value.
type SessionConfigPatch struct {
	SystemPrompt       *string `json:"systemPrompt,omitempty"`
	Voice              *string `json:"voice,omitempty"`
	GoogleSearch       *bool   `json:"googleSearch,omitempty"`
	AllowInterruptions *bool   `json:"allowInterruptions,omitempty"`
	WakeWordEnabled    *bool   `json:"isWakeWordEnabled,omitempty"`
	WakeWord           *string `json:"wakeWord,omitempty"`
	CancelPhrase       *string `json:"cancelPhrase,omitempty"`
}

// Documented defaults for every recognized field. A configuration is never
// invalid merely for omitting fields.
const (
	DefaultSystemPrompt = "You are a friendly assistant"
	DefaultVoice        = "Puck"
	DefaultWakeWord     = "Ambience"
	DefaultCancelPhrase = "silence"
)

// DefaultSessionConfig returns the configuration used when the client
// supplies nothing.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SystemPrompt:       DefaultSystemPrompt,
		Voice:              DefaultVoice,
		GoogleSearch:       true,
		AllowInterruptions: false,
		WakeWordEnabled:    false,
		WakeWord:           DefaultWakeWord,
		CancelPhrase:       DefaultCancelPhrase,
	}
}

// NormalizeConfig resolves a partial configuration against the defaults.
// Pure and idempotent: normalizing the patch of an already-normalized
// configuration yields the same value. This is the only place defaults are
// known.
func NormalizeConfig(patch SessionConfigPatch) SessionConfig {
	cfg := DefaultSessionConfig()
	if patch.SystemPrompt != nil && *patch.SystemPrompt != "" {
		cfg.SystemPrompt = *patch.SystemPrompt
	}
	if patch.Voice != nil && *patch.Voice != "" {
		cfg.Voice = *patch.Voice
	}
	if patch.GoogleSearch != nil {
		cfg.GoogleSearch = *patch.GoogleSearch
	}
	if patch.AllowInterruptions != nil {
		cfg.AllowInterruptions = *patch.AllowInterruptions
	}
	if patch.WakeWordEnabled != nil {
		cfg.WakeWordEnabled = *patch.WakeWordEnabled
	}
	if patch.WakeWord != nil && *patch.WakeWord != "" {
		cfg.WakeWord = *patch.WakeWord
	}
	if patch.CancelPhrase != nil && *patch.CancelPhrase != "" {
		cfg.CancelPhrase = *patch.CancelPhrase
	}
	return cfg
}

// Patch converts an effective configuration back into a fully-populated
// patch, so NormalizeConfig(cfg.Patch()) == cfg.
func (c SessionConfig) Patch() SessionConfigPatch {
	return SessionConfigPatch{
		SystemPrompt:       &c.SystemPrompt,
		Voice:              &c.Voice,
		GoogleSearch:       &c.GoogleSearch,
		AllowInterruptions: &c.AllowInterruptions,
		WakeWordEnabled:    &c.WakeWordEnabled,
		WakeWord:           &c.WakeWord,
		CancelPhrase:       &c.CancelPhrase,
	}
}
