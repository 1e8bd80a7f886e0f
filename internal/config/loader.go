package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "mock"},
	"llm": {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}

	// Session
	if cfg.Session.Channels < 0 {
		errs = append(errs, fmt.Errorf("session.channels %d must not be negative", cfg.Session.Channels))
	}
	if cfg.Session.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d must not be negative", cfg.Session.SampleRate))
	}
	if cfg.Session.PromoteAfterSeen < 0 {
		errs = append(errs, fmt.Errorf("session.promote_after_seen %d must not be negative", cfg.Session.PromoteAfterSeen))
	}
	if cfg.Session.PromoteAfterSeen > 0 && cfg.Session.PromoteInterval <= 0 {
		errs = append(errs, errors.New("session.promote_interval is required when promote_after_seen is set"))
	}

	// Postprocess
	if t := cfg.Postprocess.PhoneticThreshold; t != 0 && (t <= 0 || t > 1) {
		errs = append(errs, fmt.Errorf("postprocess.phonetic_threshold %.2f is out of range (0, 1]", t))
	}
	if t := cfg.Postprocess.FuzzyThreshold; t != 0 && (t <= 0 || t > 1) {
		errs = append(errs, fmt.Errorf("postprocess.fuzzy_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Postprocess.Temperature < 0 || cfg.Postprocess.Temperature > 2 {
		errs = append(errs, fmt.Errorf("postprocess.temperature %.2f is out of range [0, 2]", cfg.Postprocess.Temperature))
	}
	if cfg.Postprocess.Review && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("postprocess.review requires providers.llm to be configured"))
	}
	if cfg.Postprocess.Review && len(cfg.Postprocess.Vocabulary) == 0 {
		errs = append(errs, errors.New("postprocess.review requires a non-empty postprocess.vocabulary"))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; transcripts will not be persisted")
	}

	// Discord
	if cfg.Discord.CaptionChannelID != "" && cfg.Discord.BotToken == "" {
		errs = append(errs, errors.New("discord.bot_token is required when discord.caption_channel_id is set"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
