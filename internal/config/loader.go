package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/vocanto/vocanto/pkg/live"
	"gopkg.in/yaml.v3"
)

// KnownVoices lists the prebuilt voice names the service currently offers.
// Used by [Validate] to warn about likely typos; unknown names are not an
// error because the service adds voices faster than this list is updated.
var KnownVoices = []string{
	"Aoede", "Charon", "Fenrir", "Kore", "Leda", "Orus", "Puck", "Zephyr",
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

	// Session
	modalities := cfg.Session.Modalities()
	for i, m := range modalities {
		if !m.IsValid() {
			errs = append(errs, fmt.Errorf("session.response_modalities[%d] %q is invalid; valid values: audio, text", i, m))
		}
	}
	if cfg.Session.SystemInstruction != "" && cfg.Session.SystemInstructionFile != "" {
		errs = append(errs, errors.New("session.system_instruction and session.system_instruction_file are mutually exclusive"))
	}
	validateVoiceName(cfg.Session.Voice)

	// Audio
	if cfg.Audio.ChunkSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_samples %d must not be negative", cfg.Audio.ChunkSamples))
	}

	// Output transcription drives the transcript display and link
	// extraction; disabling it is legal but worth a heads-up. An empty
	// modality list defaults to audio.
	audioOn := len(modalities) == 0 || slices.Contains(modalities, live.ModalityAudio)
	if !cfg.Session.OutputTranscriptionEnabled() && audioOn {
		slog.Warn("session.output_transcription is disabled; no transcript or links will be shown for spoken replies")
	}

	return errors.Join(errs...)
}

// validateVoiceName logs a warning if name is non-empty and not found in
// the [KnownVoices] list.
func validateVoiceName(name string) {
	if name == "" {
		return
	}
	if slices.Contains(KnownVoices, name) {
		return
	}
	slog.Warn("unknown voice name, may be a typo or a newly added voice",
		"voice", name,
		"known", KnownVoices,
	)
}
