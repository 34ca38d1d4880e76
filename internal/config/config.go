// Package config provides the configuration schema and loader for the
// Vocanto voice session client.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/vocanto/vocanto/pkg/live"
)

// APIKeyEnv is the environment variable holding the Gemini API key. The key
// is never read from the config file so it cannot end up committed to disk.
const APIKeyEnv = "GEMINI_API_KEY"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// SessionConfig describes how the live session is set up at connect time.
type SessionConfig struct {
	// Model overrides the default Live model name.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name (e.g., "Orus").
	Voice string `yaml:"voice"`

	// ResponseModalities lists the channels the model may answer on
	// ("audio", "text"). Empty means audio only.
	ResponseModalities []string `yaml:"response_modalities"`

	// InputTranscription requests text transcription of the microphone
	// stream from the service.
	InputTranscription bool `yaml:"input_transcription"`

	// OutputTranscription requests incremental transcription of the
	// model's spoken output. Nil means enabled; the transcript display
	// and link extraction depend on it.
	OutputTranscription *bool `yaml:"output_transcription"`

	// SystemInstruction is the inline persona/system prompt.
	// Mutually exclusive with SystemInstructionFile.
	SystemInstruction string `yaml:"system_instruction"`

	// SystemInstructionFile is a path to a file holding the system prompt.
	SystemInstructionFile string `yaml:"system_instruction_file"`
}

// AudioConfig holds capture-side audio parameters. Sample rates are fixed by
// the wire protocol (16 kHz up, 24 kHz down) and therefore not configurable.
type AudioConfig struct {
	// ChunkSamples is the microphone chunk size in samples. 0 selects the
	// default of 256.
	ChunkSamples int `yaml:"chunk_samples"`
}

// Modalities converts the configured modality strings to their typed form.
// Call only after Validate; unknown values are passed through.
func (s *SessionConfig) Modalities() []live.Modality {
	out := make([]live.Modality, len(s.ResponseModalities))
	for i, m := range s.ResponseModalities {
		out[i] = live.Modality(strings.ToLower(m))
	}
	return out
}

// OutputTranscriptionEnabled resolves the tri-state flag; absent means on.
func (s *SessionConfig) OutputTranscriptionEnabled() bool {
	return s.OutputTranscription == nil || *s.OutputTranscription
}

// Instruction returns the system prompt, reading SystemInstructionFile when
// the inline field is empty.
func (s *SessionConfig) Instruction() (string, error) {
	if s.SystemInstruction != "" {
		return s.SystemInstruction, nil
	}
	if s.SystemInstructionFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.SystemInstructionFile)
	if err != nil {
		return "", fmt.Errorf("config: read system instruction: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// APIKeyFromEnv returns the Gemini API key from the environment. A missing
// key is a fatal startup condition: there is no anonymous access to the Live
// endpoint.
func APIKeyFromEnv() (string, error) {
	key := strings.TrimSpace(os.Getenv(APIKeyEnv))
	if key == "" {
		return "", fmt.Errorf("config: %s is not set; export it before starting", APIKeyEnv)
	}
	return key, nil
}
