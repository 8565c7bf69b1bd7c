package config

import (
	"fmt"

	"ddsrecorder/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateOutput(&cfg.Output); err != nil {
		errs = append(errs, err)
	}

	if err := validateRecorder(&cfg.Recorder); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port != 0 && (cfg.Port < 1 || cfg.Port > 65535) {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateOutput(cfg *OutputConfig) error {
	if cfg.Path == "" {
		return &ValidationError{
			Field:   "output.path",
			Message: "output path is required",
		}
	}

	if cfg.Prefix == "" {
		return &ValidationError{
			Field:   "output.prefix",
			Message: "output file prefix is required",
		}
	}

	if cfg.MaxSize == 0 {
		return &ValidationError{
			Field:   "output.max_size",
			Message: "max_size must be positive",
		}
	}

	// max_file_size 0, or any value at or above max_size, disables rotation.
	if cfg.MaxFileSize == 0 || cfg.MaxFileSize > cfg.MaxSize {
		cfg.MaxFileSize = cfg.MaxSize
	}

	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = constants.DefaultSafetyMargin
	}

	if cfg.SafetyMargin >= cfg.MaxFileSize {
		return &ValidationError{
			Field:   "output.safety_margin",
			Message: fmt.Sprintf("safety margin %d leaves no room in files of %d bytes", cfg.SafetyMargin, cfg.MaxFileSize),
		}
	}

	switch cfg.Compression {
	case "", "none", "zstd", "lz4":
	default:
		return &ValidationError{
			Field:   "output.compression",
			Message: fmt.Sprintf("unsupported compression %q", cfg.Compression),
		}
	}

	return nil
}

func validateRecorder(cfg *RecorderConfig) error {
	switch cfg.InitialState {
	case "", "RUNNING", "running", "PAUSED", "paused", "STOPPED", "stopped":
	default:
		return &ValidationError{
			Field:   "recorder.initial_state",
			Message: fmt.Sprintf("unknown state %q", cfg.InitialState),
		}
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = constants.DefaultBufferSize
	}

	if cfg.EventWindow <= 0 {
		cfg.EventWindow = constants.DefaultEventWindow
	}

	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = cfg.EventWindow / 2
	}

	if cfg.MaxPendingSamples < 0 {
		return &ValidationError{
			Field:   "recorder.max_pending_samples",
			Message: "max_pending_samples cannot be negative",
		}
	}

	if cfg.Downsampling < 0 {
		return &ValidationError{
			Field:   "recorder.downsampling",
			Message: "downsampling cannot be negative",
		}
	}

	return nil
}
