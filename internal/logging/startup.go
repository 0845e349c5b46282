package logging

import (
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects the resolved run configuration — paths, feature
// switches, pipeline settings — and emits it as a single structured event
// before any file is touched. One event makes it trivial to reconstruct how
// a run was configured when reading logs after the fact.
type StartupLogger struct {
	paths    map[string]string
	features map[string]bool
	config   map[string]string
}

// NewStartupLogger creates an empty startup summary.
func NewStartupLogger() *StartupLogger {
	return &StartupLogger{
		paths:    make(map[string]string),
		features: make(map[string]bool),
		config:   make(map[string]string),
	}
}

// Path registers a filesystem location the run will touch (source, dest,
// backup, profile). Empty values are skipped so optional paths stay out of
// the event.
func (s *StartupLogger) Path(label, path string) *StartupLogger {
	if path != "" {
		s.paths[label] = path
	}
	return s
}

// Feature registers a boolean pipeline switch (dedupe, triage, bundle).
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	if value != "" {
		s.config[key] = value
	}
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info().
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", EnvOrDefault("INGEST_LOG_LEVEL", "info"))

	if len(s.paths) > 0 {
		evt = evt.Dict("paths", dictFromMap(s.paths))
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}

	evt.Msg("Ingest configuration resolved")
}

// dictFromMap converts a map[string]string into a zerolog Dict.
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
