package pipeline

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a malformed pipeline definition. It is the only
// error that aborts a run before any job is scheduled.
type ConfigurationError struct {
	Pipeline string
	Field    string
	Msg      string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Pipeline != "" && e.Field != "":
		return fmt.Sprintf("pipeline %s: %s: %s", e.Pipeline, e.Field, e.Msg)
	case e.Pipeline != "":
		return fmt.Sprintf("pipeline %s: %s", e.Pipeline, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("pipeline: %s: %s", e.Field, e.Msg)
	default:
		return "pipeline: " + e.Msg
	}
}

// Configf builds a ConfigurationError.
func Configf(pipelineID, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Pipeline: pipelineID, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
