package metrics

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid rule, spec or alias. It is fatal for the
// run that loaded the configuration.
type ConfigError struct {
	Component string
	Item      string
	Reason    string
}

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(component, item, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		Component: component,
		Item:      item,
		Reason:    fmt.Sprintf(format, args...),
	}
}

func (e *ConfigError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("config error in %s: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("config error in %s %q: %s", e.Component, e.Item, e.Reason)
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
