package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and cross-field rules.
// Configuration errors are startup-time fatal: a quota service with a broken
// policy table must not come up and silently enforce nothing.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Store.Backend == "sqlite" && c.Store.DSN == "" {
		return errors.New("store.dsn is required for the sqlite backend (every API process must share one database)")
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"store.timeout", c.Store.Timeout},
		{"store.sweep_interval", c.Store.SweepInterval},
		{"admin.window", c.Admin.Window},
	} {
		if field.value == "" {
			continue
		}
		if d, err := time.ParseDuration(field.value); err != nil || d <= 0 {
			return fmt.Errorf("%s: must be a positive duration, got %q", field.name, field.value)
		}
	}

	if _, ok := c.Roles["user"]; !ok {
		return errors.New(`roles must define "user": it is the fallback policy for unknown roles`)
	}

	for role, actions := range c.Roles {
		for action, limits := range actions {
			if len(limits) == 0 {
				return fmt.Errorf("roles.%s.%s: at least one limit is required", role, action)
			}
			for _, l := range limits {
				if l.Name == "" {
					return fmt.Errorf("roles.%s.%s: every limit needs a name", role, action)
				}
				if d, err := time.ParseDuration(l.Window); err != nil || d <= 0 {
					return fmt.Errorf("roles.%s.%s limit %s: window must be a positive duration, got %q", role, action, l.Name, l.Window)
				}
				if l.MaxUnits < 1 {
					return fmt.Errorf("roles.%s.%s limit %s: max_units must be at least 1", role, action, l.Name)
				}
				if l.Unit != "" && l.Unit != "request" && l.Unit != "cost" {
					return fmt.Errorf("roles.%s.%s limit %s: unit must be request or cost, got %q", role, action, l.Name, l.Unit)
				}
			}
		}
	}

	return nil
}

// formatValidationErrors converts validator errors into actionable messages.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
