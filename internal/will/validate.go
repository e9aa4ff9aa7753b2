package will

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

const (
	MaxCcEmails     = 5
	MinTimeoutHours = 24
	MaxTimeoutHours = 8760
)

var ErrInvalidConfig = errors.New("invalid will configuration")

// FieldError names the offending field of an owner-supplied configuration.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

// ValidationError collects every FieldError of one configuration.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

// ConfigInput is an owner's desired will configuration.
type ConfigInput struct {
	IsEnabled    bool
	Content      string
	TargetEmail  string
	CcEmails     []string
	TimeoutHours int
}

// Normalize trims addresses and drops empty CC entries, keeping order.
func (in ConfigInput) Normalize() ConfigInput {
	in.TargetEmail = strings.TrimSpace(in.TargetEmail)
	cc := make([]string, 0, len(in.CcEmails))
	for _, e := range in.CcEmails {
		if e = strings.TrimSpace(e); e != "" {
			cc = append(cc, e)
		}
	}
	in.CcEmails = cc
	return in
}

// ValidateConfig checks an owner configuration. The returned error wraps
// ErrInvalidConfig and is a *ValidationError.
func ValidateConfig(in ConfigInput) error {
	in = in.Normalize()
	var fields []FieldError

	if in.IsEnabled && in.TargetEmail == "" {
		fields = append(fields, FieldError{Field: "target_email", Message: "required when the will is enabled"})
	}
	if in.TargetEmail != "" && !validEmail(in.TargetEmail) {
		fields = append(fields, FieldError{Field: "target_email", Message: "invalid email address"})
	}
	if len(in.CcEmails) > MaxCcEmails {
		fields = append(fields, FieldError{Field: "cc_emails", Message: fmt.Sprintf("at most %d addresses", MaxCcEmails)})
	}
	for i, e := range in.CcEmails {
		if !validEmail(e) {
			fields = append(fields, FieldError{Field: fmt.Sprintf("cc_emails[%d]", i), Message: "invalid email address"})
		}
	}
	if in.TimeoutHours < MinTimeoutHours || in.TimeoutHours > MaxTimeoutHours {
		fields = append(fields, FieldError{Field: "timeout_hours", Message: fmt.Sprintf("must be between %d and %d", MinTimeoutHours, MaxTimeoutHours)})
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// validEmail accepts a bare address only; display names are rejected.
func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s && a.Name == ""
}
