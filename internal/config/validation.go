package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value, entityType string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("is required for %s", entityType),
		}
	}
	return nil
}

// ValidateOneOf checks if a value is one of the allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateURL checks that a non-empty value is an absolute http(s) URL
func ValidateURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be an absolute http(s) URL",
		}
	}
	return nil
}

// ValidateHTTPS requires https for a non-empty URL, allowing plain http only
// for loopback hosts.
func ValidateHTTPS(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return ValidationError{Field: field, Value: value, Message: "is not a valid URL"}
	}
	if u.Scheme == "http" {
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return nil
		}
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must use https unless the host is localhost",
		}
	}
	return nil
}

// Validate checks the configuration and returns every problem found.
func (c Config) Validate() ValidationErrors {
	var errs ValidationErrors

	addErr := func(err error) {
		if ve, ok := err.(ValidationError); ok {
			errs = append(errs, ve)
		}
	}

	addErr(ValidateRequired("upstream.appID", c.Upstream.AppID, "the upstream application"))
	addErr(ValidateRequired("upstream.appSecret", c.Upstream.AppSecret, "the upstream application"))
	addErr(ValidateOneOf("auth.mode", string(c.Auth.Mode), []string{string(AuthModeTenant), string(AuthModeUser)}))
	addErr(ValidateOneOf("server.transport", c.Server.Transport,
		[]string{MCPTransportStreamableHTTP, MCPTransportSSE, MCPTransportBoth}))

	for field, value := range map[string]string{
		"upstream.domain":         c.Upstream.Domain,
		"upstream.authorizeURL":   c.Upstream.AuthorizeURL,
		"upstream.tokenURL":       c.Upstream.TokenURL,
		"upstream.tenantTokenURL": c.Upstream.TenantTokenURL,
		"upstream.revokeURL":      c.Upstream.RevokeURL,
		"upstream.apiBaseURL":     c.Upstream.APIBaseURL,
		"auth.publicURL":          c.Auth.PublicURL,
	} {
		addErr(ValidateURL(field, value))
	}

	if c.Auth.Mode == AuthModeUser {
		addErr(ValidateHTTPS("auth.publicURL", c.Auth.PublicURL))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", c.Server.Port)
	}
	if !strings.HasPrefix(c.Auth.CallbackPath, "/") {
		errs.Add("auth.callbackPath", "must start with /", c.Auth.CallbackPath)
	}

	return errs
}
