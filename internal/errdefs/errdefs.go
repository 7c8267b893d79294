// Package errdefs defines the error kinds shared by resources, retry
// conditions and the engine.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// ConfigurationError reports invalid user configuration. It is raised
// during validation, before any remote call is made.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Nest prefixes the field of a ConfigurationError with parent. Other errors
// are returned unchanged.
func Nest(parent string, err error) error {
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		return err
	}
	field := parent
	if ce.Field != "" {
		if strings.HasPrefix(ce.Field, "[") {
			field = parent + ce.Field
		} else {
			field = parent + "." + ce.Field
		}
	}
	return &ConfigurationError{Field: field, Message: ce.Message}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// TimeoutError is returned when a bounded wait expires before the remote
// resource reaches the desired condition.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Last      error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Operation)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// NotFoundError marks a resource that does not exist remotely.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

var notFoundCodes = map[string]struct{}{
	"ResourceNotFoundException": {},
	"NotFoundException":         {},
	"NoSuchHostedZone":          {},
	"NoSuchEntity":              {},
	"NoSuchKey":                 {},
	"ResourceNotFound":          {},
}

// IsNotFound reports whether err says the remote resource is absent.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, ok := notFoundCodes[apiErr.ErrorCode()]
		return ok
	}
	return false
}
