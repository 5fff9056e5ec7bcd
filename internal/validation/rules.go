// Package validation provides custom validation rules for the application.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/jellydator/validation"
	"github.com/robfig/cron/v3"

	apperrors "github.com/allisson/secretkeeper/internal/errors"
)

var (
	// emailRegex is a basic email validation pattern
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// cronParser accepts the standard five-field format plus descriptors like @daily.
	cronParser = cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// Email validates email format using regex
var Email = validation.NewStringRuleWithError(
	func(s string) bool {
		return emailRegex.MatchString(s)
	},
	validation.NewError("validation_email_format", "must be a valid email address"),
)

// HTTPURL validates an absolute http or https URL with a host.
var HTTPURL = validation.NewStringRuleWithError(
	func(s string) bool {
		u, err := url.Parse(s)
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	},
	validation.NewError("validation_http_url", "must be a valid http(s) URL"),
)

// RedisURL validates a redis:// or rediss:// connection URL.
var RedisURL = validation.NewStringRuleWithError(
	func(s string) bool {
		u, err := url.Parse(s)
		if err != nil {
			return false
		}
		return (u.Scheme == "redis" || u.Scheme == "rediss") && u.Host != ""
	},
	validation.NewError("validation_redis_url", "must be a valid redis:// or rediss:// URL"),
)

// CronExpression validates a cron schedule understood by the rotation scheduler.
var CronExpression = validation.NewStringRuleWithError(
	func(s string) bool {
		_, err := ParseCron(s)
		return err == nil
	},
	validation.NewError("validation_cron_expression", "must be a valid cron expression that fires"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// ParseCron parses a schedule with the same parser used by CronExpression.
// Expressions that never match, like "0 0 30 2 *", are rejected.
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	if schedule.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("cron expression %q never fires", spec)
	}
	return schedule, nil
}

// Passphrase validates key-derivation passphrases. Passphrases shorter than
// MinLength are rejected; whitespace-only values never pass.
type Passphrase struct {
	MinLength int
}

// Validate checks the passphrase length.
func (p Passphrase) Validate(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_passphrase_type", "passphrase must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return validation.NewError("validation_passphrase_blank", "passphrase must not be blank")
	}
	if len(s) < p.MinLength {
		return validation.NewError(
			"validation_passphrase_min_length",
			fmt.Sprintf("passphrase must be at least %d characters", p.MinLength),
		)
	}
	return nil
}
