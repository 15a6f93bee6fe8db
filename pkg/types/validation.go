package types

import (
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
// TECHNICAL DISCOVERY: validator caches struct metadata, so one instance per
// process is both safe for concurrent use and cheaper than building per call.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
			return IsValidUserID(fl.Field().String())
		})
	})
	return validate
}

// Validate checks message content and recipients.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if err := Validator().Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Field() == "Content" && fe.Tag() == "max" {
				return ErrContentTooLong
			}
			return Errorf(KindValidation, "invalid message: %s failed %s", fe.Field(), fe.Tag())
		}
		return ErrInvalidMessage
	}
	return nil
}

// Validate checks the reaction type and ordinal.
func (r *Reaction) Validate() error {
	if err := Validator().Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Errorf(KindValidation, "invalid reaction: %s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return ErrInvalidReact
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}
