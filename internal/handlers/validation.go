package handlers

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

var reCode = regexp.MustCompile(`^[0-9]{4,9}$`)

// bcrypt only hashes the first 72 bytes, so the limit is in bytes, not runes.
const (
	minPasswordRunes = 8
	maxPasswordBytes = 72
)

func validPassword(s string) bool {
	return utf8.RuneCountInString(s) >= minPasswordRunes && len(s) <= maxPasswordBytes
}

// ValidationError maps JSON field names to readable messages.
type ValidationError map[string]string

func (v ValidationError) Error() string {
	return "validation error"
}

type RequestValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func NewRequestValidator() (*RequestValidator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	trans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, errors.New("validator: english translator not found")
	}
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	custom := []struct {
		tag     string
		valid   func(string) bool
		message string
	}{
		{"otp", reCode.MatchString, "{0} must be a numeric code"},
		{"password", validPassword, "{0} must be at least 8 characters and at most 72 bytes"},
	}
	for _, c := range custom {
		valid := c.valid
		if err := validate.RegisterValidation(c.tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		}); err != nil {
			return nil, err
		}

		message := c.message
		if err := validate.RegisterTranslation(c.tag, trans,
			func(ut ut.Translator) error {
				return ut.Add(c.tag, message, false)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, err := ut.T(fe.Tag(), fe.Field())
				if err != nil {
					return fe.Error()
				}
				return t
			},
		); err != nil {
			return nil, err
		}
	}

	return &RequestValidator{validate: validate, translator: trans}, nil
}

// Validate returns a ValidationError listing every failing field.
func (v *RequestValidator) Validate(data any) error {
	err := v.validate.Struct(data)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationError, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}
