package service

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fpidot/pm-aggregator/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError carries every invalid field of a payload. It matches
// domain.ErrInvalidInput under errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidInput }

func (e *ValidationError) add(field, rule, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// validateStruct runs struct tags and converts failures to a
// ValidationError.
func validateStruct(v any) *ValidationError {
	verr := &ValidationError{}
	err := validate.Struct(v)
	if err == nil {
		return verr
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		verr.add("", "invalid", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.add(fe.Namespace(), fe.Tag(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "e164":
		return fmt.Sprintf("%s must be an E.164 phone number such as +15551234567", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "datetime":
		return fmt.Sprintf("%s must use the layout %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
