package auth

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
)

const (
	MsgInvalidFields = "Invalid fields!"
	MsgInvalidEmail  = "Invalid email!"
)

type LoginInput struct {
	Email    string `json:"email" form:"email" validate:"required,email"`
	Password string `json:"password" form:"password" validate:"required"`
}

type RegisterInput struct {
	Name            string `json:"name" form:"name" validate:"required"`
	Email           string `json:"email" form:"email" validate:"required,email"`
	Password        string `json:"password" form:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword" validate:"eqfield=Password"`
}

type ForgotPasswordInput struct {
	Email string `json:"email" form:"email" validate:"required,email"`
}

type ResetPasswordInput struct {
	Token           string `json:"token" form:"token" validate:"required"`
	Password        string `json:"password" form:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword" validate:"eqfield=Password"`
}

// fieldMessages is looked up by "field.tag" first, then by field.
var fieldMessages = map[string]string{
	"email":             "A valid email is required.",
	"name":              "Name is required.",
	"password.required": "Password is required.",
	"password.min":      "Password must be at least 6 characters.",
	"confirmPassword":   "Passwords don't match.",
	"token":             "Reset token is required.",
}

// Validator checks form inputs. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Login trims the email before checking it; passwords are taken as given.
func (v *Validator) Login(in LoginInput) (LoginInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	return in, v.check(in, MsgInvalidFields, ReasonInvalidFields)
}

func (v *Validator) Register(in RegisterInput) (RegisterInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	return in, v.check(in, MsgInvalidFields, ReasonInvalidFields)
}

func (v *Validator) ForgotPassword(in ForgotPasswordInput) (ForgotPasswordInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	return in, v.check(in, MsgInvalidEmail, ReasonInvalidEmail)
}

func (v *Validator) ResetPassword(in ResetPasswordInput) (ResetPasswordInput, error) {
	in.Token = strings.TrimSpace(in.Token)
	return in, v.check(in, MsgInvalidFields, ReasonInvalidFields)
}

func (v *Validator) check(in any, message, reason string) error {
	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: message, Reason: reason}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		if _, seen := fields[fe.Field()]; seen {
			continue
		}
		fields[fe.Field()] = fieldMessage(fe.Field(), fe.ActualTag())
	}
	return &ValidationError{Message: message, Fields: fields, Reason: reason}
}

func fieldMessage(field, tag string) string {
	if msg, ok := fieldMessages[field+"."+tag]; ok {
		return msg
	}
	if msg, ok := fieldMessages[field]; ok {
		return msg
	}
	return "field " + field + " is not valid"
}

// NormalizeEmail is applied on every read and write of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
