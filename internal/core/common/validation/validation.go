package validation

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/pix-payments/internal"
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]FieldValidator, 0),
	}
}

// Field registers a value for validation. The returned pointer is only valid
// until the next call to Field.
func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return &v.fields[len(v.fields)-1]
}

func (fv *FieldValidator) Required() *FieldValidator {
	name := fv.FieldName
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return errors.NewValidationFieldError(name, fmt.Sprintf("%s is required", name), errors.ErrCodeValidationFailed)
			}
		case *string:
			if v == nil || strings.TrimSpace(*v) == "" {
				return errors.NewValidationFieldError(name, fmt.Sprintf("%s is required", name), errors.ErrCodeValidationFailed)
			}
		case nil:
			return errors.NewValidationFieldError(name, fmt.Sprintf("%s is required", name), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// Email accepts a bare address only; display-name forms are rejected.
func (fv *FieldValidator) Email() *FieldValidator {
	name := fv.FieldName
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		v, ok := value.(string)
		if !ok || v == "" {
			return nil
		}
		addr, err := mail.ParseAddress(v)
		if err != nil || addr.Address != v || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
			return errors.NewValidationFieldError(name, fmt.Sprintf("%s must be a valid email address", name), errors.ErrCodeInvalidEmail)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) PositiveDecimal() *FieldValidator {
	name := fv.FieldName
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		var d decimal.Decimal
		switch v := value.(type) {
		case decimal.Decimal:
			d = v
		case *decimal.Decimal:
			if v == nil {
				return errors.NewValidationFieldError(name, fmt.Sprintf("%s is required", name), errors.ErrCodeInvalidAmount)
			}
			d = *v
		default:
			return nil
		}
		if !d.IsPositive() {
			return errors.NewValidationFieldError(name, fmt.Sprintf("%s must be positive", name), errors.ErrCodeInvalidAmount)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) OneOf(code errors.ErrorCode, allowed ...string) *FieldValidator {
	name := fv.FieldName
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		v, ok := value.(string)
		if !ok || v == "" {
			return nil
		}
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		message := fmt.Sprintf("%s must be one of: %s", name, strings.Join(allowed, ", "))
		return errors.NewValidationFieldError(name, message, code)
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	name := fv.FieldName
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok {
			if len(v) > max {
				message := fmt.Sprintf("%s must not exceed %d characters", name, max)
				return errors.NewValidationFieldError(name, message, errors.ErrCodeValidationFailed)
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(validator func(interface{}) *errors.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

// Validate runs every validator and folds the failures into one validation error.
// Only the first failure per field is reported.
func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(errors.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
			} else {
				validationErrors = append(validationErrors, errors.ValidationError{
					Field:   field.FieldName,
					Message: appErr.Message,
					Code:    string(appErr.Code),
				})
			}
			break
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

func ValidatePayerEmail(email string) *errors.AppError {
	validator := NewValidator()
	validator.Field("payer.email", email).
		Required().
		Email()
	return validator.Validate()
}

func ValidateAmount(amount decimal.Decimal) *errors.AppError {
	validator := NewValidator()
	validator.Field("amount", amount).
		PositiveDecimal()
	return validator.Validate()
}
