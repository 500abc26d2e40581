package verification

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"merchant-verify-client/internal/platform/errors"
)

const maxEmailLength = 254

var (
	emailPattern     = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern     = regexp.MustCompile(`^\+?\d{10,15}$`)
	phoneSeparators  = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")
	digitsOnlyRegexp = regexp.MustCompile(`^[0-9]+$`)
)

// Validator is the local gate every input passes before any network call.
// Failures are Validation errors and never consume an attempt.
type Validator struct {
	v             *validator.Validate
	codeLength    int
	maxTargetChar int
}

// NewValidator registers the workflow's custom tags on a validator instance.
func NewValidator(codeLength, maxTargetChars int) *Validator {
	if codeLength <= 0 {
		codeLength = 6
	}
	if maxTargetChars <= 0 {
		maxTargetChars = 50
	}
	val := &Validator{
		v:             validator.New(validator.WithRequiredStructEnabled()),
		codeLength:    codeLength,
		maxTargetChar: maxTargetChars,
	}
	_ = val.RegisterTags(val.v)
	return val
}

// RegisterTags installs the workflow's tags on v, so request binding checks
// fields with the same rules as the local gate.
func (val *Validator) RegisterTags(v *validator.Validate) error {
	tags := map[string]validator.Func{
		"target_id":     val.targetID,
		"contact_email": contactEmail,
		"contact_phone": contactPhone,
		"digits":        digitsOnly,
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

func (val *Validator) CodeLength() int {
	return val.codeLength
}

// TargetID accepts a UUID, a positive integer, or an opaque string of bounded length.
func (val *Validator) TargetID(id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("target_id", "merchant id is required", errors.CodeRequiredField)
	}
	if err := val.v.Var(strings.TrimSpace(id), "target_id"); err != nil {
		return invalid("target_id", "invalid merchant id", errors.CodeInvalidMerchant)
	}
	return nil
}

func (val *Validator) Email(email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("email", "email address is required", errors.CodeRequiredField)
	}
	if err := val.v.Var(email, "contact_email"); err != nil {
		return invalid("email", "invalid email address format", errors.CodeInvalidEmail)
	}
	return nil
}

func (val *Validator) Phone(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return invalid("phone", "phone number is required", errors.CodeRequiredField)
	}
	if err := val.v.Var(phone, "contact_phone"); err != nil {
		return invalid("phone", "invalid phone number format (10-15 digits required)", errors.CodeInvalidPhone)
	}
	return nil
}

// Code requires exactly CodeLength decimal digits.
func (val *Validator) Code(code string) error {
	if code == "" {
		return invalid("code", "verification code is required", errors.CodeRequiredField)
	}
	if err := val.v.Var(code, fmt.Sprintf("digits,len=%d", val.codeLength)); err != nil {
		return invalid("code", fmt.Sprintf("code must be exactly %d digits", val.codeLength), errors.CodeInvalidCode)
	}
	return nil
}

func (val *Validator) targetID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if err := uuid.Validate(id); err == nil && len(id) == 36 {
		return true
	}
	if isSignedInteger(id) {
		// legacy numeric ids must be positive
		return id[0] != '-' && strings.Trim(id, "+0") != ""
	}
	return len([]rune(id)) <= val.maxTargetChar
}

func contactEmail(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return len(s) <= maxEmailLength && emailPattern.MatchString(s)
}

func digitsOnly(fl validator.FieldLevel) bool {
	return digitsOnlyRegexp.MatchString(fl.Field().String())
}

func contactPhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(NormalizePhone(fl.Field().String()))
}

// NormalizePhone strips the separators people type into phone numbers.
func NormalizePhone(phone string) string {
	return phoneSeparators.Replace(strings.TrimSpace(phone))
}

// Sanitize removes NUL bytes and surrounding whitespace.
func Sanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

func isSignedInteger(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '-' || s[0] == '+' {
		s = s[1:]
	}
	return s != "" && digitsOnlyRegexp.MatchString(s)
}

func invalid(field, msg, code string) error {
	return errors.New(errors.KindValidation, "verification.validate."+field, msg).WithCode(code)
}
