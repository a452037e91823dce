package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	couponCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,64}$`)
)

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// Codes are normalized by trimming and upper-casing, so surrounding
	// whitespace and case are accepted here.
	_ = validate.RegisterValidation("coupon_code", func(fl validator.FieldLevel) bool {
		return couponCodePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
}

// Validate returns field -> message for every failed rule, or nil.
func Validate(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !asValidationErrors(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		errors[fe.Field()] = message(fe)
	}
	return errors
}

func asValidationErrors(err error, out *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*out = verrs
	}
	return ok
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gtfield":
		return "must be after " + fe.Param()
	case "coupon_code":
		return "must be 2-64 letters, digits, '-' or '_'"
	default:
		return fmt.Sprintf("failed %q", fe.Tag())
	}
}
