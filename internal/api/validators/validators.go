// Package validators builds the request validator shared by every handler.
package validators

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/reqtrace/engine/internal/models"
)

// New returns a validator that reports json field names and knows the
// requirement enums.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	must(v.RegisterValidation("notblank", validators.NotBlank))
	must(v.RegisterValidation("reqstatus", func(fl validator.FieldLevel) bool {
		return models.Status(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("verification", func(fl validator.FieldLevel) bool {
		m := models.VerificationMethod(fl.Field().String())
		for _, known := range models.VerificationMethods {
			if m == known {
				return true
			}
		}
		return false
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Describe turns validation errors into one readable line.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
