// Package validate holds the process-wide struct validator with english messages
package validate

import (
	"reflect"
	"strings"
	"sync"

	perr "gharchive/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Svc holds a singleton validator and translator
type Svc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	once sync.Once
	svc  *Svc
)

// Get returns the validator singleton, initializing on first use
func Get() *Svc {
	once.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())

		// prefer env style names when present, else the field name
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("name")
			if tag == "" || tag == "-" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)
		registerShortMin(v, trans)

		svc = &Svc{Validator: v, Translator: trans}
	})
	return svc
}

// Struct validates s and maps the first failure to a Validation error
// The returned error carries the offending field name
func Struct(s any) error {
	g := Get()
	err := g.Validator.Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !asValidationErrors(err, &ves) || len(ves) == 0 {
		return perr.Wrap(err, perr.ErrorCodeValidation, "invalid options")
	}
	fe := ves[0]
	msg := fe.Translate(g.Translator)
	if len(ves) > 1 {
		parts := make([]string, 0, len(ves))
		for _, e := range ves {
			parts = append(parts, e.Translate(g.Translator))
		}
		msg = strings.Join(parts, "; ")
	}
	return perr.WithField(perr.Validationf("invalid options: %s", msg), fe.Field())
}

func asValidationErrors(err error, out *validator.ValidationErrors) bool {
	ves, ok := err.(validator.ValidationErrors)
	if ok {
		*out = ves
	}
	return ok
}

func registerShortMin(v *validator.Validate, trans ut.Translator) {
	_ = v.RegisterTranslation("min", trans,
		func(ut ut.Translator) error { return ut.Add("min", "{0} must be at least {1}", true) },
		func(ut ut.Translator, fe validator.FieldError) string {
			s, _ := ut.T("min", fe.Field(), fe.Param())
			return s
		},
	)
}
