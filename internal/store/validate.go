package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/recstore/internal/blob"
	"github.com/roach88/recstore/internal/storeerr"
)

// requestValidate checks SaveRequest and ExportRequest. Initialized in
// init() with the identifier rule.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("identifier", validateIdentifier)
}

// validateIdentifier accepts ids that are safe as a single path element.
func validateIdentifier(fl validator.FieldLevel) bool {
	return blob.ValidID(fl.Field().String()) == nil
}

func validateRequest(op string, req any) error {
	err := requestValidate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return storeerr.Wrap(storeerr.KindValidation, op, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return storeerr.New(storeerr.KindValidation, op, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "identifier":
		return fmt.Sprintf("%s %q is not a valid identifier", fe.Field(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
}
