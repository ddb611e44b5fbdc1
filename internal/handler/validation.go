package handler

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"rental/internal/domain"
)

var ratePlanValidator validator.Func = func(fl validator.FieldLevel) bool {
	plan, ok := fl.Field().Interface().(string)
	return ok && domain.RatePlan(strings.ToUpper(plan)).Valid()
}

var partyValidator validator.Func = func(fl validator.FieldLevel) bool {
	party, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	switch domain.Party(strings.ToUpper(strings.TrimSpace(party))) {
	case domain.PartyCustomer, domain.PartyProvider:
		return true
	}
	return false
}

// RegisterValidators adds the domain tags used in request bindings to gin's
// validator engine. Safe to call more than once.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("rateplan", ratePlanValidator); err != nil {
		return err
	}
	return v.RegisterValidation("party", partyValidator)
}
