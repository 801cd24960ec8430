package api

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"example.com/farmgate/services/orders/internal/workflow"
)

// registerValidators installs the domain value validators on gin's
// binding engine so request structs can tag order types and urgencies.
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	_ = v.RegisterValidation("ordertype", func(fl validator.FieldLevel) bool {
		return workflow.OrderType(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("urgency", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == "" || workflow.Urgency(value).IsValid()
	})
}
