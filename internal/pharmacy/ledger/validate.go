package ledger

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// batchRules holds the struct-tag checks for an incoming batch
type batchRules struct {
	MedicineID  string `json:"medicine_id" validate:"required"`
	BatchNumber string `json:"batch_number" validate:"required,max=64"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
}

func validateNewBatch(b *domain.Batch) error {
	details := map[string]string{}

	err := validate.Struct(batchRules{
		MedicineID:  b.MedicineID,
		BatchNumber: b.BatchNumber,
		Quantity:    b.Quantity,
	})
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			details[fe.Field()] = ruleMessage(fe)
		}
	}

	if b.ExpiryDate.IsZero() {
		details["expiry_date"] = "this field is required"
	}
	if b.PurchasePrice.IsNegative() {
		details["purchase_price"] = "must be at least 0"
	}
	if b.SalePrice.IsNegative() {
		details["sale_price"] = "must be at least 0"
	}

	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "invalid value"
	}
}
