package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/inventory-importer/internal/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so messages match the canonical column names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// addValidatorErrors records struct tag failures. A field that already
// failed coercion keeps its first message.
func (v *values) addValidatorErrors(err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.fail("record", "is invalid")
		return
	}
	for _, fe := range verrs {
		v.fail(fe.Field(), fieldMessage(fe))
	}
}

// fieldMessage maps a validator failure to a readable message
func fieldMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.Join(strings.Fields(fe.Param()), ", "))
	case "gte", "min":
		if fe.Param() == "0" {
			return "must not be negative"
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	}
	return "is invalid"
}

var registry = map[types.ImportType]*Schema{
	types.ImportProductCosts: {
		Type: types.ImportProductCosts,
		Fields: []Field{
			{Name: "sku", Kind: KindString, Required: true},
			{Name: "cost", Kind: KindMoney, Required: true, Constraint: ">= 0"},
			{Name: "supplier_name", Kind: KindString},
			{Name: "supplier_sku", Kind: KindString},
			{Name: "lead_time_days", Kind: KindInteger, Constraint: "0-365"},
			{Name: "moq", Kind: KindInteger, Constraint: ">= 1", Description: "minimum order quantity"},
		},
		build: func(v *values, companyID string) Record {
			return &ProductCostRecord{
				CompanyID:    companyID,
				SKU:          v.str("sku"),
				CostCents:    v.money("cost"),
				SupplierName: v.str("supplier_name"),
				SupplierSKU:  v.str("supplier_sku"),
				LeadTimeDays: v.optInt("lead_time_days"),
				MOQ:          v.optInt("moq"),
			}
		},
	},
	types.ImportSuppliers: {
		Type: types.ImportSuppliers,
		Fields: []Field{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "email", Kind: KindEmail},
			{Name: "phone", Kind: KindString},
			{Name: "default_lead_time_days", Kind: KindInteger, Constraint: "0-365"},
			{Name: "notes", Kind: KindString},
		},
		build: func(v *values, companyID string) Record {
			return &SupplierRecord{
				CompanyID:           companyID,
				Name:                v.str("name"),
				Email:               v.str("email"),
				Phone:               v.str("phone"),
				DefaultLeadTimeDays: v.optInt("default_lead_time_days"),
				Notes:               v.str("notes"),
			}
		},
	},
	types.ImportHistoricalSales: {
		Type: types.ImportHistoricalSales,
		Fields: []Field{
			{Name: "order_id", Kind: KindString, Required: true},
			{Name: "order_date", Kind: KindDate, Required: true},
			{Name: "sku", Kind: KindString, Required: true},
			{Name: "quantity", Kind: KindInteger, Required: true, Constraint: ">= 1"},
			{Name: "unit_price", Kind: KindMoney, Required: true, Constraint: ">= 0"},
			{Name: "cost_at_time", Kind: KindMoney, Constraint: ">= 0"},
			{Name: "channel", Kind: KindString},
		},
		build: func(v *values, companyID string) Record {
			return &SalesRecord{
				CompanyID:      companyID,
				OrderID:        v.str("order_id"),
				OrderDate:      v.date("order_date"),
				SKU:            v.str("sku"),
				Quantity:       v.integer("quantity"),
				UnitPriceCents: v.money("unit_price"),
				CostAtTime:     v.optMoney("cost_at_time"),
				Channel:        v.str("channel"),
			}
		},
	},
	types.ImportInventory: {
		Type: types.ImportInventory,
		Fields: []Field{
			{Name: "sku", Kind: KindString, Required: true},
			{Name: "name", Kind: KindString, Required: true},
			{Name: "quantity", Kind: KindInteger, Required: true, Constraint: ">= 0"},
			{Name: "cost", Kind: KindMoney, Constraint: ">= 0"},
			{Name: "price", Kind: KindMoney, Constraint: ">= 0"},
			{Name: "location", Kind: KindString},
			{Name: "reorder_point", Kind: KindInteger, Constraint: ">= 0"},
			{Name: "barcode", Kind: KindString},
		},
		build: func(v *values, companyID string) Record {
			return &InventoryRecord{
				CompanyID:    companyID,
				SKU:          v.str("sku"),
				Name:         v.str("name"),
				Quantity:     v.integer("quantity"),
				CostCents:    v.optMoney("cost"),
				PriceCents:   v.optMoney("price"),
				Location:     v.str("location"),
				ReorderPoint: v.optInt("reorder_point"),
				Barcode:      v.str("barcode"),
			}
		},
	},
	types.ImportReorderRules: {
		Type: types.ImportReorderRules,
		Fields: []Field{
			{Name: "sku", Kind: KindString, Required: true},
			{Name: "reorder_point", Kind: KindInteger, Required: true, Constraint: ">= 0"},
			{Name: "reorder_quantity", Kind: KindInteger, Required: true, Constraint: ">= 1"},
			{Name: "rule_type", Kind: KindEnum, Options: []string{"fixed", "days_of_cover", "seasonal"}},
			{Name: "min_stock", Kind: KindInteger, Constraint: ">= 0"},
			{Name: "max_stock", Kind: KindInteger, Constraint: ">= 0"},
		},
		build: func(v *values, companyID string) Record {
			return &ReorderRuleRecord{
				CompanyID:       companyID,
				SKU:             v.str("sku"),
				ReorderPoint:    v.integer("reorder_point"),
				ReorderQuantity: v.integer("reorder_quantity"),
				RuleType:        v.str("rule_type"),
				MinStock:        v.optInt("min_stock"),
				MaxStock:        v.optInt("max_stock"),
			}
		},
	},
	types.ImportLocations: {
		Type: types.ImportLocations,
		Fields: []Field{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "address", Kind: KindString},
			{Name: "location_type", Kind: KindEnum, Options: []string{"warehouse", "store", "overflow", "virtual"}},
			{Name: "is_default", Kind: KindBool},
		},
		build: func(v *values, companyID string) Record {
			return &LocationRecord{
				CompanyID:    companyID,
				Name:         v.str("name"),
				Address:      v.str("address"),
				LocationType: v.str("location_type"),
				IsDefault:    v.optBool("is_default"),
			}
		},
	},
}
