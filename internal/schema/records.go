package schema

import "github.com/inventory-importer/internal/types"

// Money values are integer cents.

// ProductCostRecord is a supplier cost for one SKU
type ProductCostRecord struct {
	CompanyID    string `json:"company_id" validate:"required"`
	SKU          string `json:"sku" validate:"required,max=100"`
	CostCents    int64  `json:"cost" validate:"gte=0"`
	SupplierName string `json:"supplier_name,omitempty" validate:"max=255"`
	SupplierSKU  string `json:"supplier_sku,omitempty" validate:"max=100"`
	LeadTimeDays *int   `json:"lead_time_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	MOQ          *int   `json:"moq,omitempty" validate:"omitempty,gte=1"`
}

func (r *ProductCostRecord) ImportType() types.ImportType { return types.ImportProductCosts }
func (r *ProductCostRecord) Company() string              { return r.CompanyID }

// SupplierRecord is one supplier
type SupplierRecord struct {
	CompanyID           string `json:"company_id" validate:"required"`
	Name                string `json:"name" validate:"required,max=255"`
	Email               string `json:"email,omitempty" validate:"omitempty,email"`
	Phone               string `json:"phone,omitempty" validate:"max=50"`
	DefaultLeadTimeDays *int   `json:"default_lead_time_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	Notes               string `json:"notes,omitempty" validate:"max=2000"`
}

func (r *SupplierRecord) ImportType() types.ImportType { return types.ImportSuppliers }
func (r *SupplierRecord) Company() string              { return r.CompanyID }

// SalesRecord is one historical order line
type SalesRecord struct {
	CompanyID      string `json:"company_id" validate:"required"`
	OrderID        string `json:"order_id" validate:"required,max=100"`
	OrderDate      Date   `json:"order_date"`
	SKU            string `json:"sku" validate:"required,max=100"`
	Quantity       int    `json:"quantity" validate:"gte=1"`
	UnitPriceCents int64  `json:"unit_price" validate:"gte=0"`
	CostAtTime     *int64 `json:"cost_at_time,omitempty" validate:"omitempty,gte=0"`
	Channel        string `json:"channel,omitempty" validate:"max=50"`
}

func (r *SalesRecord) ImportType() types.ImportType { return types.ImportHistoricalSales }
func (r *SalesRecord) Company() string              { return r.CompanyID }

// InventoryRecord is the stock level of one SKU
type InventoryRecord struct {
	CompanyID    string `json:"company_id" validate:"required"`
	SKU          string `json:"sku" validate:"required,max=100"`
	Name         string `json:"name" validate:"required,max=255"`
	Quantity     int    `json:"quantity" validate:"gte=0"`
	CostCents    *int64 `json:"cost,omitempty" validate:"omitempty,gte=0"`
	PriceCents   *int64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Location     string `json:"location,omitempty" validate:"max=255"`
	ReorderPoint *int   `json:"reorder_point,omitempty" validate:"omitempty,gte=0"`
	Barcode      string `json:"barcode,omitempty" validate:"max=100"`
}

func (r *InventoryRecord) ImportType() types.ImportType { return types.ImportInventory }
func (r *InventoryRecord) Company() string              { return r.CompanyID }

// ReorderRuleRecord is the reorder policy of one SKU
type ReorderRuleRecord struct {
	CompanyID       string `json:"company_id" validate:"required"`
	SKU             string `json:"sku" validate:"required,max=100"`
	ReorderPoint    int    `json:"reorder_point" validate:"gte=0"`
	ReorderQuantity int    `json:"reorder_quantity" validate:"gte=1"`
	RuleType        string `json:"rule_type,omitempty" validate:"omitempty,oneof=fixed days_of_cover seasonal"`
	MinStock        *int   `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	MaxStock        *int   `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
}

func (r *ReorderRuleRecord) ImportType() types.ImportType { return types.ImportReorderRules }
func (r *ReorderRuleRecord) Company() string              { return r.CompanyID }

// LocationRecord is one stock location
type LocationRecord struct {
	CompanyID    string `json:"company_id" validate:"required"`
	Name         string `json:"name" validate:"required,max=255"`
	Address      string `json:"address,omitempty" validate:"max=500"`
	LocationType string `json:"location_type,omitempty" validate:"omitempty,oneof=warehouse store overflow virtual"`
	IsDefault    *bool  `json:"is_default,omitempty"`
}

func (r *LocationRecord) ImportType() types.ImportType { return types.ImportLocations }
func (r *LocationRecord) Company() string              { return r.CompanyID }
