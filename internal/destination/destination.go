// Package destination describes where each import type is written and how.
package destination

import (
	"fmt"

	"github.com/inventory-importer/internal/types"
)

// Destination carries everything the persister needs to know about a target table
type Destination struct {
	Type        types.ImportType  `json:"type"`
	Table       string            `json:"table"`
	ConflictKey []string          `json:"conflictKey"`
	Procedure   string            `json:"procedure"`
	Mode        types.PersistMode `json:"mode"`
	// AffectsAggregates marks destinations that feed cached dashboards and materialized views
	AffectsAggregates bool `json:"affectsAggregates"`
}

var table = map[types.ImportType]Destination{
	types.ImportInventory: {
		Type:              types.ImportInventory,
		Table:             "inventory_items",
		ConflictKey:       []string{"company_id", "sku"},
		Procedure:         "batch_upsert_inventory",
		Mode:              types.PersistBatched,
		AffectsAggregates: true,
	},
	types.ImportHistoricalSales: {
		Type:              types.ImportHistoricalSales,
		Table:             "sales_history",
		ConflictKey:       []string{"company_id", "order_id", "sku"},
		Procedure:         "batch_import_sales",
		Mode:              types.PersistBatched,
		AffectsAggregates: true,
	},
	types.ImportProductCosts: {
		Type:              types.ImportProductCosts,
		Table:             "supplier_products",
		ConflictKey:       []string{"supplier_id", "sku"},
		Procedure:         "import_product_costs",
		Mode:              types.PersistTransactional,
		AffectsAggregates: true,
	},
	types.ImportSuppliers: {
		Type:        types.ImportSuppliers,
		Table:       "suppliers",
		ConflictKey: []string{"company_id", "name"},
		Procedure:   "import_suppliers",
		Mode:        types.PersistTransactional,
	},
	types.ImportReorderRules: {
		Type:              types.ImportReorderRules,
		Table:             "reorder_rules",
		ConflictKey:       []string{"company_id", "sku"},
		Procedure:         "import_reorder_rules",
		Mode:              types.PersistTransactional,
		AffectsAggregates: true,
	},
	types.ImportLocations: {
		Type:        types.ImportLocations,
		Table:       "locations",
		ConflictKey: []string{"company_id", "name"},
		Procedure:   "import_locations",
		Mode:        types.PersistTransactional,
	},
}

// Lookup returns the destination for an import type
func Lookup(t types.ImportType) (Destination, error) {
	d, ok := table[t]
	if !ok {
		return Destination{}, fmt.Errorf("no destination for import type %q", t)
	}
	return d, nil
}
