// Package mapper shapes loosely-typed Production records into strictly
// typed Integration create payloads.
//
// Mappers never create anything themselves: foreign keys are resolved
// through the Dependencies callbacks and everything else is field aliasing
// with best-effort defaults. A payload that fails validation fails that
// record only.
package mapper

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/models"
	"github.com/natserract/stsync/pkg/record"
)

// Dependencies resolves the entities a purchase order references.
// *resolve.Resolver implements it; tests substitute fakes.
type Dependencies interface {
	EnsureVendor(ctx context.Context, prodID int64) (int64, bool, error)
	EnsureWarehouse(ctx context.Context, prodID int64) (int64, bool, error)
	EnsureMaterial(ctx context.Context, prodID int64, codeHint, nameHint string) (int64, bool, error)
	BusinessUnit(ctx context.Context, src record.Record) (int64, bool)
	PurchaseOrderTypeID(ctx context.Context) (int64, error)
	FindWarehouseByName(ctx context.Context, name string) (int64, bool)
	WarehouseInfo(ctx context.Context, intID int64) record.Record
	DefaultWarehouseID() int64
}

// Translate looks up a crosswalk mapping; used by the job mapper for
// dependency kinds that are translated but never created (customers,
// locations, job types, campaigns).
type Translate func(kind, prodID string) (string, bool)

// Mapper builds create payloads.
type Mapper struct {
	settings *config.Settings
	logger   *zap.Logger
}

// New creates a mapper.
func New(settings *config.Settings, logger *zap.Logger) *Mapper {
	return &Mapper{settings: settings, logger: logger}
}

// Item maps a Production pricebook item to a material create payload.
func (m *Mapper) Item(src record.Record) (*models.ItemCreate, error) {
	item := &models.ItemCreate{
		Code:        firstNonEmpty(src.String("code", "itemCode"), fmt.Sprintf("PROD-%s", src.ID())),
		Name:        firstNonEmpty(src.String("name", "description"), "Unknown Item"),
		Description: firstNonEmpty(src.String("description", "name"), "Unknown Item"),
		Active:      src.Bool("active", true),
	}
	if err := item.Validate(); err != nil {
		m.logger.Error("Invalid item data", zap.String("prod_id", src.ID()), zap.Error(err))
		return nil, err
	}
	return item, nil
}

// Job maps a Production job to a job create payload, translating its
// dependency ids through the crosswalk. An unmapped dependency keeps the
// Production id; the Integration API rejects it when that matters.
func (m *Mapper) Job(src record.Record, xlate Translate) (*models.JobCreate, error) {
	job := &models.JobCreate{
		CustomerID:     translateID(src, "customerId", "customers", xlate),
		LocationID:     translateID(src, "locationId", "locations", xlate),
		JobTypeID:      translateID(src, "jobTypeId", "jobTypes", xlate),
		Source:         "stsync",
		ExternalNumber: fmt.Sprintf("PROD-%s", src.ID()),
		Notes:          fmt.Sprintf("Cloned from Prod %s", src.ID()),
	}
	if campaign := translateID(src, "campaignId", "campaigns", xlate); campaign > 0 {
		job.CampaignID = &campaign
	}

	if err := job.Validate(); err != nil {
		m.logger.Error("Invalid job data", zap.String("prod_id", src.ID()), zap.Error(err))
		return nil, err
	}
	return job, nil
}

// PurchaseOrder maps a Production purchase order to a create payload,
// resolving every dependency through deps in the order vendor → warehouse
// → materials → business unit → purchase order type.
func (m *Mapper) PurchaseOrder(ctx context.Context, src record.Record, deps Dependencies) (*models.POCreate, error) {
	prodID := src.ID()

	// Vendor: required by the payload shape, but an unresolvable vendor
	// falls back to the Production id (dry-run) or zero.
	vendorID := int64(0)
	srcVendorID, hasVendor := src.Int64("vendorId")
	if !hasVendor {
		if v := src.Child("vendor"); v != nil {
			srcVendorID, hasVendor = v.Int64("id")
		}
	}
	if hasVendor {
		id, resolved, err := deps.EnsureVendor(ctx, srcVendorID)
		switch {
		case err != nil:
			return nil, fmt.Errorf("vendor ensure failed for PO %s: %w", prodID, err)
		case resolved:
			vendorID = id
		default:
			vendorID = srcVendorID
		}
	}

	warehouseID := m.resolveWarehouse(ctx, src, deps)
	if warehouseID == 0 {
		return nil, fmt.Errorf("no Integration warehouse id resolved for PO %s; set ST_DEFAULT_WAREHOUSE_ID_INT", prodID)
	}

	lines := m.poLines(ctx, src, deps)
	if len(lines) == 0 {
		return nil, &models.ValidationError{
			Entity: "purchase order",
			Fields: map[string]string{"items": "no valid lines"},
		}
	}

	buID, buOK := deps.BusinessUnit(ctx, src)

	typeID, err := deps.PurchaseOrderTypeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("purchase order type for PO %s: %w", prodID, err)
	}

	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	po := &models.POCreate{
		VendorID:            vendorID,
		Date:                firstNonEmpty(src.String("createdOn", "orderedOn", "modifiedOn"), now),
		TypeID:              typeID,
		ExternalNumber:      fmt.Sprintf("PROD-%s", prodID),
		InventoryLocationID: warehouseID,
		ShipTo:              m.shipTo(ctx, warehouseID, deps),
		RequiredOn:          firstNonEmpty(src.String("requiredOn", "expectedOn", "createdOn"), now),
		Items:               lines,
	}

	if buOK {
		po.BusinessUnitID = &buID
	}

	if err := po.Validate(); err != nil {
		m.logger.Error("Invalid purchase order data", zap.String("prod_id", prodID), zap.Error(err))
		return nil, err
	}
	return po, nil
}

// resolveWarehouse tries the source warehouse id, then its name, then the
// configured default. Zero means unresolved.
func (m *Mapper) resolveWarehouse(ctx context.Context, src record.Record, deps Dependencies) int64 {
	warehouse := src.Child("warehouse")

	whID, hasID := src.Int64("warehouseId")
	if !hasID && warehouse != nil {
		whID, hasID = warehouse.Int64("id")
	}
	if hasID {
		id, resolved, err := deps.EnsureWarehouse(ctx, whID)
		if err != nil {
			m.logger.Warn("Warehouse ensure failed, falling back",
				zap.Int64("prod_warehouse_id", whID),
				zap.Error(err))
		} else if resolved {
			return id
		}
	}

	if warehouse != nil {
		if name := warehouse.String("name"); name != "" {
			if id, ok := deps.FindWarehouseByName(ctx, name); ok {
				return id
			}
		}
	}

	return deps.DefaultWarehouseID()
}

func (m *Mapper) poLines(ctx context.Context, src record.Record, deps Dependencies) []models.POLineCreate {
	var lines []models.POLineCreate
	for _, ln := range src.List("items", "lines") {
		// Prefer explicit pricebook identifiers; never the line's own id.
		srcItemID, ok := ln.Int64("itemId", "pricebookItemId", "materialId", "equipmentId", "skuId")
		if !ok {
			m.logger.Warn("Skipping PO line with no item id", zap.Any("line", ln))
			continue
		}

		codeHint := ln.String("code", "itemCode", "skuCode", "sku")
		nameHint := ln.String("name", "skuName", "description")

		intItemID, resolved, err := deps.EnsureMaterial(ctx, srcItemID, codeHint, nameHint)
		if err != nil {
			m.logger.Warn("Skipping PO line, material ensure failed",
				zap.Int64("prod_item_id", srcItemID),
				zap.Error(err))
			continue
		}

		qty, _ := ln.Float64("quantity", "qty")
		line := models.POLineCreate{
			ItemID:           intItemID,
			SKUID:            intItemID,
			Quantity:         qty,
			QuantityOrdered:  qty,
			Description:      nameHint,
			VendorPartNumber: ln.String("vendorPartNumber"),
		}
		if cost, ok := ln.Float64("unitCost", "unitPrice", "cost"); ok {
			line.UnitCost = &cost
			line.Cost = &cost
		}

		// An unresolved id only happens in dry-run: the line stays in the
		// logged payload with the id left out, nothing is posted.
		if resolved {
			if err := line.Validate(); err != nil {
				m.logger.Warn("Skipping invalid PO line",
					zap.Int64("prod_item_id", srcItemID),
					zap.Error(err))
				continue
			}
		}
		lines = append(lines, line)
	}
	return lines
}

func (m *Mapper) shipTo(ctx context.Context, warehouseID int64, deps Dependencies) models.POShipTo {
	details := deps.WarehouseInfo(ctx, warehouseID)
	addr := normalizeAddress(details.Child("address"))

	// Settings overlay individual address fields when provided.
	override := m.settings.ShipTo
	overlay(&addr.Street, override.Street)
	overlay(&addr.Unit, override.Unit)
	overlay(&addr.City, override.City)
	overlay(&addr.State, override.State)
	overlay(&addr.Zip, override.Zip)
	overlay(&addr.Country, override.Country)

	return models.POShipTo{
		InventoryLocationID: warehouseID,
		Description: firstNonEmpty(details.String("name", "displayName"),
			"Ship to Integration Warehouse"),
		Address: addr,
	}
}

// normalizeAddress maps the address field spellings seen across the
// platform's APIs onto the shipTo shape.
func normalizeAddress(addr record.Record) models.Address {
	if addr == nil {
		addr = record.Record{}
	}
	return models.Address{
		Street:  addr.String("street", "addressLine1", "address1"),
		Unit:    addr.String("unit", "addressLine2", "address2"),
		City:    addr.String("city"),
		State:   addr.String("state", "stateCode"),
		Zip:     addr.String("zip", "postalCode"),
		Country: firstNonEmpty(addr.String("country"), "US"),
	}
}

func translateID(src record.Record, field, kind string, xlate Translate) int64 {
	id, ok := src.Int64(field)
	if !ok {
		return 0
	}
	if mapped, found := xlate(kind, strconv.FormatInt(id, 10)); found {
		if n, err := strconv.ParseInt(mapped, 10, 64); err == nil {
			return n
		}
	}
	return id
}

func overlay(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
