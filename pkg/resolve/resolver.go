// Package resolve implements the "ensure-exists" protocol for the entities
// a record under copy depends on: vendors, warehouses, materials, and
// business units.
//
// Every resolver follows the same three steps:
//
//  1. crosswalk hit: return the mapped Integration id with no network call.
//  2. natural-key match: scan the Integration list for the kind and match
//     by name (or code for materials) case-insensitively, caching a hit.
//  3. create: fetch the full Production record, build a create payload
//     with best-effort defaults, create it in Integration, cache the id.
//
// In dry-run mode step 3 logs the would-be payload and resolves to nothing.
package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/crosswalk"
	"github.com/natserract/stsync/pkg/httpclient"
	"github.com/natserract/stsync/pkg/models"
	"github.com/natserract/stsync/pkg/record"
)

const (
	vendorsPath    = "/inventory/v2/tenant/{tenant}/vendors"
	warehousesPath = "/inventory/v2/tenant/{tenant}/warehouses"
	materialsPath  = "/pricebook/v2/tenant/{tenant}/materials"
	equipmentPath  = "/pricebook/v2/tenant/{tenant}/equipment"
	poTypesPath    = "/inventory/v2/tenant/{tenant}/purchase-order-types"
)

// businessUnitPaths are the two API namespaces business units may live
// under, tried in order.
var businessUnitPaths = []string{
	"/crm/v2/tenant/{tenant}/business-units",
	"/settings/v2/tenant/{tenant}/business-units",
}

// Resolver ensures dependency entities exist in Integration.
type Resolver struct {
	client   *httpclient.Client
	store    *crosswalk.Store
	settings *config.Settings
	logger   *zap.Logger

	prodToken string
	intToken  string
	dryRun    bool

	// Per-run caches. The crosswalk is the durable source of truth; these
	// only avoid repeating the O(n) destination scans within one run.
	poTypeID       int64
	poTypeResolved bool
	vendorNames    map[string]int64
	warehouseNames map[string]int64
	materialCodes  map[string]int64
}

// New creates a resolver bound to one run's tokens.
func New(client *httpclient.Client, store *crosswalk.Store, settings *config.Settings, logger *zap.Logger, prodToken, intToken string, dryRun bool) *Resolver {
	return &Resolver{
		client:         client,
		store:          store,
		settings:       settings,
		logger:         logger,
		prodToken:      prodToken,
		intToken:       intToken,
		dryRun:         dryRun,
		vendorNames:    make(map[string]int64),
		warehouseNames: make(map[string]int64),
		materialCodes:  make(map[string]int64),
	}
}

// DefaultWarehouseID returns the configured fallback Integration warehouse
// id (0 when unset).
func (r *Resolver) DefaultWarehouseID() int64 { return r.settings.DefaultWarehouseID }

// EnsureVendor resolves the Production vendor id to an Integration vendor
// id, creating the vendor when needed. resolved is false only in dry-run.
func (r *Resolver) EnsureVendor(ctx context.Context, prodID int64) (intID int64, resolved bool, err error) {
	key := strconv.FormatInt(prodID, 10)
	if id, ok, err := r.mapped(crosswalk.KindVendors, key); err != nil || ok {
		return id, ok, err
	}

	src, err := r.client.Get(ctx, config.Production, fmt.Sprintf(vendorsPath+"/%d", prodID), r.prodToken, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to fetch Production vendor %d: %w", prodID, err)
	}

	name := src.String("name", "displayName", "legalName")
	if name == "" {
		name = fmt.Sprintf("Vendor %d", prodID)
	}

	if id, ok := r.findVendorByName(ctx, name); ok {
		if err := r.store.Put(crosswalk.KindVendors, key, strconv.FormatInt(id, 10)); err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	payload := models.VendorCreate{
		Name:                     name,
		ExternalNumber:           externalNumber(src, prodID),
		Active:                   src.Bool("active", true),
		IsTruckReplenishment:     src.Bool("isTruckReplenishment", false),
		RestrictedMobileCreation: src.Bool("restrictedMobileCreation", false),
		Address:                  entityAddress(src.Child("address")),
	}
	if rate, ok := src.Float64("taxRate"); ok {
		payload.TaxRate = rate
	}

	if r.dryRun {
		r.logger.Info("DRY RUN - Would create vendor", zap.Any("payload", payload))
		return 0, false, nil
	}

	created, err := r.client.Post(ctx, config.Integration, vendorsPath, r.intToken, payload, true)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create Integration vendor for %d: %w", prodID, err)
	}
	newID, ok := created.Int64("id", "vendorId")
	if !ok {
		return 0, false, fmt.Errorf("create vendor for %d returned no id", prodID)
	}
	if err := r.store.Put(crosswalk.KindVendors, key, strconv.FormatInt(newID, 10)); err != nil {
		return 0, false, err
	}
	r.vendorNames[normalizeKey(name)] = newID
	return newID, true, nil
}

// EnsureWarehouse resolves the Production warehouse id to an Integration
// warehouse id, creating the warehouse when needed.
func (r *Resolver) EnsureWarehouse(ctx context.Context, prodID int64) (intID int64, resolved bool, err error) {
	key := strconv.FormatInt(prodID, 10)
	if id, ok, err := r.mapped(crosswalk.KindWarehouses, key); err != nil || ok {
		return id, ok, err
	}

	src, err := r.client.Get(ctx, config.Production, fmt.Sprintf(warehousesPath+"/%d", prodID), r.prodToken, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to fetch Production warehouse %d: %w", prodID, err)
	}

	name := src.String("name", "displayName")
	if name == "" {
		name = fmt.Sprintf("Warehouse %d", prodID)
	}

	if id, ok := r.FindWarehouseByName(ctx, name); ok {
		if err := r.store.Put(crosswalk.KindWarehouses, key, strconv.FormatInt(id, 10)); err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	payload := models.WarehouseCreate{
		Name:           name,
		Active:         src.Bool("active", true),
		ExternalNumber: externalNumber(src, prodID),
	}
	if addr := src.Child("address"); addr != nil {
		ea := entityAddress(addr)
		payload.Address = &ea
	}

	if r.dryRun {
		r.logger.Info("DRY RUN - Would create warehouse", zap.Any("payload", payload))
		return 0, false, nil
	}

	created, err := r.client.Post(ctx, config.Integration, warehousesPath, r.intToken, payload, true)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create Integration warehouse for %d: %w", prodID, err)
	}
	newID, ok := created.Int64("id", "warehouseId")
	if !ok {
		return 0, false, fmt.Errorf("create warehouse for %d returned no id", prodID)
	}
	if err := r.store.Put(crosswalk.KindWarehouses, key, strconv.FormatInt(newID, 10)); err != nil {
		return 0, false, err
	}
	r.warehouseNames[normalizeKey(name)] = newID
	return newID, true, nil
}

// fetchStrategy is one way of retrieving a pricebook item from Production.
// Strategies are tried in order until one succeeds.
type fetchStrategy struct {
	label string
	path  string
}

var materialStrategies = []fetchStrategy{
	{label: "Material", path: materialsPath},
	{label: "Equipment", path: equipmentPath},
}

// EnsureMaterial resolves a Production pricebook item id to an Integration
// material id. The Production record is looked up first as a material and
// then as equipment; when both fail, codeHint/nameHint from the referencing
// purchase order line synthesize the payload.
func (r *Resolver) EnsureMaterial(ctx context.Context, prodID int64, codeHint, nameHint string) (intID int64, resolved bool, err error) {
	key := strconv.FormatInt(prodID, 10)
	if id, ok, err := r.mapped(crosswalk.KindItems, key); err != nil || ok {
		return id, ok, err
	}

	item, err := r.fetchSourceItem(ctx, prodID, codeHint, nameHint)
	if err != nil {
		return 0, false, err
	}

	if id, ok := r.findMaterialByCode(ctx, item.Code); ok {
		if err := r.store.Put(crosswalk.KindItems, key, strconv.FormatInt(id, 10)); err != nil {
			return 0, false, err
		}
		return id, true, nil
	}

	if r.dryRun {
		r.logger.Info("DRY RUN - Would create material", zap.Any("payload", item))
		return 0, false, nil
	}

	created, err := r.client.Post(ctx, config.Integration, materialsPath, r.intToken, item, true)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		// Code collision in Integration: disambiguate once and retry,
		// without the wrapper shim.
		alt := item
		alt.Code = fmt.Sprintf("%s - PROD-%d", item.Code, prodID)
		r.logger.Warn("Material code not unique, retrying with disambiguated code",
			zap.String("code", alt.Code))
		created, err = r.client.Post(ctx, config.Integration, materialsPath, r.intToken, alt, false)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to create Integration material for %d: %w", prodID, err)
	}

	newID, ok := created.Int64("id")
	if !ok {
		return 0, false, fmt.Errorf("create material for %d returned no id", prodID)
	}
	if err := r.store.Put(crosswalk.KindItems, key, strconv.FormatInt(newID, 10)); err != nil {
		return 0, false, err
	}
	r.materialCodes[normalizeKey(item.Code)] = newID
	return newID, true, nil
}

func (r *Resolver) fetchSourceItem(ctx context.Context, prodID int64, codeHint, nameHint string) (models.ItemCreate, error) {
	for _, st := range materialStrategies {
		src, err := r.client.Get(ctx, config.Production, fmt.Sprintf(st.path+"/%d", prodID), r.prodToken, nil)
		if err != nil {
			r.logger.Debug("Source item fetch failed",
				zap.String("strategy", st.label),
				zap.Int64("prod_id", prodID),
				zap.Error(err))
			continue
		}
		fallback := fmt.Sprintf("%s %d", st.label, prodID)
		return models.ItemCreate{
			Code:        firstNonEmpty(src.String("code", "itemCode"), fmt.Sprintf("PROD-%d", prodID)),
			Name:        firstNonEmpty(src.String("name", "description"), fallback),
			Description: firstNonEmpty(src.String("description", "name"), fallback),
			Active:      src.Bool("active", true),
		}, nil
	}

	if codeHint == "" && nameHint == "" {
		return models.ItemCreate{}, fmt.Errorf("source item %d not found as material or equipment and no line hints available", prodID)
	}

	// Synthesize from the referencing PO line.
	return models.ItemCreate{
		Code:        firstNonEmpty(codeHint, fmt.Sprintf("PROD-%d", prodID)),
		Name:        firstNonEmpty(nameHint, fmt.Sprintf("Material %d", prodID)),
		Description: firstNonEmpty(nameHint, codeHint, fmt.Sprintf("Material %d", prodID)),
		Active:      true,
	}, nil
}

// BusinessUnit resolves the Integration business unit for a source record,
// best-effort. It never fails the record: when nothing matches and no
// default is configured, the purchase order goes out without one.
func (r *Resolver) BusinessUnit(ctx context.Context, src record.Record) (int64, bool) {
	name := ""
	if bu := src.Child("businessUnit"); bu != nil {
		name = bu.String("name")
	}

	if name == "" {
		buID, okID := src.Int64("businessUnitId")
		if !okID {
			if bu := src.Child("businessUnit"); bu != nil {
				buID, okID = bu.Int64("id")
			}
		}
		if okID {
			name = r.prodBusinessUnitName(ctx, buID)
		}
	}

	if name != "" {
		if id, ok := r.findBusinessUnitByName(ctx, name); ok {
			return id, true
		}
	}

	if r.settings.DefaultBusinessUnitID > 0 {
		return r.settings.DefaultBusinessUnitID, true
	}
	return 0, false
}

func (r *Resolver) prodBusinessUnitName(ctx context.Context, buID int64) string {
	for _, path := range businessUnitPaths {
		d, err := r.client.Get(ctx, config.Production, fmt.Sprintf(path+"/%d", buID), r.prodToken, nil)
		if err != nil {
			continue
		}
		name := d.String("name")
		if name == "" {
			if bu := d.Child("businessUnit"); bu != nil {
				name = bu.String("name")
			}
		}
		if name != "" {
			return name
		}
	}
	return ""
}

func (r *Resolver) findBusinessUnitByName(ctx context.Context, name string) (int64, bool) {
	want := normalizeKey(name)
	if want == "" {
		return 0, false
	}
	for _, path := range businessUnitPaths {
		d, err := r.client.Get(ctx, config.Integration, path, r.intToken, map[string]string{
			"page":     "1",
			"pageSize": "200",
		})
		if err != nil {
			continue
		}
		for _, bu := range listRecords(d) {
			if normalizeKey(bu.String("name")) == want {
				if id, ok := bu.Int64("id"); ok {
					return id, true
				}
			}
		}
	}
	return 0, false
}

// PurchaseOrderTypeID returns the Integration purchase order type used for
// all POs created this run. The first type whose name contains a configured
// keyword wins; otherwise the first listed type. The result is cached for
// the run.
func (r *Resolver) PurchaseOrderTypeID(ctx context.Context) (int64, error) {
	if r.poTypeResolved {
		return r.poTypeID, nil
	}

	d, err := r.client.Get(ctx, config.Integration, poTypesPath, r.intToken, map[string]string{
		"page":     "1",
		"pageSize": "200",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list Integration purchase order types: %w", err)
	}

	kinds := listRecords(d)
	if len(kinds) == 0 {
		return 0, fmt.Errorf("no purchase order types defined in Integration")
	}

	chosen := kinds[0]
matching:
	for _, k := range kinds {
		nm := strings.ToLower(k.String("name"))
		for _, kw := range r.settings.POTypeKeywords {
			if strings.Contains(nm, kw) {
				chosen = k
				break matching
			}
		}
	}

	id, ok := chosen.Int64("id")
	if !ok {
		return 0, fmt.Errorf("purchase order type has no id")
	}
	r.poTypeID = id
	r.poTypeResolved = true
	return id, nil
}

// FindWarehouseByName scans Integration warehouses for a case-insensitive
// exact name match. A scan failure is treated as no match.
func (r *Resolver) FindWarehouseByName(ctx context.Context, name string) (int64, bool) {
	want := normalizeKey(name)
	if want == "" {
		return 0, false
	}
	if id, ok := r.warehouseNames[want]; ok {
		return id, true
	}

	stream := r.client.Stream(ctx, config.Integration, warehouseList(), r.intToken, "")
	for stream.Next() {
		wh := stream.Record()
		key := normalizeKey(wh.String("name", "displayName"))
		if id, ok := wh.Int64("id"); ok && key != "" {
			r.warehouseNames[key] = id
			if key == want {
				return id, true
			}
		}
	}
	if err := stream.Err(); err != nil {
		r.logger.Warn("Warehouse scan failed, treating as no match", zap.Error(err))
	}
	return 0, false
}

// WarehouseInfo returns the Integration warehouse record for id via a list
// scan, or an empty record when not found.
func (r *Resolver) WarehouseInfo(ctx context.Context, intID int64) record.Record {
	stream := r.client.Stream(ctx, config.Integration, warehouseList(), r.intToken, "")
	for stream.Next() {
		wh := stream.Record()
		if id, ok := wh.Int64("id"); ok && id == intID {
			return wh
		}
	}
	if err := stream.Err(); err != nil {
		r.logger.Warn("Warehouse scan failed", zap.Int64("warehouse_id", intID), zap.Error(err))
	}
	return record.Record{}
}

func (r *Resolver) findVendorByName(ctx context.Context, name string) (int64, bool) {
	want := normalizeKey(name)
	if want == "" {
		return 0, false
	}
	if id, ok := r.vendorNames[want]; ok {
		return id, true
	}

	stream := r.client.Stream(ctx, config.Integration, httpclient.ListConfig{
		Path:        vendorsPath,
		Params:      map[string]string{"page": "1", "pageSize": "200"},
		DataKey:     "data",
		NextPageKey: "hasMore",
	}, r.intToken, "")
	for stream.Next() {
		ven := stream.Record()
		key := normalizeKey(ven.String("name", "displayName", "legalName"))
		if id, ok := ven.Int64("id"); ok && key != "" {
			r.vendorNames[key] = id
			if key == want {
				return id, true
			}
		}
	}
	if err := stream.Err(); err != nil {
		r.logger.Warn("Vendor scan failed, treating as no match", zap.Error(err))
	}
	return 0, false
}

func (r *Resolver) findMaterialByCode(ctx context.Context, code string) (int64, bool) {
	want := normalizeKey(code)
	if want == "" {
		return 0, false
	}
	if id, ok := r.materialCodes[want]; ok {
		return id, true
	}

	stream := r.client.Stream(ctx, config.Integration, httpclient.ListConfig{
		Path:        materialsPath,
		Params:      map[string]string{"page": "1", "pageSize": "200"},
		DataKey:     "data",
		NextPageKey: "hasMore",
	}, r.intToken, "")
	for stream.Next() {
		m := stream.Record()
		key := normalizeKey(m.String("code", "itemCode"))
		if id, ok := m.Int64("id"); ok && key != "" {
			r.materialCodes[key] = id
			if key == want {
				return id, true
			}
		}
	}
	if err := stream.Err(); err != nil {
		r.logger.Warn("Material scan failed, treating as no match", zap.Error(err))
	}
	return 0, false
}

func (r *Resolver) mapped(kind crosswalk.Kind, key string) (int64, bool, error) {
	existing, ok, err := r.store.Get(kind, key)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	id, perr := strconv.ParseInt(existing, 10, 64)
	if perr != nil {
		return 0, false, fmt.Errorf("crosswalk entry %s/%s has non-numeric id %q", kind, key, existing)
	}
	return id, true, nil
}

func warehouseList() httpclient.ListConfig {
	return httpclient.ListConfig{
		Path:        warehousesPath,
		Params:      map[string]string{"page": "1", "pageSize": "200"},
		DataKey:     "data",
		NextPageKey: "hasMore",
	}
}

// listRecords reads the records of a single list response, accepting both
// "data" and "items" envelopes.
func listRecords(d record.Record) []record.Record {
	if recs := d.List("data"); recs != nil {
		return recs
	}
	return d.List("items")
}

func entityAddress(addr record.Record) models.EntityAddress {
	if addr == nil {
		return models.EntityAddress{Country: "US"}
	}
	return models.EntityAddress{
		AddressLine1: addr.String("addressLine1", "address1", "street"),
		AddressLine2: addr.String("addressLine2", "address2", "unit"),
		City:         addr.String("city"),
		State:        addr.String("state", "stateCode"),
		PostalCode:   addr.String("postalCode", "zip"),
		Country:      firstNonEmpty(addr.String("country"), "US"),
	}
}

func externalNumber(src record.Record, prodID int64) string {
	return firstNonEmpty(src.String("externalNumber"), fmt.Sprintf("PROD-%d", prodID))
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
