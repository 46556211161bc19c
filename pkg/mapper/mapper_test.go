package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/natserract/stsync/pkg/config"
	"github.com/natserract/stsync/pkg/models"
	"github.com/natserract/stsync/pkg/record"
)

// fakeDeps resolves dependencies from in-memory tables.
type fakeDeps struct {
	vendors        map[int64]int64
	warehouses     map[int64]int64
	materials      map[int64]int64
	materialErr    map[int64]error
	businessUnitID int64
	poTypeID       int64
	warehouseNames map[string]int64
	defaultWH      int64
	warehouseInfo  record.Record
	dryRun         bool
}

func (f *fakeDeps) EnsureVendor(_ context.Context, prodID int64) (int64, bool, error) {
	id, ok := f.vendors[prodID]
	return id, ok, nil
}

func (f *fakeDeps) EnsureWarehouse(_ context.Context, prodID int64) (int64, bool, error) {
	id, ok := f.warehouses[prodID]
	return id, ok, nil
}

func (f *fakeDeps) EnsureMaterial(_ context.Context, prodID int64, _, _ string) (int64, bool, error) {
	if err, bad := f.materialErr[prodID]; bad {
		return 0, false, err
	}
	id, ok := f.materials[prodID]
	if !ok {
		if f.dryRun {
			return 0, false, nil
		}
		return 0, false, errors.New("material not found")
	}
	return id, true, nil
}

func (f *fakeDeps) BusinessUnit(_ context.Context, _ record.Record) (int64, bool) {
	return f.businessUnitID, f.businessUnitID > 0
}

func (f *fakeDeps) PurchaseOrderTypeID(_ context.Context) (int64, error) {
	if f.poTypeID == 0 {
		return 0, errors.New("no purchase order types")
	}
	return f.poTypeID, nil
}

func (f *fakeDeps) FindWarehouseByName(_ context.Context, name string) (int64, bool) {
	id, ok := f.warehouseNames[name]
	return id, ok
}

func (f *fakeDeps) WarehouseInfo(_ context.Context, _ int64) record.Record {
	if f.warehouseInfo == nil {
		return record.Record{}
	}
	return f.warehouseInfo
}

func (f *fakeDeps) DefaultWarehouseID() int64 { return f.defaultWH }

func newTestMapper() *Mapper {
	return New(&config.Settings{}, zap.NewNop())
}

func TestItem_AliasesAndDefaults(t *testing.T) {
	m := newTestMapper()

	item, err := m.Item(record.Record{
		"id": float64(42), "code": "A1", "name": "Widget", "active": true,
	})
	require.NoError(t, err)
	assert.Equal(t, &models.ItemCreate{
		Code: "A1", Name: "Widget", Description: "Widget", Active: true,
	}, item)
}

func TestItem_SynthesizesCodeFromID(t *testing.T) {
	m := newTestMapper()

	item, err := m.Item(record.Record{"id": float64(7), "name": "Pipe"})
	require.NoError(t, err)
	assert.Equal(t, "PROD-7", item.Code)
	assert.True(t, item.Active, "active defaults to true")
}

func TestJob_TranslatesDependencies(t *testing.T) {
	m := newTestMapper()
	mappings := map[string]string{
		"customers/10": "100",
		"locations/20": "200",
		"jobTypes/30":  "300",
	}
	xlate := func(kind, prodID string) (string, bool) {
		v, ok := mappings[kind+"/"+prodID]
		return v, ok
	}

	job, err := m.Job(record.Record{
		"id":         float64(5),
		"customerId": float64(10),
		"locationId": float64(20),
		"jobTypeId":  float64(30),
		"campaignId": float64(40),
	}, xlate)
	require.NoError(t, err)

	assert.Equal(t, int64(100), job.CustomerID)
	assert.Equal(t, int64(200), job.LocationID)
	assert.Equal(t, int64(300), job.JobTypeID)
	// Unmapped dependencies keep the Production id.
	require.NotNil(t, job.CampaignID)
	assert.Equal(t, int64(40), *job.CampaignID)
	assert.Equal(t, "PROD-5", job.ExternalNumber)
	assert.Equal(t, "stsync", job.Source)
	assert.Equal(t, "Cloned from Prod 5", job.Notes)
}

func poSource() record.Record {
	return record.Record{
		"id":        float64(9),
		"vendorId":  float64(3),
		"warehouse": map[string]any{"id": float64(4), "name": "Main"},
		"createdOn": "2025-08-01T00:00:00Z",
		"items": []any{
			map[string]any{"itemId": float64(7), "quantity": float64(3), "unitCost": 10.5},
			map[string]any{"itemId": float64(8), "quantity": float64(1)},
		},
	}
}

func poDeps() *fakeDeps {
	return &fakeDeps{
		vendors:    map[int64]int64{3: 30},
		warehouses: map[int64]int64{4: 40},
		materials:  map[int64]int64{7: 70, 8: 80},
		poTypeID:   2,
		warehouseInfo: record.Record{
			"name": "Main",
			"address": map[string]any{
				"street": "1 Main St", "city": "Austin", "state": "TX", "zip": "78701",
			},
		},
	}
}

func TestPurchaseOrder_FullMapping(t *testing.T) {
	m := newTestMapper()

	po, err := m.PurchaseOrder(context.Background(), poSource(), poDeps())
	require.NoError(t, err)

	assert.Equal(t, int64(30), po.VendorID)
	assert.Equal(t, int64(40), po.InventoryLocationID)
	assert.Equal(t, int64(2), po.TypeID)
	assert.Equal(t, "PROD-9", po.ExternalNumber)
	assert.Equal(t, "2025-08-01T00:00:00Z", po.Date)

	require.Len(t, po.Items, 2)
	assert.Equal(t, int64(70), po.Items[0].ItemID)
	assert.Equal(t, int64(70), po.Items[0].SKUID)
	assert.Equal(t, float64(3), po.Items[0].Quantity)
	require.NotNil(t, po.Items[0].UnitCost)
	assert.Equal(t, 10.5, *po.Items[0].UnitCost)
	assert.Nil(t, po.Items[1].UnitCost)

	assert.Equal(t, int64(40), po.ShipTo.InventoryLocationID)
	assert.Equal(t, "Main", po.ShipTo.Description)
	assert.Equal(t, "1 Main St", po.ShipTo.Address.Street)
	assert.Equal(t, "US", po.ShipTo.Address.Country)
}

func TestPurchaseOrder_DropsFailingLineWhenOthersRemain(t *testing.T) {
	m := newTestMapper()
	deps := poDeps()
	deps.materialErr = map[int64]error{7: errors.New("source fetch failed")}

	po, err := m.PurchaseOrder(context.Background(), poSource(), deps)
	require.NoError(t, err)
	require.Len(t, po.Items, 1)
	assert.Equal(t, int64(80), po.Items[0].ItemID)
}

func TestPurchaseOrder_FailsWithNoValidLines(t *testing.T) {
	m := newTestMapper()
	deps := poDeps()
	deps.materialErr = map[int64]error{
		7: errors.New("source fetch failed"),
		8: errors.New("source fetch failed"),
	}

	_, err := m.PurchaseOrder(context.Background(), poSource(), deps)
	require.Error(t, err)

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "no valid lines")
}

func TestPurchaseOrder_DryRunKeepsUnresolvedLines(t *testing.T) {
	m := newTestMapper()
	deps := poDeps()
	deps.materials = nil
	deps.dryRun = true

	po, err := m.PurchaseOrder(context.Background(), poSource(), deps)
	require.NoError(t, err)
	require.Len(t, po.Items, 2)
	assert.Zero(t, po.Items[0].ItemID)
	assert.Zero(t, po.Items[0].SKUID)

	raw, merr := json.Marshal(po)
	require.NoError(t, merr)
	assert.NotContains(t, string(raw), "itemId")
	assert.NotContains(t, string(raw), "skuId")
}

func TestPurchaseOrder_BusinessUnitAbsent(t *testing.T) {
	m := newTestMapper()

	po, err := m.PurchaseOrder(context.Background(), poSource(), poDeps())
	require.NoError(t, err)
	assert.Nil(t, po.BusinessUnitID)

	raw, merr := json.Marshal(po)
	require.NoError(t, merr)
	assert.NotContains(t, string(raw), "businessUnitId")
}

func TestPurchaseOrder_BusinessUnitKeptWhenResolved(t *testing.T) {
	m := newTestMapper()
	deps := poDeps()
	deps.businessUnitID = 55

	po, err := m.PurchaseOrder(context.Background(), poSource(), deps)
	require.NoError(t, err)
	require.NotNil(t, po.BusinessUnitID)
	assert.Equal(t, int64(55), *po.BusinessUnitID)
}

func TestPurchaseOrder_WarehouseFallbacks(t *testing.T) {
	m := newTestMapper()

	// Unmapped warehouse id, but the name matches an Integration warehouse.
	deps := poDeps()
	deps.warehouses = map[int64]int64{}
	deps.warehouseNames = map[string]int64{"Main": 41}

	po, err := m.PurchaseOrder(context.Background(), poSource(), deps)
	require.NoError(t, err)
	assert.Equal(t, int64(41), po.InventoryLocationID)

	// No id, no name match: configured default.
	deps = poDeps()
	deps.warehouses = map[int64]int64{}
	deps.defaultWH = 99

	po, err = m.PurchaseOrder(context.Background(), poSource(), deps)
	require.NoError(t, err)
	assert.Equal(t, int64(99), po.InventoryLocationID)

	// Nothing resolves: the record fails.
	deps = poDeps()
	deps.warehouses = map[int64]int64{}

	_, err = m.PurchaseOrder(context.Background(), poSource(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse")
}

func TestPurchaseOrder_ShipToOverride(t *testing.T) {
	m := New(&config.Settings{
		ShipTo: config.ShipTo{Street: "9 Override Ave", City: "Dallas"},
	}, zap.NewNop())

	po, err := m.PurchaseOrder(context.Background(), poSource(), poDeps())
	require.NoError(t, err)
	assert.Equal(t, "9 Override Ave", po.ShipTo.Address.Street)
	assert.Equal(t, "Dallas", po.ShipTo.Address.City)
	// Fields without an override keep the warehouse address value.
	assert.Equal(t, "TX", po.ShipTo.Address.State)
}

func TestPurchaseOrder_SkipsLinesWithoutItemID(t *testing.T) {
	m := newTestMapper()
	src := poSource()
	src["items"] = []any{
		map[string]any{"quantity": float64(2)},
		map[string]any{"itemId": float64(7), "quantity": float64(1)},
	}

	po, err := m.PurchaseOrder(context.Background(), src, poDeps())
	require.NoError(t, err)
	require.Len(t, po.Items, 1)
	assert.Equal(t, int64(70), po.Items[0].ItemID)
}
