// Package models defines the strictly-typed create payloads sent to the
// Integration environment. Source records are loosely typed; conversion and
// field aliasing happen in the mappers, and the payloads here are the only
// shapes ever posted to create endpoints.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError reports the fields that made a payload invalid. It fails
// the record, never the run.
type ValidationError struct {
	Entity string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Entity, strings.Join(parts, "; "))
}

// Address is a normalized postal address as the purchase order shipTo
// block expects it.
type Address struct {
	Street  string `json:"street"`
	Unit    string `json:"unit"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

// EntityAddress is the address shape of vendor and warehouse records.
type EntityAddress struct {
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
}

// ItemCreate is the pricebook material create payload.
type ItemCreate struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

func (i *ItemCreate) Validate() error {
	fields := map[string]string{}
	if i.Code == "" {
		fields["code"] = "required"
	}
	if i.Name == "" {
		fields["name"] = "required"
	}
	if len(fields) > 0 {
		return &ValidationError{Entity: "item", Fields: fields}
	}
	return nil
}

// POLineCreate is one purchase order line. ItemID and SKUID both carry the
// Integration material id; some tenants require one spelling, some the
// other. A zero id is never sent: dry-run payloads carry lines whose
// material was not resolved, and those marshal without the id fields.
type POLineCreate struct {
	ItemID           int64    `json:"itemId,omitempty"`
	SKUID            int64    `json:"skuId,omitempty"`
	Quantity         float64  `json:"quantity"`
	QuantityOrdered  float64  `json:"quantityOrdered"`
	UnitCost         *float64 `json:"unitCost,omitempty"`
	Cost             *float64 `json:"cost,omitempty"`
	Description      string   `json:"description,omitempty"`
	VendorPartNumber string   `json:"vendorPartNumber,omitempty"`
}

func (l *POLineCreate) Validate() error {
	fields := map[string]string{}
	if l.ItemID <= 0 {
		fields["itemId"] = "required"
	}
	if l.Quantity < 0 {
		fields["quantity"] = "must not be negative"
	}
	if len(fields) > 0 {
		return &ValidationError{Entity: "purchase order line", Fields: fields}
	}
	return nil
}

// POShipTo is the destination block of a purchase order.
type POShipTo struct {
	InventoryLocationID int64   `json:"inventoryLocationId"`
	Description         string  `json:"description"`
	Address             Address `json:"address"`
}

// POCreate is the purchase order create payload. BusinessUnitID is
// optional; when nil the field is omitted entirely.
type POCreate struct {
	VendorID                 int64          `json:"vendorId"`
	Date                     string         `json:"date"`
	TypeID                   int64          `json:"typeId"`
	ExternalNumber           string         `json:"externalNumber"`
	InventoryLocationID      int64          `json:"inventoryLocationId"`
	ShipTo                   POShipTo       `json:"shipTo"`
	Tax                      float64        `json:"tax"`
	Shipping                 float64        `json:"shipping"`
	RequiredOn               string         `json:"requiredOn"`
	BusinessUnitID           *int64         `json:"businessUnitId,omitempty"`
	ImpactsTechnicianPayroll bool           `json:"impactsTechnicianPayroll"`
	Items                    []POLineCreate `json:"items"`
}

func (p *POCreate) Validate() error {
	fields := map[string]string{}
	if p.TypeID <= 0 {
		fields["typeId"] = "required"
	}
	if p.ExternalNumber == "" {
		fields["externalNumber"] = "required"
	}
	if p.InventoryLocationID <= 0 {
		fields["inventoryLocationId"] = "required"
	}
	if len(p.Items) == 0 {
		fields["items"] = "no valid lines"
	}
	if len(fields) > 0 {
		return &ValidationError{Entity: "purchase order", Fields: fields}
	}
	return nil
}

// JobCreate is the job create payload.
type JobCreate struct {
	CustomerID     int64  `json:"customerId"`
	LocationID     int64  `json:"locationId"`
	JobTypeID      int64  `json:"jobTypeId"`
	CampaignID     *int64 `json:"campaignId,omitempty"`
	Source         string `json:"source"`
	ExternalNumber string `json:"externalNumber"`
	Notes          string `json:"notes"`
}

func (j *JobCreate) Validate() error {
	fields := map[string]string{}
	if j.CustomerID <= 0 {
		fields["customerId"] = "required"
	}
	if j.LocationID <= 0 {
		fields["locationId"] = "required"
	}
	if j.JobTypeID <= 0 {
		fields["jobTypeId"] = "required"
	}
	if len(fields) > 0 {
		return &ValidationError{Entity: "job", Fields: fields}
	}
	return nil
}

// VendorCreate is the vendor create payload.
type VendorCreate struct {
	Name                     string        `json:"name"`
	ExternalNumber           string        `json:"externalNumber,omitempty"`
	Active                   bool          `json:"active"`
	TaxRate                  float64       `json:"taxRate"`
	IsTruckReplenishment     bool          `json:"isTruckReplenishment"`
	RestrictedMobileCreation bool          `json:"restrictedMobileCreation"`
	Address                  EntityAddress `json:"address"`
}

func (v *VendorCreate) Validate() error {
	if v.Name == "" {
		return &ValidationError{Entity: "vendor", Fields: map[string]string{"name": "required"}}
	}
	return nil
}

// WarehouseCreate is the warehouse create payload.
type WarehouseCreate struct {
	Name           string         `json:"name"`
	Active         bool           `json:"active"`
	ExternalNumber string         `json:"externalNumber,omitempty"`
	Address        *EntityAddress `json:"address,omitempty"`
}

func (w *WarehouseCreate) Validate() error {
	if w.Name == "" {
		return &ValidationError{Entity: "warehouse", Fields: map[string]string{"name": "required"}}
	}
	return nil
}
