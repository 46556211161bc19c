package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemCreate_Validate(t *testing.T) {
	item := &ItemCreate{Code: "A1", Name: "Widget"}
	require.NoError(t, item.Validate())

	item = &ItemCreate{}
	err := item.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "item", ve.Entity)
	assert.Contains(t, ve.Fields, "code")
	assert.Contains(t, ve.Fields, "name")
}

func TestPOCreate_Validate_NoValidLines(t *testing.T) {
	po := &POCreate{
		TypeID:              1,
		ExternalNumber:      "PROD-9",
		InventoryLocationID: 5,
	}

	err := po.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid lines")
}

func TestPOCreate_BusinessUnitOmittedWhenNil(t *testing.T) {
	po := &POCreate{
		VendorID:            1,
		TypeID:              2,
		ExternalNumber:      "PROD-9",
		InventoryLocationID: 5,
		Items:               []POLineCreate{{ItemID: 7, SKUID: 7, Quantity: 1}},
	}
	require.NoError(t, po.Validate())

	raw, err := json.Marshal(po)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "businessUnitId")

	bu := int64(42)
	po.BusinessUnitID = &bu
	raw, err = json.Marshal(po)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"businessUnitId":42`)
}

func TestPOLineCreate_Validate(t *testing.T) {
	line := &POLineCreate{ItemID: 7, SKUID: 7, Quantity: 3}
	require.NoError(t, line.Validate())

	line = &POLineCreate{Quantity: 3}
	assert.Error(t, line.Validate(), "a line without a material id is invalid")
}

func TestJobCreate_Validate(t *testing.T) {
	job := &JobCreate{CustomerID: 1, LocationID: 2, JobTypeID: 3}
	require.NoError(t, job.Validate())

	job = &JobCreate{CustomerID: 1}
	err := job.Validate()
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "locationId")
	assert.Contains(t, ve.Fields, "jobTypeId")
}

func TestValidationError_SortedMessage(t *testing.T) {
	err := &ValidationError{
		Entity: "job",
		Fields: map[string]string{"locationId": "required", "customerId": "required"},
	}
	assert.Equal(t, "invalid job payload: customerId: required; locationId: required", err.Error())
}
