package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/clinicops/internal/billing/model"
)

func newStaffRequest(t *testing.T, tenantID string, n int) *http.Request {
	t.Helper()
	req := jsonRequest(t, http.MethodPost, "/api/tenants/"+tenantID+"/staff", map[string]string{
		"name": fmt.Sprintf("Staff %d", n), "email": fmt.Sprintf("staff%d@clinic.test", n),
	})
	req.SetPathValue("id", tenantID)
	return req
}

func TestCreateStaffEnforcesPlanLimit(t *testing.T) {
	f := setup(t)
	tenant := f.trialTenant(t)

	for i := range 3 {
		rec := httptest.NewRecorder()
		f.resource.CreateStaff(rec, newStaffRequest(t, tenant.ID, i))
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "professional", decodeBody(t, rec)["role"])
	}

	rec := httptest.NewRecorder()
	f.resource.CreateStaff(rec, newStaffRequest(t, tenant.ID, 4))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "staff", body["kind"])
	assert.Equal(t, float64(3), body["used"])
	assert.Equal(t, float64(3), body["limit"])

	n, err := f.resources.CountActive(context.Background(), tenant.ID, model.ResourceStaff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDeactivateFreesQuota(t *testing.T) {
	f := setup(t)
	tenant := f.trialTenant(t)

	var lastID string
	for i := range 3 {
		rec := httptest.NewRecorder()
		f.resource.CreateStaff(rec, newStaffRequest(t, tenant.ID, i))
		require.Equal(t, http.StatusCreated, rec.Code)
		lastID = decodeBody(t, rec)["id"].(string)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/"+tenant.ID+"/staff/"+lastID, nil)
	req.SetPathValue("id", tenant.ID)
	req.SetPathValue("resourceID", lastID)
	rec := httptest.NewRecorder()
	f.resource.DeactivateStaff(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	f.resource.CreateStaff(rec, newStaffRequest(t, tenant.ID, 9))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDeactivateUnknownResource(t *testing.T) {
	f := setup(t)
	tenant := f.trialTenant(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/tenants/"+tenant.ID+"/patients/missing", nil)
	req.SetPathValue("id", tenant.ID)
	req.SetPathValue("resourceID", "missing")
	rec := httptest.NewRecorder()
	f.resource.DeactivatePatient(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePatientCancelledTenantIsReadOnly(t *testing.T) {
	f := setup(t)
	tenant := f.trialTenant(t)
	require.NoError(t, f.tenants.ApplyLifecycle(context.Background(), tenant.ID, model.Cancelled{}, tenant.PlanID))

	req := jsonRequest(t, http.MethodPost, "/api/tenants/"+tenant.ID+"/patients", map[string]string{"name": "Grace"})
	req.SetPathValue("id", tenant.ID)
	rec := httptest.NewRecorder()
	f.resource.CreatePatient(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreatePatient(t *testing.T) {
	f := setup(t)
	tenant := f.trialTenant(t)

	req := jsonRequest(t, http.MethodPost, "/api/tenants/"+tenant.ID+"/patients", map[string]string{"name": "Grace"})
	req.SetPathValue("id", tenant.ID)
	rec := httptest.NewRecorder()
	f.resource.CreatePatient(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, tenant.ID, body["tenant_id"])
	assert.Equal(t, true, body["active"])
}

func TestCreateStaffRejectsUnknownRole(t *testing.T) {
	f := setup(t)
	tenant := f.trialTenant(t)

	req := jsonRequest(t, http.MethodPost, "/api/tenants/"+tenant.ID+"/staff", map[string]string{
		"name": "Sam", "email": "sam@clinic.test", "role": "owner",
	})
	req.SetPathValue("id", tenant.ID)
	rec := httptest.NewRecorder()
	f.resource.CreateStaff(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
