package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/uplink/internal/asid"
	"github.com/jbweber/homelab/uplink/internal/attachment"
	"github.com/jbweber/homelab/uplink/internal/seed"
	"github.com/jbweber/homelab/uplink/internal/testutil"
)

func setupTestAPI(t *testing.T) (*chi.Mux, *seed.Result) {
	t.Helper()
	ds := testutil.SetupTestDatastore(t)
	ids := testutil.SeedTopology(t, ds, testutil.Topology)
	asids, err := asid.NewAllocator("ffaa:1:1", "ffaa:1:ffff")
	require.NoError(t, err)
	svc := attachment.NewService(ds, nil, asids, attachment.Config{MaxIfacesPerRouter: 2, MaxASPerUser: 3, AllowPrivateIPs: true})

	r := chi.NewRouter()
	NewAPI(svc).RegisterRoutes(r)
	return r, ids
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestCreateUserASHandler(t *testing.T) {
	r, ids := setupTestAPI(t)

	w := do(t, r, "POST", "/api/v0/useras", CreateUserASRequest{
		Owner:            "carol",
		Label:            "home",
		InstallationType: "PKG",
		Attachments: []Attachment{
			{AttachmentPointID: ids.AttachmentPoints["2-ff00:0:211"], PublicIP: "203.0.113.5", PublicPort: 50000, Active: true},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[UserASResponse](t, w)
	assert.Equal(t, "2-ffaa:1:3", resp.IA)
	assert.Equal(t, "carol", resp.Owner)
	assert.Equal(t, "PKG", resp.InstallationType)
	assert.True(t, resp.Active)
	require.Len(t, resp.Attachments, 1)
	assert.NotNil(t, resp.Attachments[0].LinkID)

	w = do(t, r, "GET", fmt.Sprintf("/api/v0/useras/%d", resp.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[UserASResponse](t, w)
	assert.Equal(t, resp.IA, got.IA)
	assert.True(t, got.Active)
}

func TestCreateUserASHandler_Errors(t *testing.T) {
	r, ids := setupTestAPI(t)
	ap2 := ids.AttachmentPoints["1-ff00:0:112"]

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"invalid JSON", "not an object", http.StatusBadRequest},
		{"missing owner", CreateUserASRequest{InstallationType: "PKG", ISD: 1}, http.StatusBadRequest},
		{"unknown installation type", CreateUserASRequest{Owner: "erin", InstallationType: "DOCKER", ISD: 1}, http.StatusBadRequest},
		{"no ISD", CreateUserASRequest{Owner: "erin", InstallationType: "PKG"}, http.StatusUnprocessableEntity},
		{"VPN not offered", CreateUserASRequest{Owner: "erin", InstallationType: "PKG", Attachments: []Attachment{
			{AttachmentPointID: ap2, PublicPort: 50000, UseVPN: true, Active: true},
		}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, "POST", "/api/v0/useras", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestCreateUserASHandler_ValidationDetails(t *testing.T) {
	r, ids := setupTestAPI(t)

	w := do(t, r, "POST", "/api/v0/useras", CreateUserASRequest{
		Owner:            "carol",
		InstallationType: "PKG",
		Attachments: []Attachment{
			{AttachmentPointID: ids.AttachmentPoints["1-ff00:0:112"], PublicPort: 80, UseVPN: true, Active: true},
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, attachment.ErrInvalidAttachment.Error(), resp.Error)
	assert.Len(t, resp.Details, 2)
}

func TestCreateUserASHandler_QuotaExceeded(t *testing.T) {
	r, _ := setupTestAPI(t)

	for i := 0; i < 2; i++ {
		w := do(t, r, "POST", "/api/v0/useras", CreateUserASRequest{Owner: "alice", InstallationType: "VM", ISD: 1})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := do(t, r, "POST", "/api/v0/useras", CreateUserASRequest{Owner: "alice", InstallationType: "VM", ISD: 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetUserASHandler(t *testing.T) {
	r, ids := setupTestAPI(t)

	w := do(t, r, "GET", fmt.Sprintf("/api/v0/useras/%d", ids.ASes["1-ffaa:1:1"]), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[UserASResponse](t, w)
	assert.Equal(t, "1-ffaa:1:1", resp.IA)
	assert.Equal(t, "alice", resp.Owner)
	assert.Equal(t, "VM", resp.InstallationType)
	assert.False(t, resp.Active)
}

func TestGetUserASHandler_NotFound(t *testing.T) {
	r, ids := setupTestAPI(t)

	w := do(t, r, "GET", "/api/v0/useras/99999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// infrastructure ASes are not UserASes
	w = do(t, r, "GET", fmt.Sprintf("/api/v0/useras/%d", ids.ASes["1-ff00:0:110"]), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetUserASHandler_InvalidID(t *testing.T) {
	r, _ := setupTestAPI(t)

	for _, id := range []string{"invalid", "0", "-3"} {
		w := do(t, r, "GET", "/api/v0/useras/"+id, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
}

func TestUpdateUserASHandler(t *testing.T) {
	r, ids := setupTestAPI(t)
	bob := ids.ASes["1-ffaa:1:2"]

	label := "lab"
	w := do(t, r, "PATCH", fmt.Sprintf("/api/v0/useras/%d", bob), UpdateUserASRequest{Label: &label})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[UserASResponse](t, w)
	assert.Equal(t, "lab", resp.Label)
	assert.Equal(t, "PKG", resp.InstallationType)

	vm := "VM"
	w = do(t, r, "PATCH", fmt.Sprintf("/api/v0/useras/%d", bob), UpdateUserASRequest{InstallationType: &vm})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode[UserASResponse](t, w)
	assert.Equal(t, "lab", resp.Label)
	assert.Equal(t, "VM", resp.InstallationType)
}

func TestUpdateAttachmentsHandler(t *testing.T) {
	r, ids := setupTestAPI(t)
	alice := ids.ASes["1-ffaa:1:1"]
	path := fmt.Sprintf("/api/v0/useras/%d/attachments", alice)

	w := do(t, r, "PUT", path, UpdateAttachmentsRequest{Attachments: []Attachment{
		{AttachmentPointID: ids.AttachmentPoints["1-ff00:0:111"], PublicPort: 50000, UseVPN: true, Active: true},
		{AttachmentPointID: ids.AttachmentPoints["1-ff00:0:112"], PublicIP: "2001:db8::99", PublicPort: 50001, Active: false},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bound := decode[[]Attachment](t, w)
	require.Len(t, bound, 2)
	for _, a := range bound {
		require.NotNil(t, a.LinkID)
	}

	w = do(t, r, "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	current := decode[[]Attachment](t, w)
	require.Len(t, current, 2)
	assert.True(t, current[0].UseVPN)
	assert.Empty(t, current[0].PublicIP, "tunnel addresses are not reported")
	assert.Equal(t, "2001:db8::99", current[1].PublicIP)

	w = do(t, r, "GET", path+"?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]Attachment](t, w), 1)

	w = do(t, r, "GET", fmt.Sprintf("/api/v0/useras/%d/attachment-points?active=true", alice), nil)
	require.Equal(t, http.StatusOK, w.Code)
	aps := decode[[]AttachmentPointResponse](t, w)
	require.Len(t, aps, 1)
	assert.Equal(t, ids.AttachmentPoints["1-ff00:0:111"], aps[0].ID)
	assert.NotNil(t, aps[0].VPNID)

	// detach the direct link
	w = do(t, r, "PUT", path, UpdateAttachmentsRequest{Removed: []int64{*bound[1].LinkID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, "GET", path, nil)
	assert.Len(t, decode[[]Attachment](t, w), 1)
}

func TestUpdateAttachmentsHandler_Errors(t *testing.T) {
	r, ids := setupTestAPI(t)
	alice := ids.ASes["1-ffaa:1:1"]
	path := fmt.Sprintf("/api/v0/useras/%d/attachments", alice)

	w := do(t, r, "PUT", path, UpdateAttachmentsRequest{Attachments: []Attachment{
		{AttachmentPointID: ids.AttachmentPoints["1-ff00:0:111"], PublicIP: "203.0.113.5", PublicPort: 50000, Active: true},
		{AttachmentPointID: ids.AttachmentPoints["2-ff00:0:211"], PublicIP: "203.0.113.5", PublicPort: 50001, Active: true},
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "mixed ISDs")

	w = do(t, r, "PUT", path, UpdateAttachmentsRequest{Removed: []int64{99999}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, "PUT", "/api/v0/useras/99999/attachments", UpdateAttachmentsRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, "PUT", path, "garbage")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAttachmentsHandler_KeptAttachmentsValidated(t *testing.T) {
	r, ids := setupTestAPI(t)
	bob := ids.ASes["1-ffaa:1:2"]
	path := fmt.Sprintf("/api/v0/useras/%d/attachments", bob)

	w := do(t, r, "PUT", path, UpdateAttachmentsRequest{Attachments: []Attachment{
		{AttachmentPointID: ids.AttachmentPoints["1-ff00:0:111"], PublicIP: "203.0.113.5", PublicPort: 50000, Active: true},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	isd1Link := *decode[[]Attachment](t, w)[0].LinkID

	// the ISD 1 attachment is not in the request but stays active
	move := []Attachment{{AttachmentPointID: ids.AttachmentPoints["2-ff00:0:211"], PublicIP: "203.0.113.5", PublicPort: 50001, Active: true}}
	w = do(t, r, "PUT", path, UpdateAttachmentsRequest{Attachments: move})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	assert.Contains(t, decode[ErrorResponse](t, w).Details, "active attachments must all be in the same ISD")

	w = do(t, r, "PUT", path, UpdateAttachmentsRequest{Attachments: move, Removed: []int64{isd1Link}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, "GET", fmt.Sprintf("/api/v0/useras/%d", bob), nil)
	assert.Equal(t, "2-ffaa:1:2", decode[UserASResponse](t, w).IA)

	// a new attachment to an attachment point already in use
	w = do(t, r, "PUT", path, UpdateAttachmentsRequest{Attachments: move})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestSetActiveHandler(t *testing.T) {
	r, ids := setupTestAPI(t)
	bob := ids.ASes["1-ffaa:1:2"]

	w := do(t, r, "PUT", fmt.Sprintf("/api/v0/useras/%d/attachments", bob), UpdateAttachmentsRequest{Attachments: []Attachment{
		{AttachmentPointID: ids.AttachmentPoints["1-ff00:0:111"], PublicIP: "203.0.113.7", PublicPort: 50000, Active: true},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, "POST", fmt.Sprintf("/api/v0/useras/%d/deactivate", bob), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[UserASResponse](t, w).Active)

	w = do(t, r, "POST", fmt.Sprintf("/api/v0/useras/%d/activate", bob), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[UserASResponse](t, w).Active)

	w = do(t, r, "POST", "/api/v0/useras/99999/activate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteUserASHandler(t *testing.T) {
	r, ids := setupTestAPI(t)
	bob := ids.ASes["1-ffaa:1:2"]

	w := do(t, r, "DELETE", fmt.Sprintf("/api/v0/useras/%d", bob), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, "GET", fmt.Sprintf("/api/v0/useras/%d", bob), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, "DELETE", fmt.Sprintf("/api/v0/useras/%d", bob), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSplitBorderRoutersHandler(t *testing.T) {
	r, ids := setupTestAPI(t)
	ap1 := ids.AttachmentPoints["1-ff00:0:111"]

	for i, ia := range []string{"1-ffaa:1:1", "1-ffaa:1:2"} {
		w := do(t, r, "PUT", fmt.Sprintf("/api/v0/useras/%d/attachments", ids.ASes[ia]), UpdateAttachmentsRequest{Attachments: []Attachment{
			{AttachmentPointID: ap1, PublicIP: fmt.Sprintf("203.0.113.%d", 10+i), PublicPort: 50000, Active: true},
		}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := do(t, r, "POST", fmt.Sprintf("/api/v0/attachment-points/%d/split-border-routers?max_ifaces=1", ap1), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[RebalanceResponse](t, w)
	assert.Equal(t, ids.Hosts["ap1"], resp.HostID)
	assert.Len(t, resp.AttachingRouters, 2)
	assert.True(t, resp.Changed)

	// the same limit again changes nothing
	w = do(t, r, "POST", fmt.Sprintf("/api/v0/attachment-points/%d/split-border-routers?max_ifaces=1", ap1), nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[RebalanceResponse](t, w)
	assert.False(t, resp.Changed)
	assert.Empty(t, resp.Created)
}

func TestSplitBorderRoutersHandler_Errors(t *testing.T) {
	r, ids := setupTestAPI(t)
	ap1 := ids.AttachmentPoints["1-ff00:0:111"]

	w := do(t, r, "POST", fmt.Sprintf("/api/v0/attachment-points/%d/split-border-routers?max_ifaces=zero", ap1), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, "POST", fmt.Sprintf("/api/v0/attachment-points/%d/split-border-routers?max_ifaces=0", ap1), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, "POST", "/api/v0/attachment-points/99999/split-border-routers", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	r, ids := setupTestAPI(t)

	// the deactivation is counted as a reconciliation
	do(t, r, "POST", fmt.Sprintf("/api/v0/useras/%d/deactivate", ids.ASes["1-ffaa:1:1"]), nil)

	w := do(t, r, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "uplink_reconciliations_total")
}

func TestCORS(t *testing.T) {
	ds := testutil.SetupTestDatastore(t)
	testutil.SeedTopology(t, ds, testutil.Topology)
	svc := attachment.NewService(ds, nil, nil, attachment.Config{})
	r := chi.NewRouter()
	NewAPI(svc, WithCORS("https://www.scionlab.org")).RegisterRoutes(r)

	req := httptest.NewRequest("OPTIONS", "/api/v0/useras/1/attachments", nil)
	req.Header.Set("Origin", "https://www.scionlab.org")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://www.scionlab.org", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/v0/useras/1", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
