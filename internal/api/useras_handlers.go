package api

import (
	"encoding/json"
	"net/http"

	"github.com/scionproto/scion/pkg/addr"

	"github.com/jbweber/homelab/uplink/internal/attachment"
	"github.com/jbweber/homelab/uplink/internal/domain"
)

// UserASes groups UserAS handlers for testability
type UserASes struct {
	svc AttachmentService
}

func NewUserASes(svc AttachmentService) *UserASes {
	return &UserASes{svc: svc}
}

// Attachment is the JSON form of an AttachmentConf
type Attachment struct {
	AttachmentPointID int64  `json:"attachment_point_id"`
	LinkID            *int64 `json:"link_id,omitempty"` // Set for existing attachments
	PublicIP          string `json:"public_ip,omitempty"`
	PublicPort        int    `json:"public_port"`
	BindIP            string `json:"bind_ip,omitempty"`
	BindPort          int    `json:"bind_port,omitempty"`
	UseVPN            bool   `json:"use_vpn"`
	Active            bool   `json:"active"`
}

type CreateUserASRequest struct {
	Owner            string       `json:"owner"`
	Label            string       `json:"label"`
	InstallationType string       `json:"installation_type"`
	ISD              uint16       `json:"isd,omitempty"` // Optional: derived from the active attachments
	Attachments      []Attachment `json:"attachments"`
}

type UpdateUserASRequest struct {
	Label            *string `json:"label,omitempty"`
	InstallationType *string `json:"installation_type,omitempty"`
}

type UpdateAttachmentsRequest struct {
	Attachments []Attachment `json:"attachments"`
	Removed     []int64      `json:"removed,omitempty"` // Link IDs to detach
}

type UserASResponse struct {
	ID               int64        `json:"id"`
	IA               string       `json:"ia"`
	Owner            string       `json:"owner"`
	Label            string       `json:"label"`
	InstallationType string       `json:"installation_type"`
	Active           bool         `json:"active"`
	Attachments      []Attachment `json:"attachments,omitempty"`
}

type AttachmentPointResponse struct {
	ID    int64  `json:"id"`
	ASID  int64  `json:"as_id"`
	VPNID *int64 `json:"vpn_id,omitempty"`
}

func toConfs(attachments []Attachment) []domain.AttachmentConf {
	confs := make([]domain.AttachmentConf, len(attachments))
	for i, a := range attachments {
		confs[i] = domain.AttachmentConf{
			AttachmentPointID: a.AttachmentPointID,
			PublicIP:          a.PublicIP,
			PublicPort:        a.PublicPort,
			BindIP:            a.BindIP,
			BindPort:          a.BindPort,
			UseVPN:            a.UseVPN,
			Active:            a.Active,
			Link:              domain.Pending{},
		}
		if a.LinkID != nil {
			confs[i].Link = domain.Bound{LinkID: *a.LinkID}
		}
	}
	return confs
}

func fromConfs(confs []domain.AttachmentConf) []Attachment {
	attachments := make([]Attachment, len(confs))
	for i, c := range confs {
		attachments[i] = Attachment{
			AttachmentPointID: c.AttachmentPointID,
			PublicIP:          c.PublicIP,
			PublicPort:        c.PublicPort,
			BindIP:            c.BindIP,
			BindPort:          c.BindPort,
			UseVPN:            c.UseVPN,
			Active:            c.Active,
		}
		if id, ok := c.LinkID(); ok {
			attachments[i].LinkID = &id
		}
	}
	return attachments
}

func toUserASResponse(u domain.UserAS, active bool) UserASResponse {
	return UserASResponse{
		ID:               u.ID,
		IA:               u.IA().String(),
		Owner:            u.Owner,
		Label:            u.Label,
		InstallationType: string(u.InstallationType),
		Active:           active,
	}
}

func (h *UserASes) CreateUserASHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateUserASRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Owner == "" {
		writeErrorMessage(w, http.StatusBadRequest, "owner is required")
		return
	}

	installation := domain.InstallationType(req.InstallationType)
	confs := toConfs(req.Attachments)
	if installation.Valid() {
		if err := h.svc.Validate(r.Context(), installation, confs); err != nil {
			writeError(w, r, err)
			return
		}
	}

	userAS, bound, err := h.svc.CreateUserAS(r.Context(), attachment.NewUserAS{
		Owner:            req.Owner,
		Label:            req.Label,
		InstallationType: installation,
		ISD:              addr.ISD(req.ISD),
	}, confs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	active := false
	for _, c := range bound {
		active = active || c.Active
	}
	resp := toUserASResponse(userAS, active)
	resp.Attachments = fromConfs(bound)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *UserASes) GetUserASHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	userAS, err := h.svc.UserAS(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := h.svc.IsActive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserASResponse(userAS, active))
}

func (h *UserASes) UpdateUserASHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req UpdateUserASRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	current, err := h.svc.UserAS(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	label, installation := current.Label, current.InstallationType
	if req.Label != nil {
		label = *req.Label
	}
	if req.InstallationType != nil {
		installation = domain.InstallationType(*req.InstallationType)
	}

	updated, err := h.svc.UpdateUserAS(r.Context(), id, label, installation)
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := h.svc.IsActive(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserASResponse(updated, active))
}

func (h *UserASes) DeleteUserASHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteUserAS(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAttachmentsHandler lists the attachments of a UserAS. With ?active=true only the
// active ones are returned.
func (h *UserASes) ListAttachmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.UserAS(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	confs, err := h.svc.CurrentAttachments(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("active") == "true" {
		active := confs[:0]
		for _, c := range confs {
			if c.Active {
				active = append(active, c)
			}
		}
		confs = active
	}
	writeJSON(w, http.StatusOK, fromConfs(confs))
}

// UpdateAttachmentsHandler replaces the attachment set of a UserAS. The request carries the
// complete desired set; existing attachments not listed stay unless their link is removed.
func (h *UserASes) UpdateAttachmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req UpdateAttachmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	userAS, err := h.svc.UserAS(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	current, err := h.svc.CurrentAttachments(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	confs := toConfs(req.Attachments)
	if err := h.svc.Validate(r.Context(), userAS.InstallationType, withKept(confs, current, req.Removed)); err != nil {
		writeError(w, r, err)
		return
	}
	bound, err := h.svc.UpdateAttachments(r.Context(), id, confs, req.Removed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromConfs(bound))
}

func (h *UserASes) ListAttachmentPointsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.UserAS(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	aps, err := h.svc.AttachmentPoints(r.Context(), id, r.URL.Query().Get("active") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]AttachmentPointResponse, len(aps))
	for i, ap := range aps {
		resp[i] = AttachmentPointResponse{ID: ap.ID, ASID: ap.ASID, VPNID: ap.VPNID}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetActiveHandler returns a handler activating or deactivating all attachments of a UserAS.
func (h *UserASes) SetActiveHandler(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r)
		if !ok {
			return
		}
		if err := h.svc.SetActive(r.Context(), id, active); err != nil {
			writeError(w, r, err)
			return
		}
		userAS, err := h.svc.UserAS(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		isActive, err := h.svc.IsActive(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserASResponse(userAS, isActive))
	}
}

// withKept appends to confs the current attachments that the request neither updates nor
// removes, giving the complete attachment set after the update.
func withKept(confs, current []domain.AttachmentConf, removed []int64) []domain.AttachmentConf {
	touched := make(map[int64]bool)
	for _, c := range confs {
		if linkID, ok := c.LinkID(); ok {
			touched[linkID] = true
		}
	}
	for _, linkID := range removed {
		touched[linkID] = true
	}
	all := append([]domain.AttachmentConf(nil), confs...)
	for _, c := range current {
		if linkID, ok := c.LinkID(); ok && !touched[linkID] {
			all = append(all, c)
		}
	}
	return all
}
