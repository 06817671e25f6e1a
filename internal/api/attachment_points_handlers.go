package api

import (
	"net/http"
	"strconv"
)

// AttachmentPoints groups attachment point handlers
type AttachmentPoints struct {
	svc AttachmentService
}

func NewAttachmentPoints(svc AttachmentService) *AttachmentPoints {
	return &AttachmentPoints{svc: svc}
}

type RebalanceResponse struct {
	HostID           int64   `json:"host_id"`
	InfraRouter      int64   `json:"infra_router"`
	AttachingRouters []int64 `json:"attaching_routers"`
	Created          []int64 `json:"created"`
	Deleted          []int64 `json:"deleted"`
	Moved            int     `json:"moved"`
	Changed          bool    `json:"changed"`
}

// SplitBorderRoutersHandler rebalances the border routers of an attachment point. The
// optional max_ifaces query parameter overrides the configured limit.
func (h *AttachmentPoints) SplitBorderRoutersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	maxIfaces := 0
	if v := r.URL.Query().Get("max_ifaces"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErrorMessage(w, http.StatusBadRequest, "max_ifaces must be a positive integer")
			return
		}
		maxIfaces = n
	}

	result, err := h.svc.SplitBorderRouters(r.Context(), id, maxIfaces)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RebalanceResponse{
		HostID:           result.HostID,
		InfraRouter:      result.InfraRouter,
		AttachingRouters: nonNil(result.AttachingRouters),
		Created:          nonNil(result.Created),
		Deleted:          nonNil(result.Deleted),
		Moved:            result.Moved,
		Changed:          result.Changed(),
	})
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
