// Package metrics exports the prometheus metrics of the attachment service.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LabelResult is the label carrying the outcome of an operation.
const LabelResult = "result"

// Result label values.
const (
	OkSuccess   = "ok_success"
	ErrInvalid  = "err_invalid"
	ErrConflict = "err_conflict"
	ErrInternal = "err_internal"
)

var (
	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_reconciliations_total",
			Help: "Total number of attachment reconciliations.",
		},
		[]string{"operation", LabelResult},
	)
	BorderRouterRebalances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_border_router_changes_total",
			Help: "Border routers created and deleted by rebalancing.",
		},
		[]string{"change"},
	)
	Deployments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uplink_deployments_total",
			Help: "Total number of host configuration deployments.",
		},
		[]string{LabelResult},
	)
	DeploymentsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uplink_deployments_pending",
			Help: "Hosts waiting for a configuration deployment.",
		},
	)
)

// ResultOf maps err to a result label. invalid and conflict list the sentinels counted as
// caller errors and contention respectively.
func ResultOf(err error, invalid, conflict []error) string {
	if err == nil {
		return OkSuccess
	}
	for _, target := range conflict {
		if errors.Is(err, target) {
			return ErrConflict
		}
	}
	for _, target := range invalid {
		if errors.Is(err, target) {
			return ErrInvalid
		}
	}
	return ErrInternal
}
