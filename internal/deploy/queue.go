// Package deploy schedules configuration deployments to hosts.
package deploy

import (
	"context"
	"strconv"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/metrics"
)

// Func deploys the current configuration to a host.
type Func func(ctx context.Context, hostID int64) error

// Queue runs deployments in the background. Every host is deployed at most once per period;
// requests arriving in between are merged into a single deployment at the end of the period.
type Queue struct {
	deploy Func
	period time.Duration
	// recent holds the hosts deployed within the last period, expiring when the period ends.
	recent *cache.Cache

	mu      sync.Mutex
	pending map[int64]bool
	delayed map[int64]*time.Timer
	ready   []int64
	notify  chan struct{}
	stopped bool
}

// NewQueue creates a queue deploying with fn.
func NewQueue(fn Func, period time.Duration) *Queue {
	return &Queue{
		deploy:  fn,
		period:  period,
		recent:  cache.New(period, 0),
		pending: make(map[int64]bool),
		delayed: make(map[int64]*time.Timer),
		notify:  make(chan struct{}, 1),
	}
}

// Schedule requests a deployment of the host. It never blocks.
func (q *Queue) Schedule(hostID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending[hostID] {
		return
	}
	q.pending[hostID] = true
	metrics.DeploymentsPending.Inc()

	if _, expires, ok := q.recent.GetWithExpiration(key(hostID)); ok {
		delay := time.Until(expires)
		logging.WithHost(hostID).Debugf("deployment rate limited, delayed by %s", delay)
		q.delayed[hostID] = time.AfterFunc(delay, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			if q.stopped {
				return
			}
			delete(q.delayed, hostID)
			q.push(hostID)
		})
		return
	}
	q.push(hostID)
}

// Pending reports whether a deployment of the host is waiting to run.
func (q *Queue) Pending(hostID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[hostID]
}

// push must be called with mu held.
func (q *Queue) push(hostID int64) {
	q.ready = append(q.ready, hostID)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ready) == 0 {
		return 0, false
	}
	hostID := q.ready[0]
	q.ready = q.ready[1:]
	// requests arriving while the deployment runs schedule another one
	delete(q.pending, hostID)
	metrics.DeploymentsPending.Dec()
	if q.period > 0 {
		q.recent.Set(key(hostID), struct{}{}, cache.DefaultExpiration)
	}
	return hostID, true
}

// Run deploys scheduled hosts until ctx is done. Delayed deployments that have not started
// yet are dropped.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = false
	q.mu.Unlock()
	defer q.stop()
	for {
		for {
			hostID, ok := q.pop()
			if !ok {
				break
			}
			q.run(ctx, hostID)
		}
		q.recent.DeleteExpired()

		select {
		case <-ctx.Done():
			return nil
		case <-q.notify:
		}
	}
}

func (q *Queue) run(ctx context.Context, hostID int64) {
	logger := logging.WithHost(hostID)
	logger.Info("deploying host configuration")
	if err := q.deploy(ctx, hostID); err != nil {
		logger.Errorf("deployment failed: %v", err)
		metrics.Deployments.WithLabelValues(metrics.ErrInternal).Inc()
		return
	}
	metrics.Deployments.WithLabelValues(metrics.OkSuccess).Inc()
}

func (q *Queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()
}

// stopLocked drops the delayed deployments. A timer that already fired finds the queue
// stopped and does nothing.
func (q *Queue) stopLocked() {
	q.stopped = true
	for hostID, t := range q.delayed {
		t.Stop()
		delete(q.delayed, hostID)
		delete(q.pending, hostID)
		metrics.DeploymentsPending.Dec()
	}
}

func key(hostID int64) string {
	return strconv.FormatInt(hostID, 10)
}
