package drives

import (
	"context"
	"sync"
	"time"

	"github.com/gene9831/one-app-api/pkg/logger"
)

// TokenRefresher refreshes one drive's credentials. Implemented by Manager.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context, driveID string) error
}

// Refresher keeps one timer per drive and refreshes its token every
// interval. On-demand refresh in Token covers normal operation; the timer
// keeps rarely-used drives alive, since refresh tokens themselves expire
// when unused for too long.
type Refresher struct {
	refresher TokenRefresher
	interval  time.Duration
	log       *logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewRefresher creates a refresher ticking every interval.
func NewRefresher(refresher TokenRefresher, interval time.Duration, log *logger.Logger) *Refresher {
	return &Refresher{
		refresher: refresher,
		interval:  interval,
		log:       log,
		timers:    make(map[string]*time.Timer),
	}
}

// Watch arms the timer for a drive. Idempotent.
func (r *Refresher) Watch(driveID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.timers[driveID]; ok {
		return
	}
	r.timers[driveID] = time.AfterFunc(r.interval, func() { r.tick(driveID) })
}

// Stop disarms the timer for a drive. Idempotent.
func (r *Refresher) Stop(driveID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(driveID)
}

// Close disarms every timer.
func (r *Refresher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for driveID := range r.timers {
		r.stopLocked(driveID)
	}
}

// Watching reports whether a timer is armed for the drive.
func (r *Refresher) Watching(driveID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[driveID]
	return ok
}

func (r *Refresher) stopLocked(driveID string) {
	if timer, ok := r.timers[driveID]; ok {
		timer.Stop()
		delete(r.timers, driveID)
	}
}

// tick refreshes and re-arms. A failed refresh disarms the timer; the
// manager has already flagged the drive for re-authentication.
func (r *Refresher) tick(driveID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := r.refresher.ForceRefresh(ctx, driveID); err != nil {
		r.log.WithError(err).Error("periodic token refresh failed, drive %s needs sign-in", driveID)
		r.Stop(driveID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.timers[driveID]; !ok {
		// Stopped while refreshing.
		return
	}
	r.timers[driveID] = time.AfterFunc(r.interval, func() { r.tick(driveID) })
}
