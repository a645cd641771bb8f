package syncer

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"

	"github.com/gene9831/one-app-api/pkg/logger"
)

// Scheduler refreshes every signed-in drive on a cron spec, by default at
// midnight. Uploads and manual syncs keep drives current during the day;
// the nightly walk catches changes made outside this service.
type Scheduler struct {
	syncer *Syncer
	store  Store
	log    *logger.Logger
	spec   string
	cron   *cron.Cron
}

// NewScheduler creates a scheduler. spec is a standard cron expression;
// empty means daily at midnight.
func NewScheduler(s *Syncer, store Store, log *logger.Logger, spec string) *Scheduler {
	if spec == "" {
		spec = "0 0 * * *"
	}
	return &Scheduler{
		syncer: s,
		store:  store,
		log:    log,
		spec:   spec,
	}
}

// Start schedules the job. Returns an error for a malformed spec.
func (sc *Scheduler) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(sc.spec, sc.run); err != nil {
		return err
	}
	c.Start()
	sc.cron = c
	sc.log.Info("sync scheduler started with spec %q", sc.spec)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (sc *Scheduler) Stop() {
	if sc.cron == nil {
		return
	}
	<-sc.cron.Stop().Done()
}

func (sc *Scheduler) run() {
	ctx := context.Background()

	drives, err := sc.store.ListDrives(ctx)
	if err != nil {
		sc.log.WithError(err).Error("scheduled sync could not list drives")
		return
	}

	for _, drive := range drives {
		if drive.NeedsReauth {
			continue
		}
		counter, err := sc.syncer.Sync(ctx, drive.ID, false)
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				continue
			}
			sc.log.WithError(err).Error("scheduled sync failed for drive %s", drive.ID)
			continue
		}
		sc.log.Info("scheduled sync of drive %s: %s", drive.ID, counter.Detail())
	}
}
