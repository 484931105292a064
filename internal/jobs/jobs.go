// Package jobs runs scheduled maintenance.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pentestdesk/internal/store"
)

type PurgeObserver interface {
	InvitationsPurged(n int64)
}

// InvitationPurger deletes unaccepted invitations that expired more than
// retention ago.
type InvitationPurger struct {
	Store     store.Invitations
	Retention time.Duration
	Observer  PurgeObserver
	Logger    *zap.SugaredLogger
	Now       func() time.Time
}

func (p *InvitationPurger) Run(ctx context.Context) (int64, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	n, err := p.Store.PurgeExpiredInvitations(ctx, now().Add(-p.Retention))
	if err != nil {
		p.Logger.Errorw("invitation purge failed", "err", err)
		return 0, err
	}
	if p.Observer != nil {
		p.Observer.InvitationsPurged(n)
	}
	p.Logger.Infow("expired invitations purged", "count", n)
	return n, nil
}

// Scheduler wraps a cron runner whose jobs inherit one base context.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	lg   *zap.SugaredLogger
}

// cronLogger routes the cron runner's own logging through zap.
type cronLogger struct{ lg *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.lg.Debugw("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.lg.Errorw("cron: "+msg, append(kv, "err", err)...)
}

func NewScheduler(ctx context.Context, lg *zap.SugaredLogger) *Scheduler {
	cl := cronLogger{lg: lg}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	return &Scheduler{cron: c, ctx: ctx, lg: lg}
}

// Add registers fn under a standard five-field spec or a descriptor such as @daily.
func (s *Scheduler) Add(name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.lg.Warnw("scheduled job failed", "job", name, "err", err)
			return
		}
		s.lg.Debugw("scheduled job finished", "job", name, "took", time.Since(start))
	})
	if err == nil {
		s.lg.Infow("scheduled job registered", "job", name, "schedule", spec)
	}
	return err
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
