// Package jobs runs periodic maintenance.
package jobs

import (
	"context"
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultGrace is how long dead verification codes are kept before purge.
const DefaultGrace = time.Hour

const runTimeout = time.Minute

// CodePurger deletes verification codes that died before the cutoff.
type CodePurger interface {
	PurgeDead(ctx context.Context, before time.Time) (int64, error)
}

// Cleanup removes used and expired verification codes.
type Cleanup struct {
	codes CodePurger
	log   logrus.FieldLogger
	grace time.Duration
	now   func() time.Time
}

// NewCleanup creates a Cleanup with DefaultGrace.
func NewCleanup(codes CodePurger, log logrus.FieldLogger) *Cleanup {
	return &Cleanup{codes: codes, log: log, grace: DefaultGrace, now: time.Now}
}

// Run purges once.
func (c *Cleanup) Run(ctx context.Context) error {
	cutoff := c.now().Add(-c.grace)
	n, err := c.codes.PurgeDead(ctx, cutoff)
	if err != nil {
		c.log.WithError(err).Error("Failed to purge dead verification codes")
		return err
	}
	c.log.WithField("purged", n).Info("Verification code cleanup completed")
	return nil
}

// Schedule registers c on a new cron scheduler. The caller starts and stops it.
func Schedule(spec string, c *Cleanup) (*cron.Cron, error) {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		_ = c.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("schedule cleanup %q: %w", spec, err)
	}
	return sched, nil
}
