package invitations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	expired   int
	reminders int
	err       error
}

func (c *countingSweeper) SweepExpired(ctx context.Context) (int, error) {
	c.expired++
	return 2, c.err
}

func (c *countingSweeper) SendDueReminders(ctx context.Context) (int, error) {
	c.reminders++
	return 1, c.err
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	_, err := NewScheduler(&countingSweeper{}, ScheduleConfig{ExpireSchedule: "every tuesday"}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(&countingSweeper{}, ScheduleConfig{ReminderSchedule: "61 * * * *"}, nil)
	assert.Error(t, err)
}

func TestScheduler_RegistersConfiguredJobs(t *testing.T) {
	s, err := NewScheduler(&countingSweeper{}, ScheduleConfig{
		ExpireSchedule:   DefaultExpireSchedule,
		ReminderSchedule: DefaultReminderSchedule,
	}, nil)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)

	disabled, err := NewScheduler(&countingSweeper{}, ScheduleConfig{ExpireSchedule: DefaultExpireSchedule}, nil)
	require.NoError(t, err)
	assert.Len(t, disabled.cron.Entries(), 1)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestScheduler_Run(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := NewScheduler(sweeper, ScheduleConfig{}, nil)
	require.NoError(t, err)

	s.run("expire", sweeper.SweepExpired)
	s.run("reminders", sweeper.SendDueReminders)
	assert.Equal(t, 1, sweeper.expired)
	assert.Equal(t, 1, sweeper.reminders)

	sweeper.err = errors.New("db down")
	assert.NotPanics(t, func() { s.run("expire", sweeper.SweepExpired) })

	assert.NotPanics(t, func() {
		s.run("boom", func(context.Context) (int, error) { panic("sweep exploded") })
	})
}
