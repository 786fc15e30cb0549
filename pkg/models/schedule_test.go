package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
)

func TestNewSchedule(t *testing.T) {
	schedule, err := models.NewSchedule("sched-1", "wf-1", "0 2 * * *", "")
	require.NoError(t, err)

	assert.True(t, schedule.Active)
	assert.True(t, schedule.NextDueAt.After(time.Now().UTC()))
	assert.Equal(t, 2, schedule.NextDueAt.Hour())
	assert.Equal(t, 0, schedule.NextDueAt.Minute())
}

func TestNewSchedule_InvalidCron(t *testing.T) {
	_, err := models.NewSchedule("sched-1", "wf-1", "not a cron", "")
	assert.Error(t, err)
}

func TestNewSchedule_InvalidTimezone(t *testing.T) {
	_, err := models.NewSchedule("sched-1", "wf-1", "0 2 * * *", "Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestUpdateNextDueAt_Advances(t *testing.T) {
	schedule, err := models.NewSchedule("sched-1", "wf-1", "* * * * *", "")
	require.NoError(t, err)

	schedule.NextDueAt = time.Now().UTC().Add(-time.Hour)

	require.NoError(t, schedule.UpdateNextDueAt())
	assert.True(t, schedule.NextDueAt.After(time.Now().UTC()))
}

func TestIsDue(t *testing.T) {
	schedule, err := models.NewSchedule("sched-1", "wf-1", "* * * * *", "")
	require.NoError(t, err)

	now := time.Now().UTC()

	schedule.NextDueAt = now.Add(-time.Second)
	assert.True(t, schedule.IsDue(now))

	schedule.NextDueAt = now.Add(time.Minute)
	assert.False(t, schedule.IsDue(now))

	schedule.NextDueAt = now.Add(-time.Second)
	schedule.Active = false
	assert.False(t, schedule.IsDue(now))
}

func TestScheduleValidate(t *testing.T) {
	schedule, err := models.NewSchedule("sched-1", "wf-1", "0 2 * * *", "")
	require.NoError(t, err)
	assert.NoError(t, schedule.Validate())

	schedule.CronExpression = ""
	assert.ErrorIs(t, schedule.Validate(), models.ErrInvalidSchedule)
}
