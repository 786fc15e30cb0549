package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule binds an active workflow to a cron expression with a precomputed
// next execution time, so a central poller can query due schedules without
// keeping per-workflow timers. Rows are owned by workflow activate and
// deactivate, never by the engine.
type Schedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// WorkflowID identifies the workflow this schedule triggers
	WorkflowID string `json:"workflow_id" validate:"required"`

	// CronExpression uses standard 5-field cron format
	// (minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	// Timezone is an IANA zone name; empty means UTC
	Timezone string `json:"timezone,omitempty"`

	// NextDueAt is the precomputed next execution time
	NextDueAt time.Time `json:"next_due_at" validate:"required"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active indicates whether the poller should process this schedule
	Active bool `json:"active"`
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// NewSchedule creates a Schedule with the first execution time calculated.
func NewSchedule(id, workflowID, cronExpression, timezone string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: cronExpression,
		Timezone:       timezone,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.calculateNextDueAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// UpdateNextDueAt advances the next execution time from the current time.
func (s *Schedule) UpdateNextDueAt() error {
	return s.calculateNextDueAt(time.Now().UTC())
}

func (s *Schedule) calculateNextDueAt(referenceTime time.Time) error {
	cronSchedule, err := cron.ParseStandard(s.CronExpression)
	if err != nil {
		return err
	}

	loc := time.UTC

	if s.Timezone != "" {
		loc, err = time.LoadLocation(s.Timezone)
		if err != nil {
			return err
		}
	}

	s.NextDueAt = cronSchedule.Next(referenceTime.In(loc)).UTC()
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// IsDue checks if this schedule is due for execution at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate performs validation on the schedule fields.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.WorkflowID == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	if _, err := cron.ParseStandard(s.CronExpression); err != nil {
		return err
	}

	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return err
		}
	}

	return nil
}
