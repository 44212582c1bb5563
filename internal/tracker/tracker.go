package tracker

import (
	"math"
	"time"
	"unicode/utf8"
)

// StepEntry records one step description in the order it was reported.
type StepEntry struct {
	StepNumber  int       `json:"step_number"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// LogEntry is one message in the logs, errors, or warnings log.
type LogEntry struct {
	Message   string    `json:"message"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker is the progress record of a single long-running operation.
type Tracker struct {
	ID                  string         `json:"id"`
	Operation           string         `json:"operation"`
	Description         string         `json:"description"`
	TotalSteps          int            `json:"total_steps"`
	CurrentStep         int            `json:"current_step"`
	Percentage          float64        `json:"percentage"`
	Status              Status         `json:"status"`
	Category            string         `json:"category,omitempty"`
	UserID              string         `json:"user_id,omitempty"`
	Metadata            map[string]any `json:"metadata"`
	Steps               []StepEntry    `json:"steps"`
	Logs                []LogEntry     `json:"logs"`
	Errors              []LogEntry     `json:"errors"`
	Warnings            []LogEntry     `json:"warnings"`
	StartedAt           time.Time      `json:"started_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	FailedAt            *time.Time     `json:"failed_at,omitempty"`
	CancelledAt         *time.Time     `json:"cancelled_at,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	ElapsedSeconds      float64        `json:"elapsed_time"`
}

// Update carries the optional inputs of one update call. Nil fields are left
// untouched; all present fields are applied together.
type Update struct {
	CurrentStep     *int           `json:"current_step,omitempty"`
	Status          *Status        `json:"status,omitempty"`
	StepDescription *string        `json:"step_description,omitempty"`
	LogMessage      *string        `json:"log_message,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	WarningMessage  *string        `json:"warning_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func newTracker(id string, req CreateRequest, status Status, now time.Time) Tracker {
	t := Tracker{
		ID:          id,
		Operation:   req.Operation,
		Description: req.Description,
		TotalSteps:  req.TotalSteps,
		Status:      status,
		Category:    req.Category,
		UserID:      req.UserID,
		Metadata:    mergeMetadata(nil, req.Metadata),
		Steps:       []StepEntry{},
		Logs:        []LogEntry{},
		Errors:      []LogEntry{},
		Warnings:    []LogEntry{},
		StartedAt:   now,
		UpdatedAt:   now,
	}
	return t
}

// Terminal reports whether the tracker accepts no further updates.
func (t Tracker) Terminal() bool {
	return t.Status.Terminal()
}

// FinishedAt returns the terminal timestamp, if any.
func (t Tracker) FinishedAt() *time.Time {
	switch {
	case t.CompletedAt != nil:
		return t.CompletedAt
	case t.FailedAt != nil:
		return t.FailedAt
	case t.CancelledAt != nil:
		return t.CancelledAt
	default:
		return nil
	}
}

// Snapshot returns the tracker with elapsed time computed against now.
func (t Tracker) Snapshot(now time.Time) Tracker {
	t.ElapsedSeconds = roundTo2(now.Sub(t.StartedAt).Seconds())
	if t.ElapsedSeconds < 0 {
		t.ElapsedSeconds = 0
	}
	return t
}

// Apply validates u against the tracker and then mutates it. Nothing changes
// when an error is returned.
func (t *Tracker) Apply(u Update, now time.Time) error {
	if t.Terminal() {
		return ErrTerminal
	}
	if err := t.validate(u); err != nil {
		return err
	}

	if u.CurrentStep != nil {
		t.CurrentStep = clamp(*u.CurrentStep, 0, t.TotalSteps)
	}
	if u.Status != nil {
		t.Status = *u.Status
		if t.Status == StatusCompleted {
			t.CurrentStep = t.TotalSteps
		}
	}
	if u.StepDescription != nil {
		t.Steps = append(t.Steps, StepEntry{
			StepNumber:  t.CurrentStep,
			Description: *u.StepDescription,
			Timestamp:   now,
		})
	}
	if u.LogMessage != nil {
		t.Logs = append(t.Logs, LogEntry{Message: *u.LogMessage, Step: t.CurrentStep, Timestamp: now})
	}
	if u.ErrorMessage != nil {
		t.Errors = append(t.Errors, LogEntry{Message: *u.ErrorMessage, Step: t.CurrentStep, Timestamp: now})
	}
	if u.WarningMessage != nil {
		t.Warnings = append(t.Warnings, LogEntry{Message: *u.WarningMessage, Step: t.CurrentStep, Timestamp: now})
	}
	if len(u.Metadata) > 0 {
		t.Metadata = mergeMetadata(t.Metadata, u.Metadata)
	}

	t.Percentage = percentage(t.CurrentStep, t.TotalSteps)
	t.UpdatedAt = now
	switch t.Status {
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusFailed:
		t.FailedAt = &now
	case StatusCancelled:
		t.CancelledAt = &now
	}
	t.EstimatedCompletion = t.estimate(now)
	return nil
}

func (t *Tracker) validate(u Update) error {
	errs := fieldErrors{}
	if u.Status != nil {
		switch next := *u.Status; {
		case !next.valid():
			errs.add("status", "must be one of "+statusList())
		case !t.Status.canMoveTo(next):
			errs.add("status", "cannot move from "+string(t.Status)+" to "+string(next))
		}
	}
	if u.StepDescription != nil && utf8.RuneCountInString(*u.StepDescription) > maxDescriptionLen {
		errs.add("step_description", "must be at most 500 characters")
	}
	return errs.err()
}

// estimate projects the completion time from the mean time per step so far.
func (t Tracker) estimate(now time.Time) *time.Time {
	if t.Status != StatusInProgress || t.CurrentStep <= 0 {
		return nil
	}
	perStep := now.Sub(t.StartedAt) / time.Duration(t.CurrentStep)
	eta := now.Add(perStep * time.Duration(t.TotalSteps-t.CurrentStep))
	return &eta
}

func percentage(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	return roundTo2(float64(current) / float64(total) * 100)
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// mergeMetadata returns a new map holding base overlaid with patch.
func mergeMetadata(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
