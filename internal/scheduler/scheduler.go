package scheduler

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pressline/internal/config"
	"pressline/internal/domain"
	"pressline/internal/engine/auth"
	"pressline/internal/events"
	"pressline/internal/repo"
	"pressline/internal/stage"
)

// Scheduler owns reminder lifecycle and the periodic sweep that fires them.
type Scheduler struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
	Log    *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Scheduler {
	return Scheduler{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
		Log:    log.Default(),
	}
}

func (s Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Scheduler) logf(format string, args ...any) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}

// canAct gates snooze/complete/cancel: admin, creator or recipient.
func (s Scheduler) canAct(ctx context.Context, rm domain.Reminder, actor auth.Actor, action string) error {
	if actor.ID == rm.CreatedBy {
		return nil
	}
	for _, r := range rm.Recipients {
		if r == actor.ID {
			return nil
		}
	}
	admin, err := s.Auth.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !admin {
		return auth.ForbiddenError{Action: action}
	}
	return nil
}

// canManage gates edit/delete: admin or creator only. Recipients can act on a
// reminder but never reshape it.
func (s Scheduler) canManage(ctx context.Context, rm domain.Reminder, actor auth.Actor, action string) error {
	if actor.ID == rm.CreatedBy {
		return nil
	}
	admin, err := s.Auth.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !admin {
		return auth.ForbiddenError{Action: action}
	}
	return nil
}

// CreateOptions are parameters for a new reminder.
type CreateOptions struct {
	ProjectID    string
	Title        string
	Message      string
	TriggerMode  domain.TriggerMode
	RemindAt     string
	Repeat       domain.Repeat
	WatchStatus  stage.Status
	DelayMinutes int
	Channels     domain.Channels
	Recipients   []string
	Actor        auth.Actor
}

func validRepeat(r domain.Repeat) bool {
	switch r {
	case domain.RepeatNone, domain.RepeatDaily, domain.RepeatWeekly, domain.RepeatMonthly:
		return true
	}
	return false
}

func (s Scheduler) Create(ctx context.Context, opts CreateOptions) (domain.Reminder, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Reminder{}, domain.Errorf(domain.ErrBadInput, "title is required")
	}
	if !opts.Channels.InApp && !opts.Channels.Email {
		return domain.Reminder{}, domain.Errorf(domain.ErrBadInput, "enable at least one channel")
	}
	if opts.Repeat == "" {
		opts.Repeat = domain.RepeatNone
	}
	if !validRepeat(opts.Repeat) {
		return domain.Reminder{}, domain.Errorf(domain.ErrBadInput, "unknown repeat %q", opts.Repeat)
	}
	p, err := s.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Reminder{}, err
	}

	rm := domain.Reminder{
		ID:          uuid.New().String(),
		ProjectID:   p.ID,
		Title:       opts.Title,
		Message:     opts.Message,
		TriggerMode: opts.TriggerMode,
		Repeat:      opts.Repeat,
		Status:      domain.ReminderScheduled,
		IsActive:    true,
		Channels:    opts.Channels,
		CreatedBy:   opts.Actor.ID,
		Recipients:  opts.Recipients,
	}
	if len(rm.Recipients) == 0 {
		rm.Recipients = []string{opts.Actor.ID}
	}

	switch opts.TriggerMode {
	case domain.TriggerAbsoluteTime:
		if strings.TrimSpace(opts.RemindAt) == "" {
			return domain.Reminder{}, domain.Errorf(domain.ErrNoConcreteTrigger, "absolute_time reminders need remind_at")
		}
		// Past timestamps are accepted; they fire on the next sweep.
		t, err := time.Parse(time.RFC3339, opts.RemindAt)
		if err != nil {
			return domain.Reminder{}, domain.Errorf(domain.ErrInvalidTime, "remind_at must be RFC3339: %v", err)
		}
		at := t.UTC().Format(time.RFC3339)
		rm.RemindAt = &at
	case domain.TriggerStageBased:
		if opts.WatchStatus == "" {
			return domain.Reminder{}, domain.Errorf(domain.ErrNoConcreteTrigger, "stage_based reminders need watch_status")
		}
		if !stage.Valid(p.ProjectType, opts.WatchStatus) {
			return domain.Reminder{}, domain.Errorf(domain.ErrBadInput, "status %q not in the %s enumeration", opts.WatchStatus, p.ProjectType)
		}
		if opts.DelayMinutes < 0 {
			return domain.Reminder{}, domain.Errorf(domain.ErrBadInput, "delay_minutes cannot be negative")
		}
		ws := opts.WatchStatus
		rm.WatchStatus = &ws
		rm.DelayMinutes = opts.DelayMinutes
	default:
		return domain.Reminder{}, domain.Errorf(domain.ErrBadInput, "unknown trigger mode %q", opts.TriggerMode)
	}

	now := s.now().UTC().Format(time.RFC3339)
	rm.CreatedAt = now
	rm.UpdatedAt = now

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return rm, err
	}
	defer tx.Rollback()
	if err := s.Auth.EnsureActor(ctx, tx, opts.Actor.ID); err != nil {
		return rm, err
	}
	for _, recipient := range rm.Recipients {
		if err := s.Auth.EnsureActor(ctx, tx, recipient); err != nil {
			return rm, err
		}
	}
	if err := s.Repo.InsertReminder(ctx, tx, rm); err != nil {
		return rm, err
	}
	if err := s.Events.Append(ctx, tx, "reminder.created", rm.ProjectID, "reminder", rm.ID, opts.Actor.ID, events.EventPayload{
		"trigger_mode": rm.TriggerMode,
		"title":        rm.Title,
	}); err != nil {
		return rm, err
	}
	if err := tx.Commit(); err != nil {
		return rm, err
	}
	return rm, nil
}

// Sweep evaluates every scheduled, active reminder against now. A broken
// record never stops the pass; it is logged and retried on the next sweep.
func (s Scheduler) Sweep(ctx context.Context) ([]domain.Reminder, error) {
	candidates, err := s.Repo.ListSweepCandidates(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	var fired []domain.Reminder
	for _, rm := range candidates {
		hit, err := s.sweepOne(ctx, rm, now)
		if err != nil {
			s.logf("sweep: reminder %s: %v", rm.ID, err)
			continue
		}
		if hit {
			fired = append(fired, rm)
		}
	}
	return fired, nil
}

func (s Scheduler) sweepOne(ctx context.Context, rm domain.Reminder, now time.Time) (bool, error) {
	switch rm.TriggerMode {
	case domain.TriggerAbsoluteTime:
		if rm.RemindAt == nil {
			return false, domain.Errorf(domain.ErrNoConcreteTrigger, "no remind_at on record")
		}
		due, err := time.Parse(time.RFC3339, *rm.RemindAt)
		if err != nil {
			return false, err
		}
		if now.Before(due) {
			return false, nil
		}
		if rm.Repeat != domain.RepeatNone {
			next := rollForward(due, rm.Repeat, now)
			at := next.UTC().Format(time.RFC3339)
			rm.RemindAt = &at
		} else {
			rm.Status = domain.ReminderCompleted
			rm.IsActive = false
		}
		return s.fire(ctx, rm, now)
	case domain.TriggerStageBased:
		if rm.WatchStatus == nil {
			return false, domain.Errorf(domain.ErrNoConcreteTrigger, "no watch_status on record")
		}
		justMatched := false
		if rm.StageMatchedAt == nil {
			p, err := s.Repo.GetProject(ctx, rm.ProjectID)
			if err != nil {
				return false, err
			}
			if p.Status != *rm.WatchStatus {
				return false, nil
			}
			matched := now.Format(time.RFC3339)
			next := now.Add(time.Duration(rm.DelayMinutes) * time.Minute).Format(time.RFC3339)
			rm.StageMatchedAt = &matched
			rm.NextTriggerAt = &next
			justMatched = true
		} else if rm.NextTriggerAt == nil {
			// Already fired for this match. The project has to leave the
			// watched status before the repeat can match again.
			p, err := s.Repo.GetProject(ctx, rm.ProjectID)
			if err != nil {
				return false, err
			}
			if p.Status == *rm.WatchStatus {
				return false, nil
			}
			rm.StageMatchedAt = nil
			return false, s.save(ctx, rm, now)
		}
		due, err := time.Parse(time.RFC3339, *rm.NextTriggerAt)
		if err != nil {
			return false, err
		}
		if now.Before(due) {
			// Persist a fresh match even though nothing fires yet.
			if justMatched {
				return false, s.save(ctx, rm, now)
			}
			return false, nil
		}
		if rm.Repeat != domain.RepeatNone {
			// Keep the stale match on record; the next fire needs a fresh
			// transition into the watched status.
			rm.NextTriggerAt = nil
		} else {
			rm.Status = domain.ReminderCompleted
			rm.IsActive = false
		}
		return s.fire(ctx, rm, now)
	default:
		return false, domain.Errorf(domain.ErrBadInput, "unknown trigger mode %q", rm.TriggerMode)
	}
}

// rollForward advances the schedule past now so a long outage yields one
// catch-up fire, not a burst.
func rollForward(t time.Time, r domain.Repeat, now time.Time) time.Time {
	for !t.After(now) {
		switch r {
		case domain.RepeatDaily:
			t = t.AddDate(0, 0, 1)
		case domain.RepeatWeekly:
			t = t.AddDate(0, 0, 7)
		case domain.RepeatMonthly:
			t = t.AddDate(0, 1, 0)
		default:
			return t
		}
	}
	return t
}

// fire writes notification rows for every recipient and enabled channel,
// appends the event and saves the reminder, all guarded by its version.
func (s Scheduler) fire(ctx context.Context, rm domain.Reminder, now time.Time) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	rm.UpdatedAt = now.Format(time.RFC3339)
	ok, err := s.Repo.UpdateReminder(ctx, tx, rm)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logf("sweep: reminder %s changed concurrently, skipping", rm.ID)
		return false, nil
	}
	for _, recipient := range rm.Recipients {
		for _, ch := range enabledChannels(rm.Channels) {
			n := domain.Notification{
				ID:         uuid.New().String(),
				ActorID:    recipient,
				ProjectID:  rm.ProjectID,
				ReminderID: rm.ID,
				Channel:    ch,
				Title:      rm.Title,
				Message:    rm.Message,
				CreatedAt:  rm.UpdatedAt,
			}
			if err := s.Repo.InsertNotification(ctx, tx, n); err != nil {
				return false, err
			}
		}
	}
	if err := s.Events.Append(ctx, tx, "reminder.fired", rm.ProjectID, "reminder", rm.ID, rm.CreatedBy, events.EventPayload{
		"title":      rm.Title,
		"recipients": rm.Recipients,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// save persists trigger bookkeeping without firing.
func (s Scheduler) save(ctx context.Context, rm domain.Reminder, now time.Time) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	rm.UpdatedAt = now.Format(time.RFC3339)
	ok, err := s.Repo.UpdateReminder(ctx, tx, rm)
	if err != nil {
		return err
	}
	if !ok {
		s.logf("sweep: reminder %s changed concurrently, skipping", rm.ID)
		return nil
	}
	return tx.Commit()
}

func enabledChannels(c domain.Channels) []string {
	var res []string
	if c.InApp {
		res = append(res, "in_app")
	}
	if c.Email {
		res = append(res, "email")
	}
	return res
}

// Snooze pushes the pending trigger forward by minutes (the configured default
// when minutes is zero). The push is relative to the stored trigger, or to now
// when the trigger is already overdue. The reminder stays scheduled.
func (s Scheduler) Snooze(ctx context.Context, id string, minutes int, actor auth.Actor) (domain.Reminder, error) {
	rm, err := s.Repo.GetReminder(ctx, id)
	if err != nil {
		return rm, err
	}
	if err := s.canAct(ctx, rm, actor, "snooze this reminder"); err != nil {
		return rm, err
	}
	if rm.Status != domain.ReminderScheduled || !rm.IsActive {
		return rm, domain.Errorf(domain.ErrNotEditable, "reminder is %s", rm.Status)
	}
	if minutes <= 0 {
		minutes = s.Config.SnoozeMinutes()
	}
	now := s.now().UTC()
	push := func(stored string) (*string, error) {
		base, err := time.Parse(time.RFC3339, stored)
		if err != nil {
			return nil, err
		}
		if base.Before(now) {
			base = now
		}
		until := base.Add(time.Duration(minutes) * time.Minute).UTC().Format(time.RFC3339)
		return &until, nil
	}
	switch rm.TriggerMode {
	case domain.TriggerAbsoluteTime:
		if rm.RemindAt == nil {
			return rm, domain.Errorf(domain.ErrNoConcreteTrigger, "no remind_at on record")
		}
		until, err := push(*rm.RemindAt)
		if err != nil {
			return rm, err
		}
		rm.RemindAt = until
	case domain.TriggerStageBased:
		if rm.StageMatchedAt == nil || rm.NextTriggerAt == nil {
			return rm, domain.Errorf(domain.ErrNoConcreteTrigger, "nothing to snooze until the watched status matches")
		}
		until, err := push(*rm.NextTriggerAt)
		if err != nil {
			return rm, err
		}
		rm.NextTriggerAt = until
	}
	return s.update(ctx, rm, actor, "reminder.snoozed", events.EventPayload{"minutes": minutes}, false)
}

// Complete marks the reminder done. Completing twice is a no-op.
func (s Scheduler) Complete(ctx context.Context, id string, actor auth.Actor) (domain.Reminder, error) {
	rm, err := s.Repo.GetReminder(ctx, id)
	if err != nil {
		return rm, err
	}
	if err := s.canAct(ctx, rm, actor, "complete this reminder"); err != nil {
		return rm, err
	}
	if rm.Status == domain.ReminderCompleted {
		return rm, nil
	}
	if rm.Status == domain.ReminderCancelled {
		return rm, domain.Errorf(domain.ErrNotEditable, "reminder was cancelled")
	}
	rm.Status = domain.ReminderCompleted
	rm.IsActive = false
	return s.update(ctx, rm, actor, "reminder.completed", nil, false)
}

// Cancel withdraws the reminder. Cancelling twice is a no-op.
func (s Scheduler) Cancel(ctx context.Context, id string, actor auth.Actor) (domain.Reminder, error) {
	rm, err := s.Repo.GetReminder(ctx, id)
	if err != nil {
		return rm, err
	}
	if err := s.canAct(ctx, rm, actor, "cancel this reminder"); err != nil {
		return rm, err
	}
	if rm.Status == domain.ReminderCancelled {
		return rm, nil
	}
	if rm.Status == domain.ReminderCompleted {
		return rm, domain.Errorf(domain.ErrNotEditable, "reminder already completed")
	}
	rm.Status = domain.ReminderCancelled
	rm.IsActive = false
	return s.update(ctx, rm, actor, "reminder.cancelled", nil, false)
}

// EditOptions carries partial updates; nil fields are left alone.
type EditOptions struct {
	Title        *string
	Message      *string
	RemindAt     *string
	Repeat       *domain.Repeat
	WatchStatus  *stage.Status
	DelayMinutes *int
	Channels     *domain.Channels
	Recipients   []string
}

func (s Scheduler) isEditable(rm domain.Reminder, now time.Time) bool {
	if rm.Status != domain.ReminderScheduled || !rm.IsActive {
		return false
	}
	switch rm.TriggerMode {
	case domain.TriggerAbsoluteTime:
		if rm.RemindAt == nil {
			return false
		}
		t, err := time.Parse(time.RFC3339, *rm.RemindAt)
		return err == nil && t.After(now)
	case domain.TriggerStageBased:
		if rm.StageMatchedAt == nil {
			return true
		}
		if rm.NextTriggerAt == nil {
			// Fired for the current match and waiting for the project to
			// leave the watched status.
			return false
		}
		t, err := time.Parse(time.RFC3339, *rm.NextTriggerAt)
		return err == nil && t.After(now)
	}
	return false
}

// Edit rewrites a reminder that has not yet fired.
func (s Scheduler) Edit(ctx context.Context, id string, opts EditOptions, actor auth.Actor) (domain.Reminder, error) {
	rm, err := s.Repo.GetReminder(ctx, id)
	if err != nil {
		return rm, err
	}
	if err := s.canManage(ctx, rm, actor, "edit this reminder"); err != nil {
		return rm, err
	}
	now := s.now().UTC()
	if !s.isEditable(rm, now) {
		return rm, domain.Errorf(domain.ErrNotEditable, "reminder has fired or is no longer scheduled")
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return rm, domain.Errorf(domain.ErrBadInput, "title is required")
		}
		rm.Title = *opts.Title
	}
	if opts.Message != nil {
		rm.Message = *opts.Message
	}
	if opts.Repeat != nil {
		if !validRepeat(*opts.Repeat) {
			return rm, domain.Errorf(domain.ErrBadInput, "unknown repeat %q", *opts.Repeat)
		}
		rm.Repeat = *opts.Repeat
	}
	if opts.Channels != nil {
		if !opts.Channels.InApp && !opts.Channels.Email {
			return rm, domain.Errorf(domain.ErrBadInput, "enable at least one channel")
		}
		rm.Channels = *opts.Channels
	}
	if opts.RemindAt != nil {
		if rm.TriggerMode != domain.TriggerAbsoluteTime {
			return rm, domain.Errorf(domain.ErrBadInput, "remind_at only applies to absolute_time reminders")
		}
		t, err := time.Parse(time.RFC3339, *opts.RemindAt)
		if err != nil {
			return rm, domain.Errorf(domain.ErrInvalidTime, "remind_at must be RFC3339: %v", err)
		}
		at := t.UTC().Format(time.RFC3339)
		rm.RemindAt = &at
	}
	if opts.WatchStatus != nil {
		if rm.TriggerMode != domain.TriggerStageBased {
			return rm, domain.Errorf(domain.ErrBadInput, "watch_status only applies to stage_based reminders")
		}
		p, err := s.Repo.GetProject(ctx, rm.ProjectID)
		if err != nil {
			return rm, err
		}
		if !stage.Valid(p.ProjectType, *opts.WatchStatus) {
			return rm, domain.Errorf(domain.ErrBadInput, "status %q not in the %s enumeration", *opts.WatchStatus, p.ProjectType)
		}
		ws := *opts.WatchStatus
		rm.WatchStatus = &ws
		// A new target means the old match no longer applies.
		rm.StageMatchedAt = nil
		rm.NextTriggerAt = nil
	}
	if opts.DelayMinutes != nil {
		if rm.TriggerMode != domain.TriggerStageBased {
			return rm, domain.Errorf(domain.ErrBadInput, "delay_minutes only applies to stage_based reminders")
		}
		if *opts.DelayMinutes < 0 {
			return rm, domain.Errorf(domain.ErrBadInput, "delay_minutes cannot be negative")
		}
		rm.DelayMinutes = *opts.DelayMinutes
	}
	if opts.Recipients != nil {
		rm.Recipients = opts.Recipients
	}
	return s.update(ctx, rm, actor, "reminder.updated", nil, opts.Recipients != nil)
}

// Delete removes a finished reminder outright. Scheduled reminders must be
// cancelled first so the removal is an explicit two-step.
func (s Scheduler) Delete(ctx context.Context, id string, actor auth.Actor) error {
	rm, err := s.Repo.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if err := s.canManage(ctx, rm, actor, "delete this reminder"); err != nil {
		return err
	}
	if rm.Status == domain.ReminderScheduled {
		return domain.Errorf(domain.ErrCannotDeleteScheduled, "cancel or complete the reminder before deleting it")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Repo.DeleteReminder(ctx, tx, rm.ID); err != nil {
		return err
	}
	if err := s.Events.Append(ctx, tx, "reminder.deleted", rm.ProjectID, "reminder", rm.ID, actor.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// update is the shared guarded write for user-driven changes. A lost race
// surfaces as a conflict the caller retries.
func (s Scheduler) update(ctx context.Context, rm domain.Reminder, actor auth.Actor, evtType string, payload events.EventPayload, replaceRecipients bool) (domain.Reminder, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return rm, err
	}
	defer tx.Rollback()
	rm.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	ok, err := s.Repo.UpdateReminder(ctx, tx, rm)
	if err != nil {
		return rm, err
	}
	if !ok {
		return rm, domain.Errorf(domain.ErrStaleState, "reminder %s changed underneath this request; refetch and retry", rm.ID)
	}
	if replaceRecipients {
		if err := s.Repo.ReplaceReminderRecipients(ctx, tx, rm.ID, rm.Recipients); err != nil {
			return rm, err
		}
	}
	if err := s.Events.Append(ctx, tx, evtType, rm.ProjectID, "reminder", rm.ID, actor.ID, payload); err != nil {
		return rm, err
	}
	if err := tx.Commit(); err != nil {
		return rm, err
	}
	rm.Version++
	return rm, nil
}
