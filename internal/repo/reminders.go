package repo

import (
	"context"
	"database/sql"

	"pressline/internal/domain"
	"pressline/internal/stage"
)

func statusFrom(v string) stage.Status { return stage.Status(v) }

func statusPtr(s *stage.Status) any {
	if s == nil || *s == "" {
		return nil
	}
	return string(*s)
}

const reminderColumns = `id,project_id,title,COALESCE(message,''),trigger_mode,remind_at,repeat,watch_status,delay_minutes,stage_matched_at,next_trigger_at,status,is_active,channel_in_app,channel_email,created_by,created_at,updated_at,version`

func scanReminder(scan func(...any) error) (domain.Reminder, error) {
	var (
		rm                                       domain.Reminder
		remindAt, watchStatus, matchedAt, nextAt sql.NullString
		isActive, inApp, email                   int
	)
	err := scan(&rm.ID, &rm.ProjectID, &rm.Title, &rm.Message, &rm.TriggerMode, &remindAt, &rm.Repeat,
		&watchStatus, &rm.DelayMinutes, &matchedAt, &nextAt, &rm.Status, &isActive, &inApp, &email,
		&rm.CreatedBy, &rm.CreatedAt, &rm.UpdatedAt, &rm.Version)
	if err == sql.ErrNoRows {
		return rm, ErrNotFound
	}
	if err != nil {
		return rm, err
	}
	if remindAt.Valid {
		rm.RemindAt = &remindAt.String
	}
	if watchStatus.Valid {
		ws := statusFrom(watchStatus.String)
		rm.WatchStatus = &ws
	}
	if matchedAt.Valid {
		rm.StageMatchedAt = &matchedAt.String
	}
	if nextAt.Valid {
		rm.NextTriggerAt = &nextAt.String
	}
	rm.IsActive = isActive == 1
	rm.Channels.InApp = inApp == 1
	rm.Channels.Email = email == 1
	return rm, nil
}

// InsertReminder writes the reminder and its recipient list.
func (r Repo) InsertReminder(ctx context.Context, tx *sql.Tx, rm domain.Reminder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reminders(id,project_id,title,message,trigger_mode,remind_at,repeat,watch_status,delay_minutes,stage_matched_at,next_trigger_at,status,is_active,channel_in_app,channel_email,created_by,created_at,updated_at,version)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,0)`,
		rm.ID, rm.ProjectID, rm.Title, nullable(rm.Message), rm.TriggerMode, nullablePtr(rm.RemindAt), rm.Repeat,
		statusPtr(rm.WatchStatus), rm.DelayMinutes, nullablePtr(rm.StageMatchedAt), nullablePtr(rm.NextTriggerAt),
		rm.Status, boolInt(rm.IsActive), boolInt(rm.Channels.InApp), boolInt(rm.Channels.Email),
		rm.CreatedBy, rm.CreatedAt, rm.UpdatedAt)
	if err != nil {
		return err
	}
	for _, recipient := range rm.Recipients {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO reminder_recipients(reminder_id,actor_id) VALUES (?,?)`, rm.ID, recipient); err != nil {
			return err
		}
	}
	return nil
}

// GetReminder loads one reminder with recipients.
func (r Repo) GetReminder(ctx context.Context, id string) (domain.Reminder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id=?`, id)
	rm, err := scanReminder(row.Scan)
	if err != nil {
		return rm, err
	}
	rm.Recipients, err = r.listRecipients(ctx, id)
	return rm, err
}

func (r Repo) listRecipients(ctx context.Context, reminderID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id FROM reminder_recipients WHERE reminder_id=? ORDER BY actor_id`, reminderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListReminders returns a project's reminders, scheduled-only by default.
func (r Repo) ListReminders(ctx context.Context, projectID string, includeCompleted bool) ([]domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE project_id=?`
	if !includeCompleted {
		query += ` AND status='scheduled'`
	}
	query += ` ORDER BY created_at`
	rows, err := r.DB.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		rm, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Recipients, err = r.listRecipients(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ListSweepCandidates returns every scheduled, active reminder.
func (r Repo) ListSweepCandidates(ctx context.Context) ([]domain.Reminder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE status='scheduled' AND is_active=1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reminder
	for rows.Next() {
		rm, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Recipients, err = r.listRecipients(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateReminder writes back all mutable fields, guarded by the version the
// caller read. Returns false when another writer got there first.
func (r Repo) UpdateReminder(ctx context.Context, tx *sql.Tx, rm domain.Reminder) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE reminders SET title=?, message=?, trigger_mode=?, remind_at=?, repeat=?, watch_status=?, delay_minutes=?, stage_matched_at=?, next_trigger_at=?, status=?, is_active=?, channel_in_app=?, channel_email=?, updated_at=?, version=version+1
WHERE id=? AND version=?`,
		rm.Title, nullable(rm.Message), rm.TriggerMode, nullablePtr(rm.RemindAt), rm.Repeat,
		statusPtr(rm.WatchStatus), rm.DelayMinutes, nullablePtr(rm.StageMatchedAt), nullablePtr(rm.NextTriggerAt),
		rm.Status, boolInt(rm.IsActive), boolInt(rm.Channels.InApp), boolInt(rm.Channels.Email),
		rm.UpdatedAt, rm.ID, rm.Version)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReplaceReminderRecipients rewrites the recipient list.
func (r Repo) ReplaceReminderRecipients(ctx context.Context, tx *sql.Tx, reminderID string, recipients []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM reminder_recipients WHERE reminder_id=?`, reminderID); err != nil {
		return err
	}
	for _, recipient := range recipients {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO reminder_recipients(reminder_id,actor_id) VALUES (?,?)`, reminderID, recipient); err != nil {
			return err
		}
	}
	return nil
}

// DeleteReminder removes the reminder and its recipient rows.
func (r Repo) DeleteReminder(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM reminder_recipients WHERE reminder_id=?`, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE id=?`, id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
