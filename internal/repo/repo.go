package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pressline/internal/domain"
	"pressline/internal/stage"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const projectColumns = `id,order_id,lineage_id,version_number,project_type,priority,status,COALESCE(item,''),created_by,created_at,updated_at`

func scanProjectRow(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	err := scan(&p.ID, &p.OrderID, &p.LineageID, &p.VersionNumber, &p.ProjectType, &p.Priority, &p.Status,
		&p.Item, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

// InsertProject writes the project row and its engaged departments.
func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,order_id,lineage_id,version_number,project_type,priority,status,item,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrderID, p.LineageID, p.VersionNumber, p.ProjectType, p.Priority, p.Status, nullable(p.Item), p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	for _, d := range p.Departments {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO project_departments(project_id,department) VALUES (?,?)`, p.ID, d); err != nil {
			return err
		}
	}
	return nil
}

// GetProject loads the full aggregate: acknowledgements, payments, mockup and
// feedbacks included.
func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	p, err := scanProjectRow(row.Scan)
	if err != nil {
		return p, err
	}
	if p.Departments, err = r.listDepartments(ctx, id); err != nil {
		return p, err
	}
	if p.Acknowledgements, err = r.ListAcknowledgements(ctx, id); err != nil {
		return p, err
	}
	if p.PaymentVerifications, err = r.ListPaymentVerifications(ctx, id); err != nil {
		return p, err
	}
	m, err := r.GetMockup(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return p, err
	}
	if err == nil {
		p.Mockup = &m
	}
	if p.Feedbacks, err = r.ListFeedbacks(ctx, id); err != nil {
		return p, err
	}
	return p, nil
}

// ListProjects returns project rows without child records, newest first.
func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, version_number DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectStatus performs the compare-and-swap write for a transition.
// It returns false when the expected status no longer matches, i.e. a
// concurrent transition won.
func (r Repo) UpdateProjectStatus(ctx context.Context, tx *sql.Tx, id string, expected, to stage.Status, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, updatedAt, id, expected)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// LatestVersion returns the highest version number within a lineage.
func (r Repo) LatestVersion(ctx context.Context, lineageID string) (int, error) {
	var v sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(version_number) FROM projects WHERE lineage_id=?`, lineageID).Scan(&v); err != nil {
		return 0, err
	}
	if !v.Valid {
		return 0, ErrNotFound
	}
	return int(v.Int64), nil
}

func (r Repo) listDepartments(ctx context.Context, projectID string) ([]stage.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT department FROM project_departments WHERE project_id=? ORDER BY department`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []stage.Department
	for rows.Next() {
		var d stage.Department
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// InsertAcknowledgement records a department engagement confirmation.
func (r Repo) InsertAcknowledgement(ctx context.Context, tx *sql.Tx, a domain.Acknowledgement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO acknowledgements(project_id,department,acknowledged_by,acknowledged_at) VALUES (?,?,?,?)`,
		a.ProjectID, a.Department, a.AcknowledgedBy, a.AcknowledgedAt)
	return err
}

// GetAcknowledgement returns a department's acknowledgement, if any.
func (r Repo) GetAcknowledgement(ctx context.Context, projectID string, dept stage.Department) (domain.Acknowledgement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT project_id,department,acknowledged_by,acknowledged_at FROM acknowledgements WHERE project_id=? AND department=?`,
		projectID, dept)
	var a domain.Acknowledgement
	err := row.Scan(&a.ProjectID, &a.Department, &a.AcknowledgedBy, &a.AcknowledgedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAcknowledgements(ctx context.Context, projectID string) ([]domain.Acknowledgement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,department,acknowledged_by,acknowledged_at FROM acknowledgements WHERE project_id=? ORDER BY acknowledged_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acknowledgement
	for rows.Next() {
		var a domain.Acknowledgement
		if err := rows.Scan(&a.ProjectID, &a.Department, &a.AcknowledgedBy, &a.AcknowledgedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertPaymentVerification(ctx context.Context, tx *sql.Tx, pv domain.PaymentVerification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO payment_verifications(id,project_id,type,recorded_by,recorded_at) VALUES (?,?,?,?,?)`,
		pv.ID, pv.ProjectID, pv.Type, pv.RecordedBy, pv.RecordedAt)
	return err
}

func (r Repo) ListPaymentVerifications(ctx context.Context, projectID string) ([]domain.PaymentVerification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,type,recorded_by,recorded_at FROM payment_verifications WHERE project_id=? ORDER BY recorded_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PaymentVerification
	for rows.Next() {
		var pv domain.PaymentVerification
		if err := rows.Scan(&pv.ID, &pv.ProjectID, &pv.Type, &pv.RecordedBy, &pv.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, pv)
	}
	return res, rows.Err()
}

func (r Repo) CountPaymentVerifications(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_verifications WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

// UpsertMockup stores or replaces the project's mockup file reference.
func (r Repo) UpsertMockup(ctx context.Context, tx *sql.Tx, m domain.Mockup) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO mockups(project_id,file_url,file_name,uploaded_by,uploaded_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET file_url=excluded.file_url, file_name=excluded.file_name, uploaded_by=excluded.uploaded_by, uploaded_at=excluded.uploaded_at`,
		m.ProjectID, m.FileURL, m.FileName, m.UploadedBy, m.UploadedAt)
	return err
}

func (r Repo) GetMockup(ctx context.Context, projectID string) (domain.Mockup, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT project_id,file_url,file_name,uploaded_by,uploaded_at FROM mockups WHERE project_id=?`, projectID)
	var m domain.Mockup
	err := row.Scan(&m.ProjectID, &m.FileURL, &m.FileName, &m.UploadedBy, &m.UploadedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) InsertFeedback(ctx context.Context, tx *sql.Tx, f domain.Feedback) error {
	attachments, err := json.Marshal(f.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO feedbacks(id,project_id,type,notes,attachments_json,created_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		f.ID, f.ProjectID, f.Type, nullable(f.Notes), string(attachments), f.CreatedBy, f.CreatedAt)
	return err
}

func (r Repo) ListFeedbacks(ctx context.Context, projectID string) ([]domain.Feedback, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,type,COALESCE(notes,''),COALESCE(attachments_json,'[]'),created_by,created_at FROM feedbacks WHERE project_id=? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		var attachments string
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Type, &f.Notes, &attachments, &f.CreatedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &f.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments for feedback %s: %w", f.ID, err)
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// InsertNotification records an in-app or email notification row.
func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(id,actor_id,project_id,reminder_id,channel,title,message,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.ActorID, nullable(n.ProjectID), nullable(n.ReminderID), n.Channel, n.Title, nullable(n.Message), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, actorID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,actor_id,COALESCE(project_id,''),COALESCE(reminder_id,''),channel,title,COALESCE(message,''),created_at,read_at FROM notifications WHERE actor_id=? ORDER BY created_at DESC LIMIT ?`, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.ActorID, &n.ProjectID, &n.ReminderID, &n.Channel, &n.Title, &n.Message, &n.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		if readAt.Valid {
			n.ReadAt = &readAt.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

const eventColumns = `id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func (r Repo) scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns the newest events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, n int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	if evtType != "" {
		query += ` AND type=?`
		args = append(args, evtType)
	}
	if entityKind != "" {
		query += ` AND entity_kind=?`
		args = append(args, entityKind)
	}
	if entityID != "" {
		query += ` AND entity_id=?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return r.scanEvents(rows)
}

// EventsAfter returns up to limit events with id greater than cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return r.scanEvents(rows)
}

// LatestEventID returns the newest event id, or 0 when there are none.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
