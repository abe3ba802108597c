package engine

import (
	"context"
	"database/sql"
	"errors"
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

// Engine owns the project lifecycle state machine: it validates transitions,
// enforces the payment/mockup/acknowledgement gates and records every accepted
// change in the activity log.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ProjectCreateOptions are parameters for order intake.
type ProjectCreateOptions struct {
	ID          string
	OrderID     string
	ProjectType stage.ProjectType
	Priority    stage.Priority
	Item        string
	Departments []stage.Department
	Actor       auth.Actor
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.ProjectType == "" {
		opts.ProjectType = stage.TypeStandard
	}
	if !stage.ValidType(opts.ProjectType) {
		return domain.Project{}, domain.Errorf(domain.ErrBadInput, "unknown project type %q", opts.ProjectType)
	}
	if opts.Priority == "" {
		opts.Priority = stage.DefaultPriority(opts.ProjectType)
	}
	if !stage.ValidPriority(opts.Priority) {
		return domain.Project{}, domain.Errorf(domain.ErrBadInput, "unknown priority %q", opts.Priority)
	}
	for _, d := range opts.Departments {
		if !stage.ValidDepartment(d) {
			return domain.Project{}, domain.Errorf(domain.ErrBadInput, "unknown department %q", d)
		}
	}
	if len(opts.Departments) == 0 {
		// Every stage-owning department must acknowledge before its
		// completion step, so a project with none engaged could never
		// walk the full sequence.
		opts.Departments = stage.Departments()
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	orderID := opts.OrderID
	if orderID == "" {
		orderID = "PL-" + strings.ToUpper(id[:8])
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:            id,
		OrderID:       orderID,
		LineageID:     id,
		VersionNumber: 1,
		ProjectType:   opts.ProjectType,
		Priority:      opts.Priority,
		Status:        stage.OrderConfirmed,
		Item:          opts.Item,
		Departments:   opts.Departments,
		CreatedBy:     opts.Actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.EnsureActor(ctx, tx, opts.Actor.ID); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.Actor.ID, events.EventPayload{
		"order_id": p.OrderID,
		"type":     p.ProjectType,
		"status":   p.Status,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// TransitionStatus validates and applies one status transition. force is the
// administrator-only override: it bypasses the step-by-step ordering but never
// the payment, mockup or acknowledgement gates.
func (e Engine) TransitionStatus(ctx context.Context, projectID string, requested stage.Status, actor auth.Actor, force bool) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	if !stage.Valid(p.ProjectType, requested) {
		return p, domain.Errorf(domain.ErrInvalidTransition, "status %q not in the %s enumeration", requested, p.ProjectType)
	}
	if requested == stage.Finished {
		return p, domain.Errorf(domain.ErrInvalidTransition, "archiving is a separate action; use finish")
	}
	if p.Status == stage.Finished {
		return p, domain.Errorf(domain.ErrInvalidTransition, "project is finished; reopen it as a revision instead")
	}
	if force {
		admin, err := e.Auth.IsAdmin(ctx, actor)
		if err != nil {
			return p, err
		}
		if !admin {
			return p, auth.ForbiddenError{Action: "override the stage order"}
		}
	}
	if !force && !stage.CanTransition(p.ProjectType, p.Status, requested) {
		return p, domain.Errorf(domain.ErrInvalidTransition, "cannot move %s -> %s for a %s project", p.Status, requested, p.ProjectType)
	}
	if err := e.checkTransitionGates(ctx, p, requested); err != nil {
		return p, err
	}
	return e.applyStatus(ctx, p, requested, actor, "project.status.changed", nil)
}

// checkTransitionGates enforces the side-conditions that hold even under
// force.
func (e Engine) checkTransitionGates(ctx context.Context, p domain.Project, requested stage.Status) error {
	if dept, ok := stage.DepartmentForCompletion(requested); ok {
		pair, _ := stage.DepartmentStages(dept)
		if p.Status != pair.Pending {
			return domain.Errorf(domain.ErrInvalidTransition, "%s is only reachable from %s", requested, pair.Pending)
		}
		if _, err := e.Repo.GetAcknowledgement(ctx, p.ID, dept); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Errorf(domain.ErrDepartmentNotAcknowledged, "department %s has not acknowledged engagement", dept)
			}
			return err
		}
	}
	switch requested {
	case stage.ProductionCompleted:
		n, err := e.Repo.CountPaymentVerifications(ctx, p.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.Errorf(domain.ErrPaymentVerificationRequired, "production cannot complete without a payment verification")
		}
	case stage.MockupCompleted:
		if _, err := e.Repo.GetMockup(ctx, p.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Errorf(domain.ErrMockupRequired, "upload a mockup before completing the mockup stage")
			}
			return err
		}
	case stage.DepartmentalEngagementComplete:
		for _, d := range p.Departments {
			if _, err := e.Repo.GetAcknowledgement(ctx, p.ID, d); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return domain.Errorf(domain.ErrDepartmentNotAcknowledged, "department %s has not acknowledged engagement", d)
				}
				return err
			}
		}
	}
	return nil
}

// applyStatus performs the guarded status write and activity-log append.
func (e Engine) applyStatus(ctx context.Context, p domain.Project, to stage.Status, actor auth.Actor, evtType string, extra events.EventPayload) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.UpdateProjectStatus(ctx, tx, p.ID, p.Status, to, now)
	if err != nil {
		return p, err
	}
	if !ok {
		return p, domain.Errorf(domain.ErrStaleState, "project %s changed underneath this request; refetch and retry", p.ID)
	}
	payload := events.EventPayload{"from": p.Status, "to": to}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.Events.Append(ctx, tx, evtType, p.ID, "project", p.ID, actor.ID, payload); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = to
	p.UpdatedAt = now
	return p, nil
}

// AcknowledgeDepartment records a department's engagement confirmation.
// Re-acknowledging is a no-op returning the existing entry.
func (e Engine) AcknowledgeDepartment(ctx context.Context, projectID string, dept stage.Department, actor auth.Actor) (domain.Acknowledgement, error) {
	if !stage.ValidDepartment(dept) {
		return domain.Acknowledgement{}, domain.Errorf(domain.ErrBadInput, "unknown department %q", dept)
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Acknowledgement{}, err
	}
	engaged := false
	for _, d := range p.Departments {
		if d == dept {
			engaged = true
			break
		}
	}
	if !engaged {
		return domain.Acknowledgement{}, domain.Errorf(domain.ErrBadInput, "department %s is not engaged on this project", dept)
	}
	if !stage.CanAcknowledge(p.ProjectType, p.Status) {
		return domain.Acknowledgement{}, domain.Errorf(domain.ErrScopeApprovalIncomplete, "acknowledgements open once scope approval is completed; current status is %s", p.Status)
	}

	existing, err := e.Repo.GetAcknowledgement(ctx, projectID, dept)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Acknowledgement{}, err
	}

	a := domain.Acknowledgement{
		ProjectID:      projectID,
		Department:     dept,
		AcknowledgedBy: actor.ID,
		AcknowledgedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Auth.EnsureActor(ctx, tx, actor.ID); err != nil {
		return a, err
	}
	if err := e.Repo.InsertAcknowledgement(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "project.department.acknowledged", projectID, "project", projectID, actor.ID, events.EventPayload{
		"department": dept,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// RecordPaymentVerification stores a payment record; its presence gates the
// production completion transition.
func (e Engine) RecordPaymentVerification(ctx context.Context, projectID, payType string, actor auth.Actor) (domain.PaymentVerification, error) {
	if strings.TrimSpace(payType) == "" {
		return domain.PaymentVerification{}, domain.Errorf(domain.ErrBadInput, "payment type is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.PaymentVerification{}, err
	}
	pv := domain.PaymentVerification{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		Type:       payType,
		RecordedBy: actor.ID,
		RecordedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pv, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPaymentVerification(ctx, tx, pv); err != nil {
		return pv, err
	}
	if err := e.Events.Append(ctx, tx, "project.payment.verified", projectID, "project", projectID, actor.ID, events.EventPayload{
		"type": payType,
	}); err != nil {
		return pv, err
	}
	if err := tx.Commit(); err != nil {
		return pv, err
	}
	return pv, nil
}

// AttachMockup stores the mockup file reference as a precursor to the
// graphics completion action.
func (e Engine) AttachMockup(ctx context.Context, projectID, fileURL, fileName string, actor auth.Actor) (domain.Mockup, error) {
	if strings.TrimSpace(fileURL) == "" || strings.TrimSpace(fileName) == "" {
		return domain.Mockup{}, domain.Errorf(domain.ErrBadInput, "file_url and file_name are required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Mockup{}, err
	}
	m := domain.Mockup{
		ProjectID:  projectID,
		FileURL:    fileURL,
		FileName:   fileName,
		UploadedBy: actor.ID,
		UploadedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertMockup(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "project.mockup.attached", projectID, "project", projectID, actor.ID, events.EventPayload{
		"file_name": fileName,
	}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// RecordFeedback appends customer feedback. It never changes status; the move
// to Feedback Completed is its own explicit transition.
func (e Engine) RecordFeedback(ctx context.Context, projectID string, ftype domain.FeedbackType, notes string, attachments []string, actor auth.Actor) (domain.Feedback, error) {
	if ftype != domain.FeedbackPositive && ftype != domain.FeedbackNegative {
		return domain.Feedback{}, domain.Errorf(domain.ErrBadInput, "feedback type must be Positive or Negative")
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Feedback{}, err
	}
	if !stage.AtOrAfter(p.ProjectType, p.Status, stage.Delivered) {
		return domain.Feedback{}, domain.Errorf(domain.ErrBadInput, "feedback opens once the order is delivered; current status is %s", p.Status)
	}
	if (p.Status == stage.Delivered || p.Status == stage.PendingFeedback) && len(attachments) == 0 {
		return domain.Feedback{}, domain.Errorf(domain.ErrAttachmentRequired, "feedback in status %s needs at least one attachment", p.Status)
	}
	f := domain.Feedback{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Type:        ftype,
		Notes:       notes,
		Attachments: attachments,
		CreatedBy:   actor.ID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertFeedback(ctx, tx, f); err != nil {
		return f, err
	}
	if err := e.Events.Append(ctx, tx, "project.feedback.recorded", projectID, "feedback", f.ID, actor.ID, events.EventPayload{
		"type": ftype,
	}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

// MarkFinished archives a Completed project. Never automatic.
func (e Engine) MarkFinished(ctx context.Context, projectID string, actor auth.Actor) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	if p.Status != stage.Completed {
		return p, domain.Errorf(domain.ErrInvalidTransition, "only Completed projects can be finished; current status is %s", p.Status)
	}
	return e.applyStatus(ctx, p, stage.Finished, actor, "project.finished", nil)
}

// ReopenAsRevision creates a fresh revision of a Finished project. The
// original record stays untouched; only the latest version in a lineage may be
// reopened.
func (e Engine) ReopenAsRevision(ctx context.Context, projectID, reason string, actor auth.Actor) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status != stage.Finished {
		return domain.Project{}, domain.Errorf(domain.ErrInvalidTransition, "only Finished projects can be reopened; current status is %s", p.Status)
	}
	latest, err := e.Repo.LatestVersion(ctx, p.LineageID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.VersionNumber != latest {
		return domain.Project{}, domain.Errorf(domain.ErrNotLatestRevision, "version %d is superseded by %d; reopen the latest revision", p.VersionNumber, latest)
	}

	now := e.now().UTC().Format(time.RFC3339)
	next := domain.Project{
		ID:            uuid.New().String(),
		OrderID:       p.OrderID,
		LineageID:     p.LineageID,
		VersionNumber: p.VersionNumber + 1,
		ProjectType:   p.ProjectType,
		Priority:      p.Priority,
		Status:        stage.OrderConfirmed,
		Item:          p.Item,
		Departments:   p.Departments,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Auth.EnsureActor(ctx, tx, actor.ID); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProject(ctx, tx, next); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.reopened", next.ID, "project", next.ID, actor.ID, events.EventPayload{
		"reason":            reason,
		"source_project_id": p.ID,
		"from_version":      p.VersionNumber,
		"to_version":        next.VersionNumber,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return next, nil
}

// NextStatus exposes the legal forward step for UI affordances.
func (e Engine) NextStatus(p domain.Project) (stage.Status, bool) {
	next, ok := stage.Next(p.ProjectType, p.Status)
	if !ok || next == stage.Finished {
		return "", false
	}
	return next, true
}
