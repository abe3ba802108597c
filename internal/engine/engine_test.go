package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/engine/auth"
	"pressline/internal/migrate"
	"pressline/internal/stage"
)

var (
	staff = auth.Actor{ID: "staff-1"}
	admin = auth.Actor{ID: "admin-1", Roles: []string{auth.AdminRole}}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("shop-1"))
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreate(t *testing.T, env testEnv, opts engine.ProjectCreateOptions) domain.Project {
	t.Helper()
	if opts.Actor.ID == "" {
		opts.Actor = staff
	}
	p, err := env.Engine.CreateProject(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

// advanceTo walks a project forward one legal step at a time, satisfying the
// gates along the way.
func advanceTo(t *testing.T, env testEnv, p domain.Project, target stage.Status) domain.Project {
	t.Helper()
	for p.Status != target {
		next, ok := stage.Next(p.ProjectType, p.Status)
		if !ok || next == stage.Finished {
			t.Fatalf("cannot advance past %s toward %s", p.Status, target)
		}
		satisfyGates(t, env, p, next)
		var err error
		p, err = env.Engine.TransitionStatus(env.Ctx, p.ID, next, staff, false)
		if err != nil {
			t.Fatalf("advance %s -> %s: %v", p.Status, next, err)
		}
	}
	return p
}

func satisfyGates(t *testing.T, env testEnv, p domain.Project, next stage.Status) {
	t.Helper()
	if dept, ok := stage.DepartmentForCompletion(next); ok {
		ack(t, env, p.ID, dept)
	}
	switch next {
	case stage.DepartmentalEngagementComplete:
		for _, d := range p.Departments {
			ack(t, env, p.ID, d)
		}
	case stage.ProductionCompleted:
		if _, err := env.Engine.RecordPaymentVerification(env.Ctx, p.ID, "deposit", staff); err != nil {
			t.Fatalf("record payment: %v", err)
		}
	case stage.MockupCompleted:
		if _, err := env.Engine.AttachMockup(env.Ctx, p.ID, "https://files/mockup.png", "mockup.png", staff); err != nil {
			t.Fatalf("attach mockup: %v", err)
		}
	}
}

func ack(t *testing.T, env testEnv, projectID string, dept stage.Department) {
	t.Helper()
	if _, err := env.Engine.AcknowledgeDepartment(env.Ctx, projectID, dept, staff); err != nil {
		t.Fatalf("acknowledge %s: %v", dept, err)
	}
}

func wantKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	var de domain.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
	if de.Kind != kind {
		t.Fatalf("expected %s, got %s (%s)", kind, de.Kind, de.Message)
	}
}

func TestCreateProjectDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{Item: "500 flyers"})
	if p.ProjectType != stage.TypeStandard || p.Priority != stage.PriorityNormal {
		t.Fatalf("unexpected defaults %s/%s", p.ProjectType, p.Priority)
	}
	if p.Status != stage.OrderConfirmed {
		t.Fatalf("new projects start at Order Confirmed, got %s", p.Status)
	}
	if p.LineageID != p.ID || p.VersionNumber != 1 {
		t.Fatalf("expected fresh lineage, got %s v%d", p.LineageID, p.VersionNumber)
	}
	if len(p.Departments) != len(stage.Departments()) {
		t.Fatalf("expected every department engaged by default, got %v", p.Departments)
	}

	em := mustCreate(t, env, engine.ProjectCreateOptions{ProjectType: stage.TypeEmergency})
	if em.Priority != stage.PriorityUrgent {
		t.Fatalf("emergency projects default Urgent, got %s", em.Priority)
	}

	if _, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		ProjectType: "Rush", Actor: staff,
	}); err == nil {
		t.Fatalf("unknown project type should fail")
	}
}

func TestTransitionHappyPath(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{
		Departments: []stage.Department{stage.DeptGraphics, stage.DeptProduction, stage.DeptPackaging},
	})
	p = advanceTo(t, env, p, stage.Completed)
	if p.Status != stage.Completed {
		t.Fatalf("expected Completed, got %s", p.Status)
	}
}

func TestTransitionRejectsSkipsAndBackwardMoves(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{})

	_, err := env.Engine.TransitionStatus(env.Ctx, p.ID, stage.ScopeApprovalCompleted, staff, false)
	wantKind(t, err, domain.ErrInvalidTransition)

	p = advanceTo(t, env, p, stage.PendingScopeApproval)
	_, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.OrderConfirmed, staff, false)
	wantKind(t, err, domain.ErrInvalidTransition)

	_, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.Finished, staff, false)
	wantKind(t, err, domain.ErrInvalidTransition)
}

func TestPaymentGate(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{})
	p = advanceTo(t, env, p, stage.PendingProduction)

	_, err := env.Engine.TransitionStatus(env.Ctx, p.ID, stage.ProductionCompleted, staff, false)
	wantKind(t, err, domain.ErrPaymentVerificationRequired)

	if _, err := env.Engine.RecordPaymentVerification(env.Ctx, p.ID, "deposit", staff); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	p, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.ProductionCompleted, staff, false)
	if err != nil || p.Status != stage.ProductionCompleted {
		t.Fatalf("expected production to complete after payment, got %v", err)
	}
}

func TestMockupGate(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{})
	p = advanceTo(t, env, p, stage.PendingMockup)

	_, err := env.Engine.TransitionStatus(env.Ctx, p.ID, stage.MockupCompleted, staff, false)
	wantKind(t, err, domain.ErrMockupRequired)

	if _, err := env.Engine.AttachMockup(env.Ctx, p.ID, "https://files/mk.png", "mk.png", staff); err != nil {
		t.Fatalf("attach mockup: %v", err)
	}
	p, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.MockupCompleted, staff, false)
	if err != nil || p.Status != stage.MockupCompleted {
		t.Fatalf("expected mockup stage to complete, got %v", err)
	}
}

func TestAcknowledgementRules(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{Departments: []stage.Department{stage.DeptGraphics, stage.DeptProduction}})

	// Closed until scope approval completes.
	_, err := env.Engine.AcknowledgeDepartment(env.Ctx, p.ID, stage.DeptGraphics, staff)
	wantKind(t, err, domain.ErrScopeApprovalIncomplete)

	p = advanceTo(t, env, p, stage.PendingDepartmentalEngagement)

	// Engagement completion requires every engaged department.
	ack(t, env, p.ID, stage.DeptGraphics)
	_, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.DepartmentalEngagementComplete, staff, false)
	wantKind(t, err, domain.ErrDepartmentNotAcknowledged)

	ack(t, env, p.ID, stage.DeptProduction)
	if _, err := env.Engine.TransitionStatus(env.Ctx, p.ID, stage.DepartmentalEngagementComplete, staff, false); err != nil {
		t.Fatalf("engagement complete: %v", err)
	}

	// Re-acknowledging is a no-op returning the original entry.
	first, err := env.Engine.AcknowledgeDepartment(env.Ctx, p.ID, stage.DeptGraphics, staff)
	if err != nil {
		t.Fatalf("repeat ack: %v", err)
	}
	again, err := env.Engine.AcknowledgeDepartment(env.Ctx, p.ID, stage.DeptGraphics, auth.Actor{ID: "someone-else"})
	if err != nil {
		t.Fatalf("repeat ack: %v", err)
	}
	if again.AcknowledgedBy != first.AcknowledgedBy {
		t.Fatalf("repeat ack should not rewrite the record")
	}

	// Not engaged on this project.
	_, err = env.Engine.AcknowledgeDepartment(env.Ctx, p.ID, stage.DeptPackaging, staff)
	wantKind(t, err, domain.ErrBadInput)
}

func TestForceOverride(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{})

	// Non-admins cannot force.
	_, err := env.Engine.TransitionStatus(env.Ctx, p.ID, stage.Delivered, staff, true)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// Admins can jump stages.
	p, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.PendingQualityControl, admin, true)
	if err != nil || p.Status != stage.PendingQualityControl {
		t.Fatalf("admin force jump: %v", err)
	}

	// A persisted admin role works without a claim.
	if err := env.Engine.Auth.GrantRole(env.Ctx, "db-admin", auth.AdminRole); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	p, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.PendingPackaging, auth.Actor{ID: "db-admin"}, true)
	if err != nil {
		t.Fatalf("persisted admin force: %v", err)
	}

	// Hard gates survive force: no payment means no production completion.
	p2 := mustCreate(t, env, engine.ProjectCreateOptions{})
	p2 = advanceTo(t, env, p2, stage.PendingProduction)
	_, err = env.Engine.TransitionStatus(env.Ctx, p2.ID, stage.ProductionCompleted, admin, true)
	wantKind(t, err, domain.ErrPaymentVerificationRequired)
}

func TestFeedbackRules(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{})
	p = advanceTo(t, env, p, stage.PendingDelivery)

	// Too early.
	_, err := env.Engine.RecordFeedback(env.Ctx, p.ID, domain.FeedbackPositive, "", nil, staff)
	wantKind(t, err, domain.ErrBadInput)

	p = advanceTo(t, env, p, stage.Delivered)

	// Attachment required while Delivered / Pending Feedback.
	_, err = env.Engine.RecordFeedback(env.Ctx, p.ID, domain.FeedbackNegative, "smudged print", nil, staff)
	wantKind(t, err, domain.ErrAttachmentRequired)

	f, err := env.Engine.RecordFeedback(env.Ctx, p.ID, domain.FeedbackNegative, "smudged print", []string{"https://files/photo.jpg"}, staff)
	if err != nil {
		t.Fatalf("feedback with attachment: %v", err)
	}
	if f.Type != domain.FeedbackNegative {
		t.Fatalf("unexpected feedback %+v", f)
	}

	// Recording feedback never advances status.
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || got.Status != stage.Delivered {
		t.Fatalf("feedback should not move status, got %s", got.Status)
	}

	// After Feedback Completed the attachment requirement relaxes.
	p = advanceTo(t, env, p, stage.FeedbackCompleted)
	if _, err := env.Engine.RecordFeedback(env.Ctx, p.ID, domain.FeedbackPositive, "thanks", nil, staff); err != nil {
		t.Fatalf("late feedback without attachment: %v", err)
	}
}

func TestFinishAndReopen(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{Item: "banners"})

	// Finish only from Completed.
	_, err := env.Engine.MarkFinished(env.Ctx, p.ID, staff)
	wantKind(t, err, domain.ErrInvalidTransition)

	p = advanceTo(t, env, p, stage.Completed)
	p, err = env.Engine.MarkFinished(env.Ctx, p.ID, staff)
	if err != nil || p.Status != stage.Finished {
		t.Fatalf("finish: %v", err)
	}

	// Finished records reject further transitions.
	_, err = env.Engine.TransitionStatus(env.Ctx, p.ID, stage.Completed, admin, true)
	wantKind(t, err, domain.ErrInvalidTransition)

	rev, err := env.Engine.ReopenAsRevision(env.Ctx, p.ID, "customer wants a reprint", staff)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if rev.LineageID != p.LineageID || rev.VersionNumber != 2 || rev.Status != stage.OrderConfirmed {
		t.Fatalf("unexpected revision %+v", rev)
	}
	if rev.Item != p.Item {
		t.Fatalf("revision should inherit the item")
	}

	// The original stays Finished and, once superseded, cannot reopen again.
	orig, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil || orig.Status != stage.Finished {
		t.Fatalf("original should stay Finished, got %s", orig.Status)
	}
	rev = advanceTo(t, env, rev, stage.Completed)
	if _, err := env.Engine.MarkFinished(env.Ctx, rev.ID, staff); err != nil {
		t.Fatalf("finish revision: %v", err)
	}
	_, err = env.Engine.ReopenAsRevision(env.Ctx, p.ID, "again", staff)
	wantKind(t, err, domain.ErrNotLatestRevision)
}

func TestQuoteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{ProjectType: stage.TypeQuote})
	p = advanceTo(t, env, p, stage.QuoteCompleted)
	if p.Status != stage.QuoteCompleted {
		t.Fatalf("expected quote completion, got %s", p.Status)
	}
	// The quote path has no production stage to gate on.
	p = advanceTo(t, env, p, stage.Completed)
	if _, err := env.Engine.MarkFinished(env.Ctx, p.ID, staff); err != nil {
		t.Fatalf("finish quote: %v", err)
	}
}

func TestConcurrentStatusWriteRejected(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{})

	// Another writer moves the project before this request lands.
	if _, err := env.Engine.DB.Exec(`UPDATE projects SET status=? WHERE id=?`, string(stage.PendingScopeApproval), p.ID); err != nil {
		t.Fatalf("simulate concurrent write: %v", err)
	}
	_, err := env.Engine.TransitionStatus(env.Ctx, p.ID, stage.PendingScopeApproval, staff, false)
	wantKind(t, err, domain.ErrInvalidTransition)

	// The guarded write itself: a stale expected-status never matches.
	tx, err := env.Engine.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	ok, err := env.Engine.Repo.UpdateProjectStatus(env.Ctx, tx, p.ID, stage.OrderConfirmed, stage.ScopeApprovalCompleted, "2026-03-01T12:00:00Z")
	if err != nil {
		t.Fatalf("guarded update: %v", err)
	}
	if ok {
		t.Fatalf("stale expected status must not match")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	p := mustCreate(t, env, engine.ProjectCreateOptions{})
	if _, err := env.Engine.TransitionStatus(env.Ctx, p.ID, stage.PendingScopeApproval, staff, false); err != nil {
		t.Fatalf("transition: %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, p.ID, "project.status.changed", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one status event, got %d", len(events))
	}
}
