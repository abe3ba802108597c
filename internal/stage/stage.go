// Package stage owns the closed status enumerations for each project type,
// the transition tables derived from them, and the static department stage
// table. Everything else in the codebase consults this package instead of
// comparing status strings ad hoc.
package stage

import "fmt"

// Status is a project lifecycle stage.
type Status string

const (
	OrderConfirmed                 Status = "Order Confirmed"
	PendingScopeApproval           Status = "Pending Scope Approval"
	ScopeApprovalCompleted         Status = "Scope Approval Completed"
	PendingDepartmentalEngagement  Status = "Pending Departmental Engagement"
	DepartmentalEngagementComplete Status = "Departmental Engagement Completed"
	PendingMockup                  Status = "Pending Mockup"
	MockupCompleted                Status = "Mockup Completed"
	PendingProduction              Status = "Pending Production"
	ProductionCompleted            Status = "Production Completed"
	PendingQualityControl          Status = "Pending Quality Control"
	QualityControlCompleted        Status = "Quality Control Completed"
	PendingPackaging               Status = "Pending Packaging"
	PackagingCompleted             Status = "Packaging Completed"
	PendingDelivery                Status = "Pending Delivery/Pickup"
	Delivered                      Status = "Delivered"
	PendingFeedback                Status = "Pending Feedback"
	FeedbackCompleted              Status = "Feedback Completed"
	Completed                      Status = "Completed"
	Finished                       Status = "Finished"

	PendingQuote   Status = "Pending Quote"
	QuoteCompleted Status = "Quote Completed"
)

// ProjectType selects which enumeration applies to a project.
type ProjectType string

const (
	TypeStandard  ProjectType = "Standard"
	TypeEmergency ProjectType = "Emergency"
	TypeQuote     ProjectType = "Quote"
	TypeCorporate ProjectType = "Corporate Job"
)

// Priority of a project.
type Priority string

const (
	PriorityNormal Priority = "Normal"
	PriorityUrgent Priority = "Urgent"
)

var fullSequence = []Status{
	OrderConfirmed,
	PendingScopeApproval,
	ScopeApprovalCompleted,
	PendingDepartmentalEngagement,
	DepartmentalEngagementComplete,
	PendingMockup,
	MockupCompleted,
	PendingProduction,
	ProductionCompleted,
	PendingQualityControl,
	QualityControlCompleted,
	PendingPackaging,
	PackagingCompleted,
	PendingDelivery,
	Delivered,
	PendingFeedback,
	FeedbackCompleted,
	Completed,
	Finished,
}

var quoteSequence = []Status{
	OrderConfirmed,
	PendingScopeApproval,
	ScopeApprovalCompleted,
	PendingQuote,
	QuoteCompleted,
	Delivered,
	PendingFeedback,
	FeedbackCompleted,
	Completed,
	Finished,
}

// Sequence returns the ordered enumeration for a project type.
func Sequence(pt ProjectType) []Status {
	if pt == TypeQuote {
		return quoteSequence
	}
	return fullSequence
}

// ValidType reports whether pt is a known project type.
func ValidType(pt ProjectType) bool {
	switch pt {
	case TypeStandard, TypeEmergency, TypeQuote, TypeCorporate:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	return p == PriorityNormal || p == PriorityUrgent
}

// DefaultPriority for a project type. Emergency jobs default Urgent.
func DefaultPriority(pt ProjectType) Priority {
	if pt == TypeEmergency {
		return PriorityUrgent
	}
	return PriorityNormal
}

// Index returns the position of s in the type's enumeration, or -1.
func Index(pt ProjectType, s Status) int {
	for i, candidate := range Sequence(pt) {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s belongs to the type's enumeration.
func Valid(pt ProjectType, s Status) bool {
	return Index(pt, s) >= 0
}

// Next returns the status after s in the enumeration, if any.
func Next(pt ProjectType, s Status) (Status, bool) {
	seq := Sequence(pt)
	for i, candidate := range seq {
		if candidate == s && i+1 < len(seq) {
			return seq[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is the legal forward step for the
// type. Finished is excluded here; archiving Completed projects is a separate
// explicit action.
func CanTransition(pt ProjectType, from, to Status) bool {
	if to == Finished {
		return false
	}
	next, ok := Next(pt, from)
	return ok && next == to
}

// AtOrAfter reports whether current has reached at least the marker status.
func AtOrAfter(pt ProjectType, current, marker Status) bool {
	ci, mi := Index(pt, current), Index(pt, marker)
	return ci >= 0 && mi >= 0 && ci >= mi
}

// Department identifies a production sub-department.
type Department string

const (
	DeptGraphics   Department = "graphics"
	DeptProduction Department = "production"
	DeptPackaging  Department = "packaging"
)

// StagePair is a department's pending/complete status pair.
type StagePair struct {
	Pending  Status
	Complete Status
}

// departmentStages is the single static table mapping each department to its
// pending/complete statuses. Callers consume it; nothing redefines it.
var departmentStages = map[Department]StagePair{
	DeptGraphics:   {Pending: PendingMockup, Complete: MockupCompleted},
	DeptProduction: {Pending: PendingProduction, Complete: ProductionCompleted},
	DeptPackaging:  {Pending: PendingPackaging, Complete: PackagingCompleted},
}

// DepartmentStages returns the pending/complete pair for a department.
func DepartmentStages(d Department) (StagePair, bool) {
	p, ok := departmentStages[d]
	return p, ok
}

// DepartmentForCompletion returns the department whose completion status is s,
// if s is a department-owned stage-complete status.
func DepartmentForCompletion(s Status) (Department, bool) {
	for d, pair := range departmentStages {
		if pair.Complete == s {
			return d, true
		}
	}
	return "", false
}

// Departments lists the known departments in a stable order.
func Departments() []Department {
	return []Department{DeptGraphics, DeptProduction, DeptPackaging}
}

// ValidDepartment reports whether d is in the department table.
func ValidDepartment(d Department) bool {
	_, ok := departmentStages[d]
	return ok
}

// CanAcknowledge reports whether acknowledgements are open at the current
// status: scope approval must be completed, and the project must not be
// archived.
func CanAcknowledge(pt ProjectType, current Status) bool {
	return AtOrAfter(pt, current, ScopeApprovalCompleted) && current != Finished
}

// String implements fmt.Stringer for nicer CLI output.
func (s Status) String() string { return string(s) }

func (d Department) String() string { return string(d) }

// Parse validates a raw status string against the type's enumeration.
func Parse(pt ProjectType, raw string) (Status, error) {
	s := Status(raw)
	if !Valid(pt, s) {
		return "", fmt.Errorf("unknown status %q for project type %s", raw, pt)
	}
	return s, nil
}
