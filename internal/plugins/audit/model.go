// Package audit records who changed what: report edits, deployment and
// submission mutations, and user approvals. Entries are append-only and
// never block the operation being recorded.
package audit

import "time"

// Actions follow "resource.verb".
const (
	ActionReportCreated       = "report.created"
	ActionReportUpdated       = "report.updated"
	ActionReportDeleted       = "report.deleted"
	ActionDeploymentCreated   = "deployment.created"
	ActionDeploymentDeleted   = "deployment.deleted"
	ActionSubmissionCreated   = "submission.created"
	ActionSubmissionProcessed = "submission.processed"
	ActionSubmissionFailed    = "submission.failed"
	ActionSubmissionDeleted   = "submission.deleted"
	ActionStudyCreated        = "study.created"
	ActionCollaboratorAdded   = "study.collaborator_added"
	ActionUserApproved        = "user.approved"
)

// Entry is one audit record. StudyID and ActorID are empty for global
// resources and anonymous actors respectively.
type Entry struct {
	ID           int64          `json:"id"`
	StudyID      string         `json:"study_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`

	// ActorName is joined from users at query time.
	ActorName string `json:"actor_name,omitempty"`
}

// Filter narrows a listing.
type Filter struct {
	StudyID string
	Action  string
}
