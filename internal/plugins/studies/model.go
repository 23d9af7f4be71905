// Package studies owns research studies and their collaborators. A study
// is the tenant boundary: tags, deployments and submissions belong to one,
// and every scoped permission check is made against its owner and
// collaborator lists.
package studies

import (
	"time"

	"github.com/asascience/matos/internal/policy"
)

// CollaboratorRole is a collaborator's access level within one study.
type CollaboratorRole string

const (
	CollaboratorRead   CollaboratorRole = "read"
	CollaboratorManage CollaboratorRole = "manage"
)

// Valid reports whether r is a known collaborator role.
func (r CollaboratorRole) Valid() bool {
	return r == CollaboratorRead || r == CollaboratorManage
}

// Study is a tagging study.
type Study struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	OwnerName   string    `json:"owner_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Collaborator grants a user access to a study.
type Collaborator struct {
	StudyID   string           `json:"study_id"`
	UserID    string           `json:"user_id"`
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	Role      CollaboratorRole `json:"role"`
	CreatedAt time.Time        `json:"created_at"`
}

// StudyContext is the resolved study attached to a request by LoadStudy.
type StudyContext struct {
	Study         *Study         `json:"study"`
	Collaborators []Collaborator `json:"collaborators"`
}

// Resource describes the study's ownership for policy checks.
func (sc *StudyContext) Resource() policy.Resource {
	res := policy.Resource{Scoped: true, OwnerID: sc.Study.OwnerID}
	for _, c := range sc.Collaborators {
		switch c.Role {
		case CollaboratorManage:
			res.Managers = append(res.Managers, c.UserID)
		case CollaboratorRead:
			res.Readers = append(res.Readers, c.UserID)
		}
	}
	return res
}

// CreateStudyRequest is bound from the new-study form.
type CreateStudyRequest struct {
	Name        string `json:"name" form:"name"`
	Description string `json:"description" form:"description"`
}

// AddCollaboratorRequest is bound from the collaborator form.
type AddCollaboratorRequest struct {
	Email string `json:"email" form:"email"`
	Role  string `json:"role" form:"role"`
}

// MemberUser is the slice of a user account this package needs.
type MemberUser struct {
	ID    string
	Email string
	Name  string
}
