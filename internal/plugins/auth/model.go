// Package auth handles accounts, the approval gate and sessions. Passwords
// are hashed with argon2id; sessions live in Redis under "session:<token>".
// New accounts start unapproved and cannot sign in until an admin grants
// them a role.
package auth

import (
	"regexp"
	"strings"
	"time"

	"github.com/asascience/matos/internal/policy"
)

// Role is a user's privilege level. Roles are totally ordered.
type Role string

const (
	RoleGuest        Role = "guest"
	RoleGeneral      Role = "general"
	RoleResearcher   Role = "researcher"
	RoleInvestigator Role = "investigator"
	RoleAdmin        Role = "admin"
)

// Roles lists every role in ascending order.
var Roles = []Role{RoleGuest, RoleGeneral, RoleResearcher, RoleInvestigator, RoleAdmin}

// RegisterableRoles are the roles a visitor may request when signing up.
var RegisterableRoles = []Role{RoleGeneral, RoleResearcher, RoleInvestigator}

var roleDescriptions = map[Role]string{
	RoleGuest:        "Unregistered visitor to the site",
	RoleGeneral:      "Registered user of the MATOS website",
	RoleResearcher:   "Researcher interested in MATOS data",
	RoleInvestigator: "Contributor to the MATOS database",
	RoleAdmin:        "Administrator of the MATOS website",
}

// ParseRole normalizes s and reports whether it names a role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of Roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Registerable reports whether r may be requested at sign-up.
func (r Role) Registerable() bool {
	for _, known := range RegisterableRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Level maps r onto the policy levels. Unknown roles are guests.
func (r Role) Level() int {
	switch r {
	case RoleGeneral:
		return policy.LevelGeneral
	case RoleResearcher:
		return policy.LevelResearcher
	case RoleInvestigator:
		return policy.LevelInvestigator
	case RoleAdmin:
		return policy.LevelAdmin
	default:
		return policy.LevelGuest
	}
}

// Description is the human-readable meaning of r.
func (r Role) Description() string { return roleDescriptions[r] }

// emailPattern is the address format accepted for users and reports.
var emailPattern = regexp.MustCompile(`(?i)^([\w.%+\-]+)@([\w\-]+\.)+(\w{2,})$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool { return emailPattern.MatchString(s) }

// User is a registered account.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Organization  string     `json:"organization"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	RequestedRole Role       `json:"requested_role"`
	Approved      bool       `json:"approved"`
	Phone         string     `json:"phone,omitempty"`
	Address       string     `json:"address,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state,omitempty"`
	Zip           string     `json:"zip,omitempty"`
	Country       string     `json:"country,omitempty"`
	Newsletter    bool       `json:"newsletter"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

// DTRowID is the row id DataTables uses for the user admin grid.
func (u User) DTRowID() string { return u.ID }

// IsAdmin reports whether u holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// RegisterRequest is bound from the sign-up form.
type RegisterRequest struct {
	Email         string `json:"email" form:"email"`
	Name          string `json:"name" form:"name"`
	Organization  string `json:"organization" form:"organization"`
	Password      string `json:"password" form:"password"`
	Confirm       string `json:"confirm" form:"confirm"`
	RequestedRole string `json:"requested_role" form:"requested_role"`
	Phone         string `json:"phone" form:"phone"`
	Address       string `json:"address" form:"address"`
	City          string `json:"city" form:"city"`
	State         string `json:"state" form:"state"`
	Zip           string `json:"zip" form:"zip"`
	Country       string `json:"country" form:"country"`
	Newsletter    bool   `json:"newsletter" form:"newsletter"`
}

// LoginRequest is bound from the sign-in form.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Session is the JSON value stored in Redis for a signed-in user.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the session belongs to an admin.
func (s *Session) IsAdmin() bool { return s != nil && s.Role == RoleAdmin }

// Actor converts the session into a policy actor. A nil session is the
// anonymous guest.
func (s *Session) Actor() policy.Actor {
	if s == nil {
		return policy.Actor{}
	}
	return policy.Actor{ID: s.UserID, Level: s.Role.Level()}
}
