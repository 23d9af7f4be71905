// Package layouts holds the page chrome shared by every view and the typed
// context helpers that feed it. Only plain values are stored so this
// package never imports plugin types.
//
// Data flow: middleware -> echo context -> LayoutInjector -> Go context -> views
package layouts

import "context"

type ctxKey string

const (
	keyUserID     ctxKey = "layout_user_id"
	keyUserName   ctxKey = "layout_user_name"
	keyUserEmail  ctxKey = "layout_user_email"
	keyRole       ctxKey = "layout_role"
	keyIsAdmin    ctxKey = "layout_is_admin"
	keyStudyID    ctxKey = "layout_study_id"
	keyStudyName  ctxKey = "layout_study_name"
	keyCSRFToken  ctxKey = "layout_csrf_token"
	keyFlash      ctxKey = "layout_flash"
	keyActivePath ctxKey = "layout_active_path"
)

// User is the signed-in user as the layout sees it.
type User struct {
	ID    string
	Name  string
	Email string
	Role  string
	Admin bool
}

// WithUser stores the signed-in user.
func WithUser(ctx context.Context, u User) context.Context {
	ctx = context.WithValue(ctx, keyUserID, u.ID)
	ctx = context.WithValue(ctx, keyUserName, u.Name)
	ctx = context.WithValue(ctx, keyUserEmail, u.Email)
	ctx = context.WithValue(ctx, keyRole, u.Role)
	return context.WithValue(ctx, keyIsAdmin, u.Admin)
}

// CurrentUser returns the signed-in user and whether there is one.
func CurrentUser(ctx context.Context) (User, bool) {
	id, _ := ctx.Value(keyUserID).(string)
	if id == "" {
		return User{}, false
	}
	u := User{ID: id}
	u.Name, _ = ctx.Value(keyUserName).(string)
	u.Email, _ = ctx.Value(keyUserEmail).(string)
	u.Role, _ = ctx.Value(keyRole).(string)
	u.Admin, _ = ctx.Value(keyIsAdmin).(bool)
	return u, true
}

// WithStudy stores the study the request is scoped to.
func WithStudy(ctx context.Context, id, name string) context.Context {
	ctx = context.WithValue(ctx, keyStudyID, id)
	return context.WithValue(ctx, keyStudyName, name)
}

// Study returns the scoped study, or empty strings.
func Study(ctx context.Context) (id, name string) {
	id, _ = ctx.Value(keyStudyID).(string)
	name, _ = ctx.Value(keyStudyName).(string)
	return id, name
}

func WithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, keyCSRFToken, token)
}

func CSRFToken(ctx context.Context) string {
	s, _ := ctx.Value(keyCSRFToken).(string)
	return s
}

// WithFlash stores a one-shot notice shown above the page body.
func WithFlash(ctx context.Context, msg string) context.Context {
	return context.WithValue(ctx, keyFlash, msg)
}

func Flash(ctx context.Context) string {
	s, _ := ctx.Value(keyFlash).(string)
	return s
}

func WithActivePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, keyActivePath, path)
}

func ActivePath(ctx context.Context) string {
	s, _ := ctx.Value(keyActivePath).(string)
	return s
}
