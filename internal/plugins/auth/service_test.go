package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/policy"
)

// --- Mock Repository ---

type mockUserRepo struct {
	createFn          func(ctx context.Context, user *User) error
	findByIDFn        func(ctx context.Context, id string) (*User, error)
	findByEmailFn     func(ctx context.Context, email string) (*User, error)
	emailExistsFn     func(ctx context.Context, email string) (bool, error)
	nameExistsFn      func(ctx context.Context, name string) (bool, error)
	updateLastLoginFn func(ctx context.Context, id string) error
	approveFn         func(ctx context.Context, id string, role Role) error
	listFn            func(ctx context.Context, pendingOnly bool, offset, limit int) ([]User, int, error)
	adminEmailsFn     func(ctx context.Context) ([]string, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	if m.emailExistsFn != nil {
		return m.emailExistsFn(ctx, email)
	}
	return false, nil
}

func (m *mockUserRepo) NameExists(ctx context.Context, name string) (bool, error) {
	if m.nameExistsFn != nil {
		return m.nameExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) Approve(ctx context.Context, id string, role Role) error {
	if m.approveFn != nil {
		return m.approveFn(ctx, id, role)
	}
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, pendingOnly bool, offset, limit int) ([]User, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, pendingOnly, offset, limit)
	}
	return nil, 0, nil
}

func (m *mockUserRepo) AdminEmails(ctx context.Context) ([]string, error) {
	if m.adminEmailsFn != nil {
		return m.adminEmailsFn(ctx)
	}
	return nil, nil
}

// --- Helpers ---

func newTestService(t *testing.T, repo UserRepository) (AuthService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewAuthService(repo, rdb, time.Hour), mr
}

func assertAppError(t *testing.T, err error, code int) {
	t.Helper()
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != code {
		t.Errorf("expected status %d, got %d (%s)", code, appErr.Code, appErr.Message)
	}
}

func validRegistration() RegisterRequest {
	return RegisterRequest{
		Email:         "  Ann@Example.org ",
		Name:          "Ann Fisher",
		Organization:  "GLFC",
		Password:      "correct horse",
		Confirm:       "correct horse",
		RequestedRole: "Researcher",
	}
}

func approvedUser(t *testing.T, password string) *User {
	t.Helper()
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	return &User{ID: "u1", Email: "ann@example.org", Name: "Ann", PasswordHash: hash, Role: RoleInvestigator, Approved: true}
}

// --- Roles ---

func TestRoles_Ordering(t *testing.T) {
	prev := -1
	for _, r := range Roles {
		if r.Level() <= prev {
			t.Errorf("role %s level %d not above %d", r, r.Level(), prev)
		}
		prev = r.Level()
	}
	if RoleAdmin.Level() != policy.LevelAdmin {
		t.Errorf("admin level = %d", RoleAdmin.Level())
	}
	if Role("pirate").Level() != policy.LevelGuest {
		t.Error("unknown roles should be guests")
	}
}

func TestRegisterableRoles(t *testing.T) {
	if RoleAdmin.Registerable() || RoleGuest.Registerable() {
		t.Error("admin and guest must not be registerable")
	}
	if !RoleInvestigator.Registerable() {
		t.Error("investigator should be registerable")
	}
}

func TestValidEmail(t *testing.T) {
	good := []string{"a@b.co", "first.last+tag@sub.example.org", "UPPER@EXAMPLE.COM"}
	bad := []string{"", "plain", "a@b", "a@b.c", "@example.com", "a b@example.com"}
	for _, e := range good {
		if !ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = false", e)
		}
	}
	for _, e := range bad {
		if ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = true", e)
		}
	}
}

func TestSessionActor(t *testing.T) {
	var nilSession *Session
	if a := nilSession.Actor(); a.ID != "" || a.Level != policy.LevelGuest {
		t.Errorf("nil session actor = %+v", a)
	}
	s := &Session{UserID: "u1", Role: RoleResearcher}
	if a := s.Actor(); a.ID != "u1" || a.Level != policy.LevelResearcher {
		t.Errorf("actor = %+v", a)
	}
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	var created *User
	svc, _ := newTestService(t, &mockUserRepo{createFn: func(_ context.Context, u *User) error {
		created = u
		return nil
	}})

	user, err := svc.Register(context.Background(), validRegistration())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected repository Create to be called")
	}
	if user.Email != "ann@example.org" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if user.Approved || user.Role != RoleGuest {
		t.Errorf("new users must be unapproved guests, got approved=%v role=%s", user.Approved, user.Role)
	}
	if user.RequestedRole != RoleResearcher {
		t.Errorf("requested role = %s", user.RequestedRole)
	}
	if !strings.HasPrefix(user.PasswordHash, "$argon2id$") {
		t.Errorf("unexpected hash format %q", user.PasswordHash)
	}
	if len(user.ID) != 36 {
		t.Errorf("expected UUID id, got %q", user.ID)
	}
}

func TestRegister_ValidationErrors(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{})

	req := validRegistration()
	req.Email = "not-an-email"
	req.Confirm = "different"
	req.RequestedRole = "admin"

	_, err := svc.Register(context.Background(), req)
	assertAppError(t, err, http.StatusUnprocessableEntity)

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	for _, field := range []string{"email", "confirm", "requested_role"} {
		if appErr.Fields[field] == "" {
			t.Errorf("expected error for %s, got %v", field, appErr.Fields)
		}
	}
}

func TestRegister_DefaultsRequestedRole(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{})
	req := validRegistration()
	req.RequestedRole = ""

	user, err := svc.Register(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if user.RequestedRole != RoleGeneral {
		t.Errorf("requested role = %s, want general", user.RequestedRole)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{emailExistsFn: func(context.Context, string) (bool, error) {
		return true, nil
	}})
	_, err := svc.Register(context.Background(), validRegistration())
	assertAppError(t, err, http.StatusUnprocessableEntity)
}

func TestRegister_DuplicateName(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{nameExistsFn: func(context.Context, string) (bool, error) {
		return true, nil
	}})
	_, err := svc.Register(context.Background(), validRegistration())
	assertAppError(t, err, http.StatusUnprocessableEntity)
}

func TestRegister_CreateConflictPassesThrough(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{createFn: func(context.Context, *User) error {
		return apperror.NewConflict("an account with this email or name already exists")
	}})
	_, err := svc.Register(context.Background(), validRegistration())
	assertAppError(t, err, http.StatusConflict)
}

func TestRegister_CreateError(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{createFn: func(context.Context, *User) error {
		return errors.New("db down")
	}})
	_, err := svc.Register(context.Background(), validRegistration())
	assertAppError(t, err, http.StatusInternalServerError)
}

// --- Login ---

func TestLogin_Success(t *testing.T) {
	user := approvedUser(t, "secret-pass")
	svc, mr := newTestService(t, &mockUserRepo{findByEmailFn: func(context.Context, string) (*User, error) {
		return user, nil
	}})

	token, got, err := svc.Login(context.Background(), LoginRequest{Email: "ann@example.org", Password: "secret-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "u1" || token == "" {
		t.Fatalf("unexpected login result %q %+v", token, got)
	}
	if !mr.Exists(sessionKeyPrefix + token) {
		t.Error("expected session key in redis")
	}
	if ttl := mr.TTL(sessionKeyPrefix + token); ttl != time.Hour {
		t.Errorf("session ttl = %s", ttl)
	}

	session, err := svc.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if session.UserID != "u1" || session.Role != RoleInvestigator {
		t.Errorf("unexpected session %+v", session)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{})
	_, _, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.org", Password: "x"})
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestLogin_WrongPassword(t *testing.T) {
	user := approvedUser(t, "secret-pass")
	svc, _ := newTestService(t, &mockUserRepo{findByEmailFn: func(context.Context, string) (*User, error) {
		return user, nil
	}})
	_, _, err := svc.Login(context.Background(), LoginRequest{Email: user.Email, Password: "wrong"})
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestLogin_UnapprovedDenied(t *testing.T) {
	user := approvedUser(t, "secret-pass")
	user.Approved = false
	svc, mr := newTestService(t, &mockUserRepo{findByEmailFn: func(context.Context, string) (*User, error) {
		return user, nil
	}})
	_, _, err := svc.Login(context.Background(), LoginRequest{Email: user.Email, Password: "secret-pass"})
	assertAppError(t, err, http.StatusForbidden)
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("no session should be created, found %v", keys)
	}
}

func TestLogin_LastLoginFailureIsNotFatal(t *testing.T) {
	user := approvedUser(t, "secret-pass")
	svc, _ := newTestService(t, &mockUserRepo{
		findByEmailFn:     func(context.Context, string) (*User, error) { return user, nil },
		updateLastLoginFn: func(context.Context, string) error { return errors.New("db down") },
	})
	if _, _, err := svc.Login(context.Background(), LoginRequest{Email: user.Email, Password: "secret-pass"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Sessions ---

func TestValidateSession_Missing(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{})
	_, err := svc.ValidateSession(context.Background(), "nope")
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestDestroySession(t *testing.T) {
	svc, mr := newTestService(t, &mockUserRepo{})
	if err := mr.Set(sessionKeyPrefix+"tok", `{"user_id":"u1"}`); err != nil {
		t.Fatal(err)
	}
	if err := svc.DestroySession(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(sessionKeyPrefix + "tok") {
		t.Error("session should be deleted")
	}
}

// --- Approve ---

func TestApprove_GrantsRequestedRole(t *testing.T) {
	var gotRole Role
	svc, _ := newTestService(t, &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) {
			return &User{ID: "u2", Role: RoleGuest, RequestedRole: RoleInvestigator}, nil
		},
		approveFn: func(_ context.Context, _ string, role Role) error {
			gotRole = role
			return nil
		},
	})

	user, err := svc.Approve(context.Background(), "u2", "")
	if err != nil {
		t.Fatal(err)
	}
	if gotRole != RoleInvestigator || !user.Approved || user.Role != RoleInvestigator {
		t.Errorf("unexpected approval: repo role %s, user %+v", gotRole, user)
	}
}

func TestApprove_ExplicitRole(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) {
			return &User{ID: "u2", RequestedRole: RoleInvestigator}, nil
		},
	})
	user, err := svc.Approve(context.Background(), "u2", RoleGeneral)
	if err != nil {
		t.Fatal(err)
	}
	if user.Role != RoleGeneral {
		t.Errorf("role = %s, want general", user.Role)
	}
}

func TestApprove_InvalidRole(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{
		findByIDFn: func(context.Context, string) (*User, error) {
			return &User{ID: "u2", RequestedRole: Role("captain")}, nil
		},
	})
	_, err := svc.Approve(context.Background(), "u2", "")
	assertAppError(t, err, http.StatusUnprocessableEntity)
}

func TestApprove_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t, &mockUserRepo{})
	_, err := svc.Approve(context.Background(), "missing", RoleGeneral)
	assertAppError(t, err, http.StatusNotFound)
}

// --- Passwords ---

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := hashPassword("tagged-sturgeon")
	if err != nil {
		t.Fatal(err)
	}
	if !verifyPassword("tagged-sturgeon", hash) {
		t.Error("expected password to verify")
	}
	if verifyPassword("tagged-salmon", hash) {
		t.Error("wrong password verified")
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	for _, h := range []string{"", "plaintext", "$bcrypt$x$y$z$w", "$argon2id$v=19$m=x$salt$hash"} {
		if verifyPassword("pw", h) {
			t.Errorf("verifyPassword accepted %q", h)
		}
	}
}
