package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/argon2"

	"github.com/asascience/matos/internal/apperror"
)

const sessionKeyPrefix = "session:"

const sessionTokenBytes = 32

// argon2id parameters (OWASP: 64MB, 3 passes, 4 lanes).
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

const usersPerPage = 50

// AuthService is the account and session contract used by handlers,
// middleware and the CLI.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (token string, user *User, err error)
	ValidateSession(ctx context.Context, token string) (*Session, error)
	DestroySession(ctx context.Context, token string) error

	GetUser(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, pendingOnly bool, page int) ([]User, int, error)

	// Approve activates an account with role, or with the account's
	// requested role when role is empty.
	Approve(ctx context.Context, userID string, role Role) (*User, error)

	// AdminEmails lists approved admins for report notifications.
	AdminEmails(ctx context.Context) ([]string, error)
}

type authService struct {
	repo       UserRepository
	redis      *redis.Client
	sessionTTL time.Duration
}

// NewAuthService wires the service to its repository and Redis.
func NewAuthService(repo UserRepository, rdb *redis.Client, sessionTTL time.Duration) AuthService {
	return &authService{repo: repo, redis: rdb, sessionTTL: sessionTTL}
}

// validateRegistration returns field errors for a sign-up request.
func validateRegistration(req *RegisterRequest) map[string]string {
	errs := map[string]string{}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	if req.Email == "" {
		errs["email"] = "can't be blank"
	} else if !ValidEmail(req.Email) {
		errs["email"] = "invalid email address"
	}
	if req.Name == "" {
		errs["name"] = "can't be blank"
	}
	switch {
	case len(req.Password) < 8:
		errs["password"] = "must be at least 8 characters"
	case len(req.Password) > 128:
		errs["password"] = "must be at most 128 characters"
	case req.Confirm != req.Password:
		errs["confirm"] = "doesn't match password"
	}
	if req.RequestedRole == "" {
		req.RequestedRole = string(RoleGeneral)
	}
	if r, ok := ParseRole(req.RequestedRole); !ok || !r.Registerable() {
		errs["requested_role"] = fmt.Sprintf("%s is not a role you can request", req.RequestedRole)
	}
	return errs
}

// Register creates an unapproved guest account holding the requested role
// until an admin approves it.
func (s *authService) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if errs := validateRegistration(&req); len(errs) > 0 {
		return nil, apperror.NewFieldValidation(errs)
	}

	exists, err := s.repo.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewFieldValidation(map[string]string{"email": "has already been taken"})
	}
	exists, err = s.repo.NameExists(ctx, req.Name)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking name: %w", err))
	}
	if exists {
		return nil, apperror.NewFieldValidation(map[string]string{"name": "has already been taken"})
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	requested, _ := ParseRole(req.RequestedRole)
	user := &User{
		ID:            uuid.NewString(),
		Email:         req.Email,
		Name:          req.Name,
		Organization:  strings.TrimSpace(req.Organization),
		PasswordHash:  hash,
		Role:          RoleGuest,
		RequestedRole: requested,
		Phone:         strings.TrimSpace(req.Phone),
		Address:       strings.TrimSpace(req.Address),
		City:          strings.TrimSpace(req.City),
		State:         strings.TrimSpace(req.State),
		Zip:           strings.TrimSpace(req.Zip),
		Country:       strings.TrimSpace(req.Country),
		Newsletter:    req.Newsletter,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("requested_role", string(user.RequestedRole)),
	)
	return user, nil
}

// Login checks the password first so the approval state of an account is
// only revealed to someone who knows its password.
func (s *authService) Login(ctx context.Context, req LoginRequest) (string, *User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if apperror.IsNotFound(err) {
			return "", nil, apperror.NewUnauthorized("invalid email or password")
		}
		return "", nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !verifyPassword(req.Password, user.PasswordHash) {
		return "", nil, apperror.NewUnauthorized("invalid email or password")
	}
	if !user.Approved {
		return "", nil, apperror.NewForbidden("your account has not been approved by an administrator yet")
	}

	token, err := s.createSession(ctx, user)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return token, user, nil
}

func (s *authService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.NewUnauthorized("session expired or invalid")
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading session: %w", err))
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("decoding session: %w", err))
	}
	return &session, nil
}

func (s *authService) DestroySession(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting session: %w", err))
	}
	return nil
}

func (s *authService) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *authService) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.FindByEmail(ctx, strings.TrimSpace(email))
}

func (s *authService) ListUsers(ctx context.Context, pendingOnly bool, page int) ([]User, int, error) {
	if page < 1 {
		page = 1
	}
	users, total, err := s.repo.List(ctx, pendingOnly, (page-1)*usersPerPage, usersPerPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(err)
	}
	return users, total, nil
}

func (s *authService) Approve(ctx context.Context, userID string, role Role) (*User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if role == "" {
		role = user.RequestedRole
	}
	if !role.Valid() {
		return nil, apperror.NewFieldValidation(map[string]string{"role": fmt.Sprintf("%s is not a valid role", role)})
	}

	if err := s.repo.Approve(ctx, user.ID, role); err != nil {
		return nil, err
	}
	user.Approved = true
	user.Role = role

	slog.Info("user approved",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
	)
	return user, nil
}

func (s *authService) AdminEmails(ctx context.Context) ([]string, error) {
	emails, err := s.repo.AdminEmails(ctx)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return emails, nil
}

func (s *authService) createSession(ctx context.Context, user *User) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	data, err := json.Marshal(Session{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding session: %w", err)
	}

	if err := s.redis.Set(ctx, sessionKeyPrefix+token, data, s.sessionTTL).Err(); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return token, nil
}

// hashPassword returns a PHC-format argon2id hash:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// HashPassword exposes hashing to the CLI for seeding accounts.
func HashPassword(password string) (string, error) { return hashPassword(password) }

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1
}

func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
