package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"lexremind/internal/auth"
	"lexremind/internal/config"
	"lexremind/internal/directory"
	"lexremind/internal/models"
	"lexremind/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
)

// ErrValidation marks request-shape failures. Handlers map anything wrapping
// it to a 400 with the wrapped message.
var ErrValidation = errors.New("validation failed")

// ErrNoRecipients is returned by reminder scheduling when the record has no
// one to notify.
var ErrNoRecipients = errors.New("record has no recipients")

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

type Service struct {
	cfg config.Config
	st  *store.Store
	dir directory.Directory
}

func New(cfg config.Config, st *store.Store, dir directory.Directory) *Service {
	if dir == nil {
		dir = directory.NoDirectory{}
	}
	return &Service{cfg: cfg, st: st, dir: dir}
}

func (s *Service) Store() *store.Store { return s.st }

func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (rawToken string, user models.User, err error) {
	u, err := s.st.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", models.User{}, ErrInvalidCredentials
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return "", models.User{}, ErrInvalidCredentials
	}

	raw, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		return "", models.User{}, err
	}

	now := time.Now().UTC()
	sess := models.Session{
		ID:            uuid.NewString(),
		UserID:        u.ID,
		TokenHash:     tokenHash,
		IPHint:        ip,
		UserAgentHash: auth.HashToken(userAgent),
		ExpiresAt:     now.Add(s.cfg.SessionAbsoluteDuration()),
		IdleExpiresAt: now.Add(s.cfg.SessionIdleDuration()),
		CreatedAt:     now,
		LastSeenAt:    now,
	}
	if err := s.st.CreateSession(ctx, sess); err != nil {
		return "", models.User{}, err
	}
	_ = s.st.TouchUserLastLogin(ctx, u.ID, now)
	return raw, u, nil
}

func (s *Service) ValidateSession(ctx context.Context, rawToken string) (models.User, models.Session, error) {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if sess.RevokedAt != nil || now.After(sess.ExpiresAt) || now.After(sess.IdleExpiresAt) {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	_ = s.st.TouchSession(ctx, sess.ID, now.Add(s.cfg.SessionIdleDuration()))

	u, err := s.st.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	return u, sess, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return nil
	}
	return s.st.RevokeSession(ctx, sess.ID)
}

func (s *Service) CreateUser(ctx context.Context, adminID, email, name, password, role string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if _, err := netmail.ParseAddress(email); err != nil {
		return models.User{}, validationf("invalid email address")
	}
	if name == "" {
		return models.User{}, validationf("name is required")
	}
	switch role {
	case "staff", "admin":
	default:
		return models.User{}, validationf("role must be staff or admin")
	}
	if err := s.ValidatePassword(password); err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	u, err := s.st.CreateUser(ctx, email, name, hash, role)
	if err != nil {
		return models.User{}, err
	}
	meta, _ := json.Marshal(map[string]string{"email": email, "role": role})
	_ = s.st.InsertAudit(ctx, adminID, "user.create", u.ID, string(meta))
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	return s.st.ListUsers(ctx, limit, offset)
}

func (s *Service) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	return s.st.ListAudit(ctx, limit, offset)
}

func (s *Service) ValidatePassword(pw string) error {
	if len(pw) < s.cfg.PasswordMinLength {
		return validationf("password must be at least %d characters", s.cfg.PasswordMinLength)
	}
	if len(pw) > s.cfg.PasswordMaxLength {
		return validationf("password must be at most %d characters", s.cfg.PasswordMaxLength)
	}
	return nil
}
