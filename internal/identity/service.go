// Package identity registers users, authenticates them and manages
// credentials and profiles.
package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/auth"
	"campusattend/internal/model"
	"campusattend/internal/notify"
	"campusattend/internal/repo"
)

// Config controls token issuance and hashing.
type Config struct {
	Issuer        string
	SigningKey    string
	AccessTTL     time.Duration
	ResetTokenTTL time.Duration
	// BcryptCost of 0 selects bcrypt.DefaultCost.
	BcryptCost int
}

// Service implements the shared account endpoints.
type Service struct {
	store  repo.Store
	mailer notify.Mailer
	cfg    Config
	log    *slog.Logger

	Now func() time.Time
}

// NewService builds the identity service. mailer may be nil.
func NewService(store repo.Store, mailer notify.Mailer, cfg Config, logger *slog.Logger) *Service {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, mailer: mailer, cfg: cfg, log: logger, Now: time.Now}
}

// Registration is the input of Register. Year and Branch apply to students,
// Department to faculty; the others are ignored.
type Registration struct {
	UserID     string
	Name       string
	Role       string
	Email      string
	Password   string
	Year       string
	Branch     string
	Department string
}

const (
	msgStudentFields = "Year and branch are required for students."
	msgFacultyFields = "Department is required for faculty."
)

func logActivity(ctx context.Context, r repo.Repos, userID, kind, details string, at time.Time) error {
	return r.Activity.Insert(ctx, &model.Activity{UserID: userID, Type: kind, Details: details, Timestamp: at})
}

func (s *Service) passwordProblem(password string, userInputs ...string) error {
	if len(password) > MaxPasswordBytes {
		return apperr.Validation(fmt.Sprintf("Password must be at most %d bytes.", MaxPasswordBytes))
	}
	if !ValidPassword(password) {
		return apperr.Validation("Password does not meet complexity requirements.")
	}
	if ok, suggestions := CheckStrength(password, userInputs...); !ok {
		return apperr.WeakPassword("Password is not strong enough", suggestions)
	}
	return nil
}

// Register creates a student or faculty account.
func (s *Service) Register(ctx context.Context, in Registration) (*model.User, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Email = strings.TrimSpace(in.Email)
	if in.UserID == "" {
		return nil, apperr.Validation("User ID is required.")
	}
	var created *model.User
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		existing, err := r.Users.GetByUserID(ctx, in.UserID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if existing != nil {
			return apperr.Validation("User ID already exists.")
		}
		role, ok := model.ParseRole(in.Role)
		if !ok {
			return apperr.Validation("Role must be student or faculty.")
		}
		if err := s.passwordProblem(in.Password, in.UserID, in.Name, in.Email); err != nil {
			return err
		}
		var profile model.Profile
		switch role {
		case model.RoleStudent:
			if strings.TrimSpace(in.Year) == "" || strings.TrimSpace(in.Branch) == "" {
				return apperr.Validation(msgStudentFields)
			}
			profile = model.Student{Year: in.Year, Branch: in.Branch}
		case model.RoleFaculty:
			if strings.TrimSpace(in.Department) == "" {
				return apperr.Validation(msgFacultyFields)
			}
			profile = model.Faculty{Department: in.Department}
		}
		if in.Name == "" || in.Email == "" {
			return apperr.Validation("Name and email are required.")
		}
		dup, err := r.Users.GetByEmail(ctx, in.Email)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if dup != nil {
			return apperr.Validation("Email already registered.")
		}
		hash, err := HashPassword(in.Password, s.cfg.BcryptCost)
		if err != nil {
			return apperr.Unexpected(err)
		}
		now := s.Now().UTC()
		u := &model.User{
			UserID:       in.UserID,
			Name:         in.Name,
			Email:        in.Email,
			PasswordHash: hash,
			Profile:      profile,
			CreatedAt:    now,
		}
		if err := r.Users.Create(ctx, u); err != nil {
			return apperr.Unexpected(err)
		}
		if err := logActivity(ctx, r, u.UserID, "register", "", now); err != nil {
			return apperr.Unexpected(err)
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", created.UserID, "role", created.Role())
	return created, nil
}

// Login verifies credentials. username may be a user id or an email address.
func (s *Service) Login(ctx context.Context, username, password string) (auth.Token, *model.User, error) {
	if username == "" || password == "" {
		return auth.Token{}, nil, apperr.Validation("Missing username or password")
	}
	var user *model.User
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		u, err := r.Users.GetByUserID(ctx, username)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if u == nil && strings.Contains(username, "@") {
			if u, err = r.Users.GetByEmail(ctx, username); err != nil {
				return apperr.Unexpected(err)
			}
		}
		if u == nil || !CheckPassword(u.PasswordHash, password) {
			return apperr.Unauthorized("Invalid username or password")
		}
		if err := logActivity(ctx, r, u.UserID, "login", "", s.Now().UTC()); err != nil {
			return apperr.Unexpected(err)
		}
		user = u
		return nil
	})
	if err != nil {
		return auth.Token{}, nil, err
	}
	tok, err := s.issue(user)
	if err != nil {
		return auth.Token{}, nil, err
	}
	return tok, user, nil
}

// Refresh issues a new token for an authenticated user.
func (s *Service) Refresh(ctx context.Context, userID string) (auth.Token, error) {
	var user *model.User
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		if user, err = r.Users.GetByUserID(ctx, userID); err != nil {
			return apperr.Unexpected(err)
		}
		if user == nil {
			return apperr.Unauthorized("Invalid or expired token.")
		}
		return nil
	})
	if err != nil {
		return auth.Token{}, err
	}
	return s.issue(user)
}

func (s *Service) issue(u *model.User) (auth.Token, error) {
	tok, err := auth.Issue(u.UserID, string(u.Role()), s.cfg.Issuer, s.cfg.SigningKey, s.cfg.AccessTTL, s.Now())
	if err != nil {
		return auth.Token{}, apperr.Unexpected(fmt.Errorf("issue token: %w", err))
	}
	return tok, nil
}

// ForgotPassword stores a fresh reset token for userID, mails it, and
// returns it.
func (s *Service) ForgotPassword(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", apperr.Validation("User ID is required.")
	}
	token, err := newResetToken()
	if err != nil {
		return "", apperr.Unexpected(err)
	}
	var email string
	err = s.store.WithTx(ctx, func(r repo.Repos) error {
		u, err := r.Users.GetForUpdate(ctx, userID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if u == nil {
			return apperr.NotFound("User not found.")
		}
		now := s.Now().UTC()
		expiry := now.Add(s.cfg.ResetTokenTTL)
		u.ResetToken = &token
		u.ResetTokenExpiry = &expiry
		if err := r.Users.Update(ctx, u); err != nil {
			return apperr.Unexpected(err)
		}
		if err := logActivity(ctx, r, u.UserID, "password_reset_requested", "", now); err != nil {
			return apperr.Unexpected(err)
		}
		email = u.Email
		return nil
	})
	if err != nil {
		return "", err
	}
	if s.mailer != nil {
		m := notify.Mail{
			To:      email,
			Subject: "Password Reset",
			Body:    fmt.Sprintf("Use this token to reset your password within %s:\n%s", s.cfg.ResetTokenTTL, token),
		}
		if err := s.mailer.Send(ctx, m); err != nil {
			s.log.Warn("reset mail failed", "user_id", userID, "error", err)
		}
	}
	return token, nil
}

// ResetPassword replaces the password when token matches and has not expired.
func (s *Service) ResetPassword(ctx context.Context, userID, token, newPassword string) error {
	if userID == "" || token == "" || newPassword == "" {
		return apperr.Validation("All fields are required.")
	}
	return s.store.WithTx(ctx, func(r repo.Repos) error {
		u, err := r.Users.GetForUpdate(ctx, userID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		now := s.Now().UTC()
		if u == nil || u.ResetToken == nil || u.ResetTokenExpiry == nil ||
			subtle.ConstantTimeCompare([]byte(*u.ResetToken), []byte(token)) != 1 ||
			u.ResetTokenExpiry.Before(now) {
			return apperr.Validation("Invalid or expired reset token.")
		}
		if err := s.passwordProblem(newPassword, u.UserID, u.Name, u.Email); err != nil {
			return err
		}
		hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
		if err != nil {
			return apperr.Unexpected(err)
		}
		u.PasswordHash = hash
		u.ResetToken = nil
		u.ResetTokenExpiry = nil
		if err := r.Users.Update(ctx, u); err != nil {
			return apperr.Unexpected(err)
		}
		if err := logActivity(ctx, r, u.UserID, "password_reset", "", now); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
}

// ChangePassword replaces the password of an authenticated user.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return apperr.Validation("Old and new passwords are required.")
	}
	return s.store.WithTx(ctx, func(r repo.Repos) error {
		u, err := r.Users.GetForUpdate(ctx, userID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if u == nil {
			return apperr.NotFound("User not found.")
		}
		if !CheckPassword(u.PasswordHash, oldPassword) {
			return apperr.Validation("Current password is incorrect.")
		}
		if err := s.passwordProblem(newPassword, u.UserID, u.Name, u.Email); err != nil {
			return err
		}
		hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
		if err != nil {
			return apperr.Unexpected(err)
		}
		u.PasswordHash = hash
		if err := r.Users.Update(ctx, u); err != nil {
			return apperr.Unexpected(err)
		}
		if err := logActivity(ctx, r, u.UserID, "password_change", "", s.Now().UTC()); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
}
