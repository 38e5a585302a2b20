package identity

import (
	"context"
	"strings"

	"campusattend/internal/apperr"
	"campusattend/internal/model"
	"campusattend/internal/repo"
)

// ProfileUpdate carries the fields a user may change. Nil means unchanged.
// Fields that do not belong to the user's role are ignored.
type ProfileUpdate struct {
	Name       *string
	Email      *string
	Year       *string
	Branch     *string
	Department *string
}

func profileNotFound(role model.Role) error {
	if role == model.RoleFaculty {
		return apperr.NotFound("Faculty not found")
	}
	return apperr.NotFound("Student not found")
}

// Profile returns userID's record if it has the given role.
func (s *Service) Profile(ctx context.Context, userID string, role model.Role) (*model.User, error) {
	var u *model.User
	err := s.store.View(ctx, func(r repo.Repos) error {
		var err error
		if u, err = r.Users.GetByUserID(ctx, userID); err != nil {
			return apperr.Unexpected(err)
		}
		if u == nil || u.Role() != role {
			return profileNotFound(role)
		}
		return nil
	})
	return u, err
}

// UpdateProfile applies upd to userID's record. The profile variant, and with
// it the role, never changes.
func (s *Service) UpdateProfile(ctx context.Context, userID string, role model.Role, upd ProfileUpdate) (*model.User, error) {
	var out *model.User
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		u, err := r.Users.GetForUpdate(ctx, userID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if u == nil || u.Role() != role {
			return profileNotFound(role)
		}
		if upd.Name != nil {
			if strings.TrimSpace(*upd.Name) == "" {
				return apperr.Validation("Name cannot be empty.")
			}
			u.Name = *upd.Name
		}
		if upd.Email != nil {
			email := strings.TrimSpace(*upd.Email)
			if email == "" {
				return apperr.Validation("Email cannot be empty.")
			}
			if !strings.EqualFold(email, u.Email) {
				dup, err := r.Users.GetByEmail(ctx, email)
				if err != nil {
					return apperr.Unexpected(err)
				}
				if dup != nil {
					return apperr.Validation("Email already registered.")
				}
			}
			u.Email = email
		}
		switch p := u.Profile.(type) {
		case model.Student:
			if upd.Year != nil {
				p.Year = strings.TrimSpace(*upd.Year)
			}
			if upd.Branch != nil {
				p.Branch = strings.TrimSpace(*upd.Branch)
			}
			if p.Year == "" || p.Branch == "" {
				return apperr.Validation(msgStudentFields)
			}
			u.Profile = p
		case model.Faculty:
			if upd.Department != nil {
				p.Department = strings.TrimSpace(*upd.Department)
			}
			if p.Department == "" {
				return apperr.Validation(msgFacultyFields)
			}
			u.Profile = p
		}
		if err := r.Users.Update(ctx, u); err != nil {
			return apperr.Unexpected(err)
		}
		out = u
		return nil
	})
	return out, err
}
