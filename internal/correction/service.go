// Package correction runs the dispute workflow for attendance records:
// students submit requests and faculty approve or reject them.
package correction

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"campusattend/internal/apperr"
	"campusattend/internal/metrics"
	"campusattend/internal/model"
	"campusattend/internal/repo"
)

// Service implements submission, listing and decisions.
type Service struct {
	store repo.Store
	// strict requires the disputed record to exist and belong to the requester.
	strict bool
	log    *slog.Logger

	Now func() time.Time
}

// NewService builds the workflow. With strict false any attendance id is
// accepted.
func NewService(store repo.Store, strict bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, strict: strict, log: logger, Now: time.Now}
}

// Submit files a pending request against attendanceID.
func (s *Service) Submit(ctx context.Context, userID, attendanceID, reason string) (model.CorrectionRequest, error) {
	attendanceID = strings.TrimSpace(attendanceID)
	if attendanceID == "" || strings.TrimSpace(reason) == "" {
		return model.CorrectionRequest{}, apperr.Validation("Attendance ID and reason are required.")
	}
	now := s.Now().UTC()
	req := model.CorrectionRequest{
		UserID:       userID,
		AttendanceID: attendanceID,
		Reason:       reason,
		Status:       model.CorrectionPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		if s.strict {
			rec, err := r.Attendance.Get(ctx, attendanceID)
			if err != nil {
				return apperr.Unexpected(err)
			}
			if rec == nil || rec.UserID != userID {
				return apperr.NotFound("Attendance record not found.")
			}
		}
		if err := r.Corrections.Insert(ctx, &req); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
	if err != nil {
		return model.CorrectionRequest{}, err
	}
	metrics.Corrections.WithLabelValues(string(model.CorrectionPending)).Inc()
	return req, nil
}

func requireFaculty(ctx context.Context, r repo.Repos, userID string) error {
	u, err := r.Users.GetByUserID(ctx, userID)
	if err != nil {
		return apperr.Unexpected(err)
	}
	if u == nil || u.Role() != model.RoleFaculty {
		return apperr.Forbidden("Access denied")
	}
	return nil
}

// Pending lists every pending request, oldest first.
func (s *Service) Pending(ctx context.Context, facultyID string) ([]model.CorrectionRequest, error) {
	var out []model.CorrectionRequest
	err := s.store.View(ctx, func(r repo.Repos) error {
		if err := requireFaculty(ctx, r, facultyID); err != nil {
			return err
		}
		var err error
		if out, err = r.Corrections.ListByStatus(ctx, model.CorrectionPending); err != nil {
			return apperr.Unexpected(err)
		}
		return nil
	})
	return out, err
}

// Decision is a reviewer's verdict. NewStatus, when set on an approval, is
// written to the disputed record.
type Decision struct {
	RequestID string
	Decision  string
	NewStatus string
}

// Decide moves a pending request to approved or rejected.
func (s *Service) Decide(ctx context.Context, facultyID string, d Decision) (model.CorrectionRequest, error) {
	verdict := model.CorrectionStatus(strings.ToLower(strings.TrimSpace(d.Decision)))
	if d.RequestID == "" {
		return model.CorrectionRequest{}, apperr.Validation("Request ID is required.")
	}
	if verdict != model.CorrectionApproved && verdict != model.CorrectionRejected {
		return model.CorrectionRequest{}, apperr.Validation("Decision must be approved or rejected.")
	}
	newStatus := model.AttendanceStatus(strings.ToLower(strings.TrimSpace(d.NewStatus)))
	if newStatus != "" && !newStatus.Valid() {
		return model.CorrectionRequest{}, apperr.Validation("Invalid status")
	}

	var out model.CorrectionRequest
	err := s.store.WithTx(ctx, func(r repo.Repos) error {
		if err := requireFaculty(ctx, r, facultyID); err != nil {
			return err
		}
		// Locking the request makes the pending check and the write atomic
		// across concurrent reviewers.
		req, err := r.Corrections.GetForUpdate(ctx, d.RequestID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		if req == nil {
			return apperr.NotFound("Correction request not found.")
		}
		if req.Status != model.CorrectionPending {
			return apperr.State("Correction request has already been decided.")
		}

		reviewer := facultyID
		req.Status = verdict
		req.ReviewedBy = &reviewer
		req.UpdatedAt = s.Now().UTC()
		if err := r.Corrections.Update(ctx, req); err != nil {
			return apperr.Unexpected(err)
		}

		if verdict == model.CorrectionApproved && newStatus != "" {
			rec, err := r.Attendance.Get(ctx, req.AttendanceID)
			if err != nil {
				return apperr.Unexpected(err)
			}
			if rec == nil {
				return apperr.NotFound("Attendance record not found.")
			}
			rec.Status = newStatus
			if err := r.Attendance.Update(ctx, rec); err != nil {
				return apperr.Unexpected(err)
			}
		}
		out = *req
		return nil
	})
	if err != nil {
		return model.CorrectionRequest{}, err
	}
	metrics.Corrections.WithLabelValues(string(verdict)).Inc()
	s.log.Info("correction decided", "request_id", out.ID, "decision", verdict, "reviewer", facultyID)
	return out, nil
}
