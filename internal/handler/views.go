package handler

import (
	"time"

	"campusattend/internal/analytics"
	"campusattend/internal/model"
)

type recordView struct {
	ID           string  `json:"id"`
	CheckInTime  string  `json:"check_in_time"`
	CheckOutTime *string `json:"check_out_time"`
	BlockName    string  `json:"block_name"`
	Period       string  `json:"period"`
	WifiName     string  `json:"wifi_name"`
	// Duration is in whole minutes.
	Duration *int   `json:"duration"`
	Status   string `json:"status"`
}

func (h *Handler) record(r model.AttendanceRecord) recordView {
	v := recordView{
		ID:          r.ID,
		CheckInTime: r.CheckIn.In(h.Loc).Format(time.RFC3339),
		BlockName:   r.BlockName,
		Period:      r.Period,
		WifiName:    r.WifiName,
		Duration:    r.Duration,
		Status:      string(r.Status),
	}
	if r.CheckOut != nil {
		out := r.CheckOut.In(h.Loc).Format(time.RFC3339)
		v.CheckOutTime = &out
	}
	return v
}

func (h *Handler) records(rs []model.AttendanceRecord) []recordView {
	out := make([]recordView, 0, len(rs))
	for _, r := range rs {
		out = append(out, h.record(r))
	}
	return out
}

type searchView struct {
	ID           string  `json:"id"`
	Date         string  `json:"date"`
	Period       string  `json:"period"`
	BlockName    string  `json:"block_name"`
	Status       string  `json:"status"`
	CheckInTime  string  `json:"check_in_time"`
	CheckOutTime *string `json:"check_out_time"`
}

func (h *Handler) searchResults(rs []model.AttendanceRecord) []searchView {
	out := make([]searchView, 0, len(rs))
	for _, r := range rs {
		in := r.CheckIn.In(h.Loc)
		v := searchView{
			ID:          r.ID,
			Date:        in.Format("2006-01-02"),
			Period:      r.Period,
			BlockName:   r.BlockName,
			Status:      string(r.Status),
			CheckInTime: in.Format("15:04:05"),
		}
		if r.CheckOut != nil {
			s := r.CheckOut.In(h.Loc).Format("15:04:05")
			v.CheckOutTime = &s
		}
		out = append(out, v)
	}
	return out
}

type correctionView struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	AttendanceID string  `json:"attendance_id"`
	Reason       string  `json:"reason"`
	Status       string  `json:"status"`
	ReviewedBy   *string `json:"reviewed_by"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func (h *Handler) correction(c model.CorrectionRequest) correctionView {
	return correctionView{
		ID:           c.ID,
		UserID:       c.UserID,
		AttendanceID: c.AttendanceID,
		Reason:       c.Reason,
		Status:       string(c.Status),
		ReviewedBy:   c.ReviewedBy,
		CreatedAt:    c.CreatedAt.In(h.Loc).Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.In(h.Loc).Format(time.RFC3339),
	}
}

type notificationView struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
	IsRead    bool   `json:"is_read"`
}

func (h *Handler) notification(n model.Notification) notificationView {
	return notificationView{
		ID:        n.ID,
		StudentID: n.StudentID,
		Message:   n.Message,
		CreatedAt: n.CreatedAt.In(h.Loc).Format(time.RFC3339),
		IsRead:    n.IsRead,
	}
}

func profileView(u *model.User) map[string]any {
	v := map[string]any{
		"user_id": u.UserID,
		"name":    u.Name,
		"email":   u.Email,
		"role":    u.Role(),
	}
	switch p := u.Profile.(type) {
	case model.Student:
		v["year"] = p.Year
		v["branch"] = p.Branch
	case model.Faculty:
		v["department"] = p.Department
	}
	return v
}

type studentStatView struct {
	UserID               string  `json:"user_id"`
	Name                 string  `json:"name"`
	TotalClasses         int     `json:"total_classes"`
	AttendedClasses      int     `json:"attended_classes"`
	AttendancePercentage float64 `json:"attendance_percentage"`
	Zone                 string  `json:"zone"`
}

func studentStats(stats []analytics.StudentStat) []studentStatView {
	out := make([]studentStatView, 0, len(stats))
	for _, s := range stats {
		out = append(out, studentStatView{
			UserID:               s.UserID,
			Name:                 s.Name,
			TotalClasses:         s.Total,
			AttendedClasses:      s.Attended,
			AttendancePercentage: analytics.Round2(s.Percent()),
			Zone:                 string(analytics.ZoneOf(s.Percent())),
		})
	}
	return out
}
