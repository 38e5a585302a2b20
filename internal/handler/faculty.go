package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"campusattend/internal/analytics"
	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/correction"
	"campusattend/internal/export"
	"campusattend/internal/timetable"
)

const maxImportSize = 5 << 20

func (h *Handler) enterTimetable(c *gin.Context) {
	var in timetable.EntryInput
	if !h.bind(c, &in) {
		return
	}
	entry, err := h.Timetable.Enter(c.Request.Context(), caller(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, gin.H{"message": "Timetable entered successfully.", "data": entry})
}

func (h *Handler) importTimetable(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		h.fail(c, apperr.Validation("An .xlsx file is required in the file field."))
		return
	}
	if fh.Size > maxImportSize {
		h.fail(c, apperr.Validation("Timetable file is too large."))
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, apperr.Unexpected(err))
		return
	}
	defer f.Close()

	n, err := h.Timetable.Import(c.Request.Context(), caller(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, gin.H{"message": fmt.Sprintf("Imported %d timetable entries.", n), "imported": n})
}

func (h *Handler) facultyTimetable(c *gin.Context) {
	entries, err := h.Timetable.List(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"data": entries})
}

func (h *Handler) attendanceStatistics(c *gin.Context) {
	stats, err := h.Analytics.FacultyStatistics(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"data": stats})
}

func (h *Handler) studentAnalytics(c *gin.Context) {
	rep, err := h.Analytics.StudentAnalytics(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	trend := make([]gin.H, 0, len(rep.Trend))
	for _, p := range analytics.Series(rep.Trend) {
		trend = append(trend, gin.H{"date": p.X, "attendance_rate": p.Y})
	}
	success(c, http.StatusOK, gin.H{"data": gin.H{
		"students":          studentStats(rep.Students),
		"attendance_trend":  trend,
		"zone_distribution": rep.Zones,
	}})
}

func (h *Handler) overallAnalytics(c *gin.Context) {
	rate, err := h.Analytics.Overall(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"data": gin.H{"attendance": analytics.Round2(rate)}})
}

func (h *Handler) studentsByAttendance(c *gin.Context) {
	pct, err := strconv.ParseFloat(strings.TrimSpace(c.Query("percentage")), 64)
	if err != nil {
		h.fail(c, apperr.Validation("Percentage parameter is required"))
		return
	}
	stats, err := h.Analytics.StudentsByAttendance(c.Request.Context(), pct)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"data": studentStats(stats)})
}

func (h *Handler) detainedStudents(c *gin.Context) {
	stats, err := h.Analytics.DetainedStudents(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"data": studentStats(stats)})
}

func (h *Handler) exportAttendance(c *gin.Context) {
	format, err := export.Lookup(c.Query("format"))
	if err != nil {
		h.fail(c, err)
		return
	}
	from, err := attendance.ParseBound(c.Query("start_date"), false, h.Loc)
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := attendance.ParseBound(c.Query("end_date"), true, h.Loc)
	if err != nil {
		h.fail(c, err)
		return
	}
	stats, err := h.Analytics.Students(c.Request.Context(), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	body, err := format.Render(export.Rows(stats))
	if err != nil {
		h.fail(c, apperr.Unexpected(err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.Filename()))
	c.Data(http.StatusOK, format.ContentType, body)
}

func (h *Handler) pendingRequests(c *gin.Context) {
	list, err := h.Corrections.Pending(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]correctionView, 0, len(list))
	for _, cr := range list {
		out = append(out, h.correction(cr))
	}
	success(c, http.StatusOK, gin.H{"data": out})
}

func (h *Handler) decideRequest(c *gin.Context) {
	var req struct {
		RequestID string `json:"request_id"`
		Decision  string `json:"decision"`
		NewStatus string `json:"new_status"`
	}
	if !h.bind(c, &req) {
		return
	}
	cr, err := h.Corrections.Decide(c.Request.Context(), caller(c), correction.Decision{
		RequestID: req.RequestID,
		Decision:  req.Decision,
		NewStatus: req.NewStatus,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"message": "Correction request " + string(cr.Status) + ".", "data": h.correction(cr)})
}

func (h *Handler) notifications(c *gin.Context) {
	list, err := h.Notify.Unread(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]notificationView, 0, len(list))
	for _, n := range list {
		out = append(out, h.notification(n))
	}
	success(c, http.StatusOK, gin.H{"notifications": out})
}

func (h *Handler) markNotificationRead(c *gin.Context) {
	var req struct {
		NotificationID string `json:"notification_id"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.Notify.MarkRead(c.Request.Context(), caller(c), req.NotificationID); err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"message": "Notification marked as read"})
}
