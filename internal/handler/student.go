package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"campusattend/internal/analytics"
	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/export"
)

func (h *Handler) markAttendance(c *gin.Context) {
	var req struct {
		WifiName  string `json:"wifi_name"`
		BlockName string `json:"block_name"`
	}
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Attendance.CheckIn(c.Request.Context(), caller(c), req.WifiName, req.BlockName)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"message":  "Attendance marked successfully.",
		"data":     h.record(res.Record),
		"notified": res.Notification != nil,
	})
}

func (h *Handler) checkout(c *gin.Context) {
	rec, err := h.Attendance.CheckOut(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"message": "Checked out successfully.", "data": h.record(rec)})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (h *Handler) attendanceHistory(c *gin.Context) {
	page, err := h.Attendance.History(c.Request.Context(), caller(c), queryInt(c, "page", 1), queryInt(c, "per_page", 10))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"data":        h.records(page.Records),
		"page":        page.Page,
		"per_page":    page.PerPage,
		"total_pages": page.TotalPages,
		"total_items": page.TotalItems,
	})
}

func (h *Handler) search(c *gin.Context) {
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
	recs, err := h.Attendance.Search(c.Request.Context(), caller(c), c.Query("query"), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"data": h.searchResults(recs)})
}

func (h *Handler) summary(c *gin.Context) {
	s, err := h.Analytics.StudentSummary(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"data": gin.H{
		"total_classes":         s.Total,
		"attended_classes":      s.Attended,
		"late_classes":          s.Late,
		"attendance_percentage": analytics.Round2(s.Percent()),
		"zone":                  analytics.ZoneOf(s.Percent()),
	}})
}

func (h *Handler) attendanceReport(c *gin.Context) {
	weeks, err := h.Analytics.WeeklyReport(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	report := make([]gin.H, 0, len(weeks))
	for _, w := range weeks {
		report = append(report, gin.H{"week": w.Label, "total_periods": w.Total, "attended_periods": w.Attended})
	}
	success(c, http.StatusOK, gin.H{"data": gin.H{"weekly_report": report}})
}

// renderChart draws points and, when uploads are configured, publishes the
// PNG under publicID. Upload failures only drop the URL.
func (h *Handler) renderChart(ctx context.Context, publicID, title, xLabel string, points []analytics.Point) (string, string, error) {
	png, err := export.LineChartPNG(title, xLabel, points)
	if err != nil {
		return "", "", apperr.Unexpected(err)
	}
	var url string
	if h.Charts != nil && len(png) > 0 {
		res, err := h.Charts.UploadPNG(ctx, png, publicID)
		if err != nil {
			h.Log.Warn("chart upload failed", "public_id", publicID, "error", err)
		} else {
			url = res.SecureURL
		}
	}
	return export.Base64(png), url, nil
}

func (h *Handler) attendanceChart(c *gin.Context) {
	userID := caller(c)
	weeks, err := h.Analytics.WeeklyTrend(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	points := analytics.Series(weeks)
	chart, url, err := h.renderChart(c.Request.Context(), userID+"-weekly", "Weekly Attendance Rate", "Week", points)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"chart": chart, "data": points}
	if url != "" {
		body["chart_url"] = url
	}
	success(c, http.StatusOK, body)
}

func (h *Handler) attendanceAnalytics(c *gin.Context) {
	userID := caller(c)
	daily, err := h.Analytics.DailyAnalytics(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	points := analytics.Series(daily.Days)
	rates := make(map[string]float64, len(points))
	for _, p := range points {
		rates[p.X] = p.Y
	}
	chart, url, err := h.renderChart(c.Request.Context(), userID+"-daily", "Attendance Rate Over Last 30 Days", "Date", points)
	if err != nil {
		h.fail(c, err)
		return
	}
	data := gin.H{
		"overall_attendance_rate": analytics.Round2(daily.Overall),
		"daily_attendance_rates":  rates,
		"attendance_chart":        chart,
	}
	if url != "" {
		data["chart_url"] = url
	}
	success(c, http.StatusOK, gin.H{"data": data})
}

func (h *Handler) studentTimetable(c *gin.Context) {
	entries, err := h.Timetable.StudentTimetable(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"timetable": entries})
}

func (h *Handler) upcomingClasses(c *gin.Context) {
	classes, err := h.Notify.UpcomingClasses(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"message": "Notification sent", "data": classes})
}

func (h *Handler) requestCorrection(c *gin.Context) {
	var req struct {
		AttendanceID string `json:"attendance_id"`
		Reason       string `json:"reason"`
	}
	if !h.bind(c, &req) {
		return
	}
	cr, err := h.Corrections.Submit(c.Request.Context(), caller(c), req.AttendanceID, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"message": "Correction request submitted", "data": h.correction(cr)})
}
