// Package handler exposes the services over JSON/HTTP. Every body is an
// envelope {"status": "success"|"error", ...}.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"campusattend/internal/analytics"
	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/cloudinary"
	"campusattend/internal/correction"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/identity"
	"campusattend/internal/model"
	"campusattend/internal/notify"
	"campusattend/internal/timetable"
)

// Handler holds the services behind the routes.
type Handler struct {
	Identity    *identity.Service
	Timetable   *timetable.Service
	Attendance  *attendance.Service
	Corrections *correction.Service
	Notify      *notify.Service
	Analytics   *analytics.Service
	// Charts uploads rendered charts when configured; nil disables chart_url.
	Charts *cloudinary.Client

	Loc *time.Location
	// Production hides unexpected error text from clients.
	Production       bool
	ExposeResetToken bool
	Log              *slog.Logger
}

// RouterConfig carries the transport settings of NewRouter.
type RouterConfig struct {
	ServiceName     string
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	// Health maps a dependency name to its probe for /healthz.
	Health map[string]func(context.Context) bool
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	if h.Log == nil {
		h.Log = slog.Default()
	}
	if h.Loc == nil {
		h.Loc = time.UTC
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpmiddleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(cfg.Health))

	requireUser := auth.UserAuth(cfg.SigningKey, cfg.Issuer)

	shared := r.Group("/shared")
	shared.POST("/register", h.register)
	shared.POST("/login", h.login)
	shared.POST("/forgot_password", h.forgotPassword)
	shared.POST("/reset_password", h.resetPassword)
	shared.POST("/refresh", requireUser, h.refresh)
	shared.POST("/change_password", requireUser, h.changePassword)

	// Any authenticated user may keep a ledger; faculty check in too.
	student := r.Group("/student", requireUser)
	student.POST("/mark_attendance", h.markAttendance)
	student.POST("/checkout", h.checkout)
	student.GET("/attendance_history", h.attendanceHistory)
	student.GET("/search", h.search)
	student.GET("/summary", h.summary)
	student.GET("/attendance_report", h.attendanceReport)
	student.GET("/attendance_chart", h.attendanceChart)
	student.GET("/attendance_analytics", h.attendanceAnalytics)
	student.GET("/view_timetable", h.studentTimetable)
	student.GET("/notify_upcoming_classes", h.upcomingClasses)
	student.POST("/request_correction", h.requestCorrection)
	student.GET("/profile", h.getProfile(model.RoleStudent))
	student.PUT("/profile", h.updateProfile(model.RoleStudent))

	faculty := r.Group("/faculty", requireUser, auth.RequireRole(string(model.RoleFaculty)))
	faculty.POST("/enter_timetable", h.enterTimetable)
	faculty.POST("/import_timetable", h.importTimetable)
	faculty.GET("/view_timetable", h.facultyTimetable)
	faculty.GET("/attendance_statistics", h.attendanceStatistics)
	faculty.GET("/student_analytics", h.studentAnalytics)
	faculty.GET("/overall_analytics", h.overallAnalytics)
	faculty.GET("/students_by_attendance", h.studentsByAttendance)
	faculty.GET("/detained_students", h.detainedStudents)
	faculty.GET("/export_attendance", h.exportAttendance)
	faculty.GET("/pending_requests", h.pendingRequests)
	faculty.POST("/decide_request", h.decideRequest)
	faculty.GET("/notifications", h.notifications)
	faculty.POST("/notifications", h.markNotificationRead)
	faculty.GET("/profile", h.getProfile(model.RoleFaculty))
	faculty.PUT("/profile", h.updateProfile(model.RoleFaculty))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Resource not found."})
	})
	return r
}

func healthz(probes map[string]func(context.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		body := gin.H{}
		status, state := http.StatusOK, "ok"
		for name, probe := range probes {
			healthy := probe(ctx)
			body[name] = healthy
			if !healthy {
				status, state = http.StatusServiceUnavailable, "degraded"
			}
		}
		body["status"] = state
		c.JSON(status, body)
	}
}

const maxErrorText = 200

// fail renders err as an error envelope. Unexpected errors are logged; their
// text is hidden in production and truncated otherwise.
func (h *Handler) fail(c *gin.Context, err error) {
	e := apperr.As(err)
	msg := e.Error()
	if e.Kind == apperr.KindUnexpected {
		h.Log.Error("request failed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"request_id", httpmiddleware.GetRequestID(c),
			"error", err)
		switch {
		case h.Production || msg == "":
			msg = "An unexpected error occurred."
		default:
			msg = truncate(msg, maxErrorText)
		}
	}
	body := gin.H{"status": "error", "message": msg}
	if len(e.Suggestions) > 0 {
		body["suggestions"] = e.Suggestions
	}
	c.AbortWithStatusJSON(e.HTTPStatus(), body)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func success(c *gin.Context, code int, fields gin.H) {
	body := gin.H{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(code, body)
}

// bind decodes a JSON body into v. An empty body leaves v zero so the
// services report which fields are missing.
func (h *Handler) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		h.fail(c, apperr.Validation("Request body must be valid JSON."))
		return false
	}
	return true
}

// caller returns the authenticated user id.
func caller(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.UserID
}
